package utils

import (
    "testing"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
    tok, err := NewAccessToken("s3cret", 42, "CUSTOMER", 5)
    require.NoError(t, err)

    uid, role, err := ParseAccessToken("s3cret", tok.Token)
    require.NoError(t, err)
    assert.Equal(t, uint64(42), uid)
    assert.Equal(t, "CUSTOMER", role)
}

func TestParseAccessToken_Rejects(t *testing.T) {
    good, err := NewAccessToken("s3cret", 42, "CUSTOMER", 5)
    require.NoError(t, err)
    expired, err := NewAccessToken("s3cret", 42, "CUSTOMER", -5)
    require.NoError(t, err)
    noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "CUSTOMER"}).SignedString([]byte("s3cret"))
    require.NoError(t, err)

    cases := map[string]struct{ secret, raw string }{
        "wrong secret": {"other", good.Token},
        "expired":      {"s3cret", expired.Token},
        "garbage":      {"s3cret", "not-a-jwt"},
        "no subject":   {"s3cret", noSub},
    }
    for name, tc := range cases {
        t.Run(name, func(t *testing.T) {
            _, _, err := ParseAccessToken(tc.secret, tc.raw)
            assert.ErrorIs(t, err, ErrInvalidToken)
        })
    }
}

func TestPassword(t *testing.T) {
    hash, err := HashPassword("hunter22", 4)
    require.NoError(t, err)
    assert.True(t, VerifyPassword(hash, "hunter22"))
    assert.False(t, VerifyPassword(hash, "hunter23"))
}
