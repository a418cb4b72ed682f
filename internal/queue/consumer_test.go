package queue

import (
    "context"
    "errors"
    "fmt"
    "io"
    "testing"

    "github.com/labstack/gommon/log"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/mock"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

type mockPaymentHandler struct{ mock.Mock }

func (m *mockPaymentHandler) HandlePaymentResult(ctx context.Context, orderID string, success bool, paymentRef string) error {
    return m.Called(ctx, orderID, success, paymentRef).Error(0)
}

func newConsumer(h PaymentHandler) *PaymentConsumer {
    l := log.New("test")
    l.SetOutput(io.Discard)
    return NewPaymentConsumer("", h, l)
}

func TestPaymentConsumer_Handle(t *testing.T) {
    tests := []struct {
        name    string
        body    string
        err     error
        call    bool
        verdict verdict
    }{
        {name: "paid", body: `{"order_id":"o-1","success":true,"payment_ref":"pay_1"}`, call: true, verdict: ack},
        {name: "already settled", body: `{"order_id":"o-1","success":true}`, err: fmt.Errorf("order: %w", model.ErrConflict), call: true, verdict: ack},
        {name: "unknown order", body: `{"order_id":"o-1","success":false}`, err: model.ErrNotFound, call: true, verdict: ack},
        {name: "transient", body: `{"order_id":"o-1","success":true}`, err: errors.New("db down"), call: true, verdict: requeue},
        {name: "malformed", body: `{"order_id":`, verdict: reject},
        {name: "missing order", body: `{"success":true}`, verdict: reject},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            h := &mockPaymentHandler{}
            if tt.call {
                h.On("HandlePaymentResult", mock.Anything, "o-1", mock.AnythingOfType("bool"), mock.AnythingOfType("string")).Return(tt.err).Once()
            }
            ctx := context.Background()
            if tt.verdict == requeue {
                var cancel context.CancelFunc
                ctx, cancel = context.WithCancel(ctx)
                cancel() // skip the pause before requeue
            }
            assert.Equal(t, tt.verdict, newConsumer(h).handle(ctx, []byte(tt.body)))
            h.AssertExpectations(t)
        })
    }
}
