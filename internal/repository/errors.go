package repository

import (
    "database/sql"
    "errors"
    "fmt"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// ErrEmailExists is returned by user creation when the email is taken.
var ErrEmailExists = errors.New("email already exists")

// notFound converts sql.ErrNoRows into model.ErrNotFound so callers
// never depend on database/sql.  Other errors are wrapped with what.
func notFound(err error, what string) error {
    if errors.Is(err, sql.ErrNoRows) {
        return fmt.Errorf("%s: %w", what, model.ErrNotFound)
    }
    return fmt.Errorf("%s: %w", what, err)
}
