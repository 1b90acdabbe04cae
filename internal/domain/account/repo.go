package account

import (
	"context"

	"github.com/medicheck/medicheck/internal/platform/apperr"
)

var (
	ErrNotFound    = apperr.NotFound("account not found")
	ErrEmailExists = apperr.Conflict("an account with this email already exists")
)

type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Delete(ctx context.Context, id string) error
}
