package profile

import (
	"context"

	"github.com/medicheck/medicheck/internal/platform/apperr"
)

var (
	ErrNotFound = apperr.NotFound("profile not found")
	ErrExists   = apperr.Conflict("profile already exists")
)

// Repository stores profiles. Update replaces the whole record; concurrent
// updates are last-writer-wins.
type Repository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id string) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	ListByRole(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error)
}
