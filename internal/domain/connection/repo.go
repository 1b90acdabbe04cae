package connection

import (
	"context"
	"errors"
	"time"

	"github.com/medicheck/medicheck/internal/platform/apperr"
)

var (
	ErrNotFound = apperr.NotFound("connection request not found")
	// ErrExists is returned by Insert when the pair already has a record.
	ErrExists = errors.New("connection request already exists")
	// ErrStatusMismatch is returned when a conditional write finds the
	// record in another status.
	ErrStatusMismatch = errors.New("connection request status changed")
)

// Repository stores connection requests. Every status-dependent write is a
// single conditional statement, so check and write are atomic per record.
type Repository interface {
	Insert(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	FindPair(ctx context.Context, fromID, toID string) (*Request, error)
	// Transition moves the record from one status to another and sets the
	// member tag when tag is non-empty.
	Transition(ctx context.Context, id string, from, to Status, tag string, at time.Time) (*Request, error)
	// SetTag updates the member tag of an ACCEPTED record.
	SetTag(ctx context.Context, id, tag string, at time.Time) (*Request, error)
	// DeleteIf removes the record when it is in status and returns it.
	DeleteIf(ctx context.Context, id string, status Status) (*Request, error)
	ListTo(ctx context.Context, toID string, f Filter) ([]*Request, error)
	ListFrom(ctx context.Context, fromID string, f Filter) ([]*Request, error)
}
