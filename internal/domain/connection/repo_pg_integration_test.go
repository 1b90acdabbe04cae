//go:build integration

package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/platform/db/dbtest"
)

func pendingRequest(fromID, toID string) *Request {
	return &Request{
		ID:        RequestID(profile.RolePatient, fromID, toID),
		FromID:    fromID,
		FromName:  "Asha",
		FromRole:  profile.RolePatient,
		ToID:      toID,
		ToName:    "Dr. Rao",
		ToRole:    profile.RoleDoctor,
		Status:    StatusPending,
		Timestamp: time.Now().UTC(),
	}
}

func TestRepoPG_InsertRejectsDuplicatePair(t *testing.T) {
	repo := NewRepoPG(dbtest.Pool(t))
	ctx := context.Background()
	p, d := "p-"+uuid.NewString(), "d-"+uuid.NewString()

	if err := repo.Insert(ctx, pendingRequest(p, d)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, pendingRequest(p, d)); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists for the same pair, got %v", err)
	}
	got, err := repo.FindPair(ctx, p, d)
	if err != nil || got.Status != StatusPending {
		t.Fatalf("FindPair: %+v %v", got, err)
	}
}

func TestRepoPG_ConcurrentAcceptOnlyOneWins(t *testing.T) {
	repo := NewRepoPG(dbtest.Pool(t))
	ctx := context.Background()
	req := pendingRequest("p-"+uuid.NewString(), "d-"+uuid.NewString())
	if err := repo.Insert(ctx, req); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, req.ID, StatusPending, StatusAccepted, "", time.Now().UTC())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrStatusMismatch):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one accept, got %d", wins)
	}
}

func TestRepoPG_ConditionalWrites(t *testing.T) {
	repo := NewRepoPG(dbtest.Pool(t))
	ctx := context.Background()
	doctor, clinic := "d-"+uuid.NewString(), "c-"+uuid.NewString()
	req := &Request{
		ID:        RequestID(profile.RoleDoctor, doctor, clinic),
		FromID:    doctor,
		FromName:  "Dr. Rao",
		FromRole:  profile.RoleDoctor,
		ToID:      clinic,
		ToName:    "Sunrise",
		ToRole:    profile.RoleClinic,
		Status:    StatusPending,
		Timestamp: time.Now().UTC(),
	}
	if err := repo.Insert(ctx, req); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := repo.SetTag(ctx, req.ID, "Owner", time.Now().UTC()); !errors.Is(err, ErrStatusMismatch) {
		t.Errorf("expected SetTag on PENDING to mismatch, got %v", err)
	}
	accepted, err := repo.Transition(ctx, req.ID, StatusPending, StatusAccepted, DefaultStaffTag, time.Now().UTC())
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if accepted.MemberTag != DefaultStaffTag {
		t.Errorf("expected tag %q, got %q", DefaultStaffTag, accepted.MemberTag)
	}
	staff, err := repo.ListTo(ctx, clinic, Filter{ToRole: profile.RoleClinic, Status: StatusAccepted})
	if err != nil || len(staff) != 1 {
		t.Fatalf("ListTo: %d %v", len(staff), err)
	}

	if _, err := repo.DeleteIf(ctx, req.ID, StatusPending); !errors.Is(err, ErrStatusMismatch) {
		t.Errorf("expected DeleteIf PENDING on ACCEPTED to mismatch, got %v", err)
	}
	if _, err := repo.DeleteIf(ctx, req.ID, StatusAccepted); err != nil {
		t.Fatalf("DeleteIf: %v", err)
	}
	if _, err := repo.Get(ctx, req.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := repo.DeleteIf(ctx, req.ID, StatusAccepted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}
