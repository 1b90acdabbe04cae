package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

type repoMem struct {
	mu    sync.RWMutex
	items map[string]Appointment
}

// NewRepoMem keeps appointments in process memory.
func NewRepoMem() Repository {
	return &repoMem{items: make(map[string]Appointment)}
}

func (r *repoMem) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.UpdatedAt = a.Timestamp
	r.items[a.ID] = *a
	return nil
}

func (r *repoMem) GetByID(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *repoMem) Transition(_ context.Context, id string, from, to Status, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != from {
		return nil, ErrStatusMismatch
	}
	a.Status = to
	a.UpdatedAt = at
	r.items[id] = a
	return &a, nil
}

func (r *repoMem) ListByPatient(_ context.Context, patientID string) ([]*Appointment, error) {
	return r.newestFirst(func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *repoMem) ListByClinic(_ context.Context, clinicID string) ([]*Appointment, error) {
	return r.newestFirst(func(a *Appointment) bool { return a.ClinicID == clinicID }), nil
}

func (r *repoMem) ListByDate(_ context.Context, date string, status Status) ([]*Appointment, error) {
	out := r.filter(func(a *Appointment) bool { return a.Date == date && a.Status == status })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *repoMem) newestFirst(keep func(*Appointment) bool) []*Appointment {
	out := r.filter(keep)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *repoMem) filter(keep func(*Appointment) bool) []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.items {
		a := a
		if keep(&a) {
			out = append(out, &a)
		}
	}
	return out
}
