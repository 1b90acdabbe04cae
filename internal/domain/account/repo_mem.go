package account

import (
	"context"
	"sync"
)

type repoMem struct {
	mu      sync.RWMutex
	byEmail map[string]Account
}

// NewRepoMem keeps accounts in process memory.
func NewRepoMem() Repository {
	return &repoMem{byEmail: make(map[string]Account)}
}

func (r *repoMem) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[a.Email]; ok {
		return ErrEmailExists
	}
	r.byEmail[a.Email] = *a
	return nil
}

func (r *repoMem) GetByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *repoMem) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for email, a := range r.byEmail {
		if a.ID == id {
			delete(r.byEmail, email)
		}
	}
	return nil
}
