package profile

import (
	"context"
	"sort"
	"sync"

	"github.com/medicheck/medicheck/pkg/pagination"
)

type repoMem struct {
	mu    sync.RWMutex
	items map[string]Profile
}

// NewRepoMem keeps profiles in process memory.
func NewRepoMem() Repository {
	return &repoMem{items: make(map[string]Profile)}
}

func (r *repoMem) Create(_ context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID]; ok {
		return ErrExists
	}
	r.items[p.ID] = clone(p)
	return nil
}

func (r *repoMem) GetByID(_ context.Context, id string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(&p)
	return &out, nil
}

func (r *repoMem) Update(_ context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID]; !ok {
		return ErrNotFound
	}
	r.items[p.ID] = clone(p)
	return nil
}

func (r *repoMem) ListByRole(_ context.Context, role Role, limit, offset int) ([]*Profile, int, error) {
	r.mu.RLock()
	var all []*Profile
	for _, p := range r.items {
		if p.Role == role {
			c := clone(&p)
			all = append(all, &c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].DisplayName != all[j].DisplayName {
			return all[i].DisplayName < all[j].DisplayName
		}
		return all[i].ID < all[j].ID
	})
	page, total := pagination.Window(all, pagination.Params{Limit: limit, Offset: offset})
	return page, total, nil
}

func clone(p *Profile) Profile {
	c := *p
	if p.Medical != nil {
		m := *p.Medical
		c.Medical = &m
	}
	if p.Doctor != nil {
		d := *p.Doctor
		d.SmallClinics = append([]string{}, p.Doctor.SmallClinics...)
		c.Doctor = &d
	}
	if p.Clinic != nil {
		cd := *p.Clinic
		cd.Facilities = append([]string{}, p.Clinic.Facilities...)
		cd.Staff = append([]string{}, p.Clinic.Staff...)
		cd.Images = append([]string{}, p.Clinic.Images...)
		c.Clinic = &cd
	}
	return c
}
