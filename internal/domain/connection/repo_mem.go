package connection

import (
	"context"
	"sort"
	"sync"
	"time"
)

type repoMem struct {
	mu    sync.RWMutex
	items map[string]Request
}

// NewRepoMem keeps connection requests in process memory.
func NewRepoMem() Repository {
	return &repoMem{items: make(map[string]Request)}
}

func (r *repoMem) Insert(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[req.ID]; ok {
		return ErrExists
	}
	for _, existing := range r.items {
		if existing.FromID == req.FromID && existing.ToID == req.ToID {
			return ErrExists
		}
	}
	req.UpdatedAt = req.Timestamp
	r.items[req.ID] = *req
	return nil
}

func (r *repoMem) Get(_ context.Context, id string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (r *repoMem) FindPair(_ context.Context, fromID, toID string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.items {
		if req.FromID == fromID && req.ToID == toID {
			out := req
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// update applies fn to the record under the write lock when it is in status.
func (r *repoMem) update(id string, status Status, fn func(*Request)) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != status {
		return nil, ErrStatusMismatch
	}
	fn(&req)
	r.items[id] = req
	return &req, nil
}

func (r *repoMem) Transition(_ context.Context, id string, from, to Status, tag string, at time.Time) (*Request, error) {
	return r.update(id, from, func(req *Request) {
		req.Status = to
		if tag != "" {
			req.MemberTag = tag
		}
		req.UpdatedAt = at
	})
}

func (r *repoMem) SetTag(_ context.Context, id, tag string, at time.Time) (*Request, error) {
	return r.update(id, StatusAccepted, func(req *Request) {
		req.MemberTag = tag
		req.UpdatedAt = at
	})
}

func (r *repoMem) DeleteIf(_ context.Context, id string, status Status) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != status {
		return nil, ErrStatusMismatch
	}
	delete(r.items, id)
	return &req, nil
}

func (r *repoMem) ListTo(_ context.Context, toID string, f Filter) ([]*Request, error) {
	return r.list(func(req *Request) bool { return req.ToID == toID && f.match(req) }), nil
}

func (r *repoMem) ListFrom(_ context.Context, fromID string, f Filter) ([]*Request, error) {
	return r.list(func(req *Request) bool { return req.FromID == fromID && f.match(req) }), nil
}

func (r *repoMem) list(keep func(*Request) bool) []*Request {
	r.mu.RLock()
	var out []*Request
	for _, req := range r.items {
		req := req
		if keep(&req) {
			out = append(out, &req)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
