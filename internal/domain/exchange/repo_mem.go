package exchange

import (
	"context"
	"sort"
	"sync"
	"time"
)

type reportRepoMem struct {
	mu    sync.RWMutex
	items map[string]Report
}

// NewReportRepoMem keeps reports in process memory.
func NewReportRepoMem() ReportRepository {
	return &reportRepoMem{items: make(map[string]Report)}
}

func cloneReport(r Report) *Report {
	r.PossibleConditions = append([]string{}, r.PossibleConditions...)
	r.SharedWith = append([]string{}, r.SharedWith...)
	r.ReadBy = append([]string{}, r.ReadBy...)
	return &r
}

func (r *reportRepoMem) Create(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[rep.ID] = *cloneReport(*rep)
	return nil
}

func (r *reportRepoMem) GetByID(_ context.Context, id string) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.items[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return cloneReport(rep), nil
}

func (r *reportRepoMem) AddReader(_ context.Context, id, doctorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.items[id]
	if !ok {
		return false, ErrReportNotFound
	}
	if contains(rep.ReadBy, doctorID) {
		return false, nil
	}
	rep.ReadBy = append(append([]string{}, rep.ReadBy...), doctorID)
	r.items[id] = rep
	return true, nil
}

func (r *reportRepoMem) ListByPatient(_ context.Context, patientID string) ([]*Report, error) {
	return r.list(func(rep *Report) bool { return rep.PatientID == patientID }), nil
}

func (r *reportRepoMem) ListSharedWith(_ context.Context, doctorID string) ([]*Report, error) {
	return r.list(func(rep *Report) bool { return rep.SharedWithDoctor(doctorID) }), nil
}

func (r *reportRepoMem) ListSharedByPatient(_ context.Context, doctorID, patientID string, since time.Time) ([]*Report, error) {
	return r.list(func(rep *Report) bool {
		return rep.PatientID == patientID && rep.SharedWithDoctor(doctorID) && !rep.Timestamp.Before(since)
	}), nil
}

func (r *reportRepoMem) list(keep func(*Report) bool) []*Report {
	r.mu.RLock()
	var out []*Report
	for _, rep := range r.items {
		if keep(&rep) {
			out = append(out, cloneReport(rep))
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

type messageRepoMem struct {
	mu    sync.RWMutex
	items map[string]Message
}

// NewMessageRepoMem keeps advice messages in process memory.
func NewMessageRepoMem() MessageRepository {
	return &messageRepoMem{items: make(map[string]Message)}
}

func (r *messageRepoMem) Create(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[m.ID] = *m
	return nil
}

func (r *messageRepoMem) GetByID(_ context.Context, id string) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

func (r *messageRepoMem) MarkRead(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return false, ErrMessageNotFound
	}
	if m.Read {
		return false, nil
	}
	m.Read = true
	r.items[id] = m
	return true, nil
}

func (r *messageRepoMem) ListByPatient(_ context.Context, patientID string) ([]*Message, error) {
	return r.list(func(m *Message) bool { return m.PatientID == patientID }), nil
}

func (r *messageRepoMem) ListByDoctor(_ context.Context, doctorID string) ([]*Message, error) {
	return r.list(func(m *Message) bool { return m.DoctorID == doctorID }), nil
}

func (r *messageRepoMem) ListByDoctorPatient(_ context.Context, doctorID, patientID string) ([]*Message, error) {
	return r.list(func(m *Message) bool { return m.DoctorID == doctorID && m.PatientID == patientID }), nil
}

func (r *messageRepoMem) UnreadCounts(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, m := range r.items {
		if !m.Read {
			counts[m.PatientID]++
		}
	}
	return counts, nil
}

func (r *messageRepoMem) list(keep func(*Message) bool) []*Message {
	r.mu.RLock()
	var out []*Message
	for _, m := range r.items {
		m := m
		if keep(&m) {
			out = append(out, &m)
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
