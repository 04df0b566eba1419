// Package hospitalisationtest provides an in-memory hospitalisation.Repository.
// It enforces the same uniqueness rules as the Postgres indexes: one active
// admission per patient, one current assignment per bed and per admission.
package hospitalisationtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	h "github.com/bjyoucef/inaya/internal/domain/hospitalisation"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
)

type Memory struct {
	mu          sync.Mutex
	admissions  map[uuid.UUID]h.Admission
	assignments map[uuid.UUID]h.Assignment
	transfers   []h.Transfer
	requests    map[uuid.UUID]h.Request
	seq         int
	// insertion order of requests, a tie-breaker for equal created_at
	order map[uuid.UUID]int
}

func NewMemory() *Memory {
	return &Memory{
		admissions:  make(map[uuid.UUID]h.Admission),
		assignments: make(map[uuid.UUID]h.Assignment),
		requests:    make(map[uuid.UUID]h.Request),
		order:       make(map[uuid.UUID]int),
	}
}

func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	admissions := make(map[uuid.UUID]h.Admission, len(m.admissions))
	for k, v := range m.admissions {
		admissions[k] = v
	}
	assignments := make(map[uuid.UUID]h.Assignment, len(m.assignments))
	for k, v := range m.assignments {
		assignments[k] = v
	}
	requests := make(map[uuid.UUID]h.Request, len(m.requests))
	for k, v := range m.requests {
		requests[k] = v
	}
	transfers := append([]h.Transfer(nil), m.transfers...)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.admissions, m.assignments, m.requests, m.transfers = admissions, assignments, requests, transfers
	}
}

// Counts reports how many rows each table holds.
func (m *Memory) Counts() (admissions, assignments, transfers, requests int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admissions), len(m.assignments), len(m.transfers), len(m.requests)
}

// created hands out strictly increasing creation stamps so ordering by
// created_at is stable within a test.
func (m *Memory) created() time.Time {
	m.seq++
	return time.Date(2000, 1, 1, 0, 0, m.seq, 0, time.UTC)
}

// -- Admissions --

func (m *Memory) CreateAdmission(_ context.Context, adm *h.Admission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if adm.Active {
		for _, a := range m.admissions {
			if a.Active && a.PatientID == adm.PatientID {
				return apperr.DuplicateActiveAdmission("patient already has an active admission")
			}
		}
	}
	adm.ID = uuid.New()
	adm.CreatedAt = m.created()
	adm.UpdatedAt = adm.CreatedAt
	m.admissions[adm.ID] = *adm
	return nil
}

func (m *Memory) GetAdmission(_ context.Context, id uuid.UUID) (*h.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admissions[id]
	if !ok {
		return nil, apperr.NotFound("admission not found")
	}
	return &a, nil
}

func (m *Memory) LockAdmission(ctx context.Context, id uuid.UUID) (*h.Admission, error) {
	return m.GetAdmission(ctx, id)
}

func (m *Memory) UpdateAdmission(_ context.Context, adm *h.Admission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admissions[adm.ID]; !ok {
		return apperr.NotFound("admission not found")
	}
	m.admissions[adm.ID] = *adm
	return nil
}

func (m *Memory) FindActiveAdmission(_ context.Context, patientID uuid.UUID) (*h.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admissions {
		if a.Active && a.PatientID == patientID {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListAdmissions(_ context.Context, f h.AdmissionFilter, limit, offset int) ([]*h.Admission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*h.Admission
	for _, a := range m.admissions {
		if f.ServiceID != uuid.Nil && a.ServiceID != f.ServiceID {
			continue
		}
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.ActiveOnly && !a.Active {
			continue
		}
		a := a
		all = append(all, &a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return page(all, limit, offset), len(all), nil
}

// -- Ledger --

func (m *Memory) CreateAssignment(_ context.Context, a *h.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.assignments {
		if !cur.IsCurrent {
			continue
		}
		if cur.BedID == a.BedID {
			return apperr.BedUnavailable("bed already has a current assignment")
		}
		if cur.AdmissionID == a.AdmissionID {
			return apperr.InvalidTransition("admission already has a current assignment")
		}
	}
	a.ID = uuid.New()
	a.IsCurrent = true
	a.EndedAt = nil
	a.Cost = nil
	a.CreatedAt = m.created()
	m.assignments[a.ID] = *a
	return nil
}

func (m *Memory) CloseAssignment(_ context.Context, a *h.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assignments[a.ID]
	if !ok || !cur.IsCurrent {
		return apperr.InvalidTransition("assignment is not current")
	}
	cur.EndedAt = a.EndedAt
	cur.Cost = a.Cost
	cur.IsCurrent = false
	m.assignments[a.ID] = cur
	return nil
}

func (m *Memory) GetCurrentAssignment(_ context.Context, admissionID uuid.UUID) (*h.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.IsCurrent && a.AdmissionID == admissionID {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListAssignments(_ context.Context, admissionID uuid.UUID) ([]*h.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*h.Assignment
	for _, a := range m.assignments {
		if a.AdmissionID == admissionID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// -- Transfers --

func (m *Memory) CreateTransfer(_ context.Context, t *h.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = m.created()
	m.transfers = append(m.transfers, *t)
	return nil
}

func (m *Memory) ListTransfers(_ context.Context, admissionID uuid.UUID) ([]*h.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*h.Transfer
	for _, t := range m.transfers {
		if t.AdmissionID == admissionID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

// -- Requests --

func (m *Memory) CreateRequest(_ context.Context, r *h.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.created()
	}
	m.order[r.ID] = len(m.order)
	m.requests[r.ID] = *r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id uuid.UUID) (*h.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFound("admission request not found")
	}
	return &r, nil
}

func (m *Memory) LockRequest(ctx context.Context, id uuid.UUID) (*h.Request, error) {
	return m.GetRequest(ctx, id)
}

func (m *Memory) UpdateRequest(_ context.Context, r *h.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return apperr.NotFound("admission request not found")
	}
	m.requests[r.ID] = *r
	return nil
}

func (m *Memory) ListRequests(_ context.Context, f h.RequestFilter, limit, offset int) ([]*h.Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*h.Request
	for _, r := range m.requests {
		if f.ServiceID != uuid.Nil && r.ServiceID != f.ServiceID {
			continue
		}
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		r := r
		all = append(all, &r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return m.order[all[i].ID] < m.order[all[j].ID]
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return page(all, limit, offset), len(all), nil
}

func (m *Memory) FindWaitingRequest(_ context.Context, patientID, serviceID uuid.UUID) (*h.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.Status == h.RequestWaiting && r.PatientID == patientID && r.ServiceID == serviceID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindPendingTransferRequest(_ context.Context, admissionID uuid.UUID) (*h.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.Status == h.RequestWaiting && r.Origin == h.OriginTransfer &&
			r.AdmissionID != nil && *r.AdmissionID == admissionID {
			return &r, nil
		}
	}
	return nil, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
