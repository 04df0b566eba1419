// Package wardtest provides an in-memory ward.Repository for tests of the
// ward and hospitalisation services.
package wardtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/domain/ward"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
)

type Memory struct {
	mu       sync.Mutex
	services map[uuid.UUID]ward.CareService
	rooms    map[uuid.UUID]ward.Room
	beds     map[uuid.UUID]ward.Bed
	// assigned holds the beds that were ever occupied.
	assigned map[uuid.UUID]bool
}

func NewMemory() *Memory {
	return &Memory{
		services: make(map[uuid.UUID]ward.CareService),
		rooms:    make(map[uuid.UUID]ward.Room),
		beds:     make(map[uuid.UUID]ward.Bed),
		assigned: make(map[uuid.UUID]bool),
	}
}

func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	services := make(map[uuid.UUID]ward.CareService, len(m.services))
	for k, v := range m.services {
		services[k] = v
	}
	rooms := make(map[uuid.UUID]ward.Room, len(m.rooms))
	for k, v := range m.rooms {
		rooms[k] = v
	}
	beds := make(map[uuid.UUID]ward.Bed, len(m.beds))
	for k, v := range m.beds {
		beds[k] = v
	}
	assigned := make(map[uuid.UUID]bool, len(m.assigned))
	for k, v := range m.assigned {
		assigned[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.services, m.rooms, m.beds, m.assigned = services, rooms, beds, assigned
	}
}

// Seed adds a service with one room of the given price holding n beds and
// returns the service, the room and the beds.
func (m *Memory) Seed(code string, price decimal.Decimal, n int) (ward.CareService, ward.Room, []ward.Bed) {
	ctx := context.Background()
	svc := ward.CareService{Code: code, Name: code, BillingMode: "nightly", Active: true}
	m.CreateService(ctx, &svc)
	room := ward.Room{ServiceID: svc.ID, Number: code + "-1", RoomType: "standard", Capacity: n, NightlyPrice: price, Active: true}
	m.CreateRoom(ctx, &room)
	var beds []ward.Bed
	cleaned := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bed := ward.Bed{RoomID: room.ID, Label: string(rune('A' + i)), Status: ward.BedActive, LastCleanedAt: &cleaned}
		m.CreateBed(ctx, &bed)
		beds = append(beds, bed)
	}
	return svc, room, beds
}

// Bed returns the stored bed, or false.
func (m *Memory) Bed(id uuid.UUID) (ward.Bed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	return b, ok
}

// SetServiceBilling switches a service to hourly or nightly billing.
func (m *Memory) SetServiceBilling(id uuid.UUID, svc ward.CareService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.services[id]
	cur.BillingMode = svc.BillingMode
	cur.HourlyRate = svc.HourlyRate
	m.services[id] = cur
}

func (m *Memory) CreateService(_ context.Context, svc *ward.CareService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if s.Code == svc.Code {
			return apperr.Validation("service code %s already exists", svc.Code)
		}
	}
	svc.ID = uuid.New()
	svc.CreatedAt = time.Now()
	svc.UpdatedAt = svc.CreatedAt
	m.services[svc.ID] = *svc
	return nil
}

func (m *Memory) GetService(_ context.Context, id uuid.UUID) (*ward.CareService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, apperr.NotFound("service not found")
	}
	return &s, nil
}

func (m *Memory) ListServices(_ context.Context) ([]*ward.CareService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ward.CareService
	for _, s := range m.services {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateRoom(_ context.Context, room *ward.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ServiceID == room.ServiceID && r.Number == room.Number {
			return apperr.Validation("room %s already exists", room.Number)
		}
	}
	room.ID = uuid.New()
	room.CreatedAt = time.Now()
	room.UpdatedAt = room.CreatedAt
	m.rooms[room.ID] = *room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, id uuid.UUID) (*ward.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, apperr.NotFound("room not found")
	}
	return &r, nil
}

func (m *Memory) LockRoom(ctx context.Context, id uuid.UUID) (*ward.Room, error) {
	return m.GetRoom(ctx, id)
}

func (m *Memory) ListRooms(_ context.Context, serviceID uuid.UUID, limit, offset int) ([]*ward.Room, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ward.Room
	for _, r := range m.rooms {
		if serviceID != uuid.Nil && r.ServiceID != serviceID {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *Memory) UpdateRoomPrice(_ context.Context, id uuid.UUID, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return apperr.NotFound("room not found")
	}
	r.NightlyPrice = price
	m.rooms[id] = r
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	for bid, b := range m.beds {
		if b.RoomID == id {
			delete(m.beds, bid)
		}
	}
	return nil
}

func (m *Memory) RoomHasHistory(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for bid, b := range m.beds {
		if b.RoomID == id && m.assigned[bid] {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) DeactivateRoom(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[id]
	if !ok {
		return apperr.NotFound("room not found")
	}
	rm.Active = false
	m.rooms[id] = rm
	for bid, b := range m.beds {
		if b.RoomID == id {
			b.Status = ward.BedInactive
			m.beds[bid] = b
		}
	}
	return nil
}

func (m *Memory) CountBeds(_ context.Context, roomID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total, occupied int
	for _, b := range m.beds {
		if b.RoomID != roomID {
			continue
		}
		total++
		if b.Occupied {
			occupied++
		}
	}
	return total, occupied, nil
}

func (m *Memory) CreateBed(_ context.Context, bed *ward.Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.beds {
		if b.RoomID == bed.RoomID && b.Label == bed.Label {
			return apperr.Validation("bed %s already exists", bed.Label)
		}
	}
	bed.ID = uuid.New()
	bed.CreatedAt = time.Now()
	bed.UpdatedAt = bed.CreatedAt
	m.beds[bed.ID] = *bed
	return nil
}

func (m *Memory) GetBed(_ context.Context, id uuid.UUID) (*ward.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed not found")
	}
	return &b, nil
}

func (m *Memory) ListBeds(_ context.Context, roomID uuid.UUID) ([]*ward.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ward.Bed
	for _, b := range m.beds {
		if b.RoomID == roomID {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (m *Memory) LockBed(_ context.Context, id uuid.UUID) (*ward.BedDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed not found")
	}
	r := m.rooms[b.RoomID]
	s := m.services[r.ServiceID]
	return &ward.BedDetail{
		Bed:          b,
		ServiceID:    r.ServiceID,
		RoomActive:   r.Active,
		NightlyPrice: r.NightlyPrice,
		BillingMode:  s.BillingMode,
		HourlyRate:   s.HourlyRate,
	}, nil
}

func (m *Memory) SetBedOccupied(_ context.Context, id uuid.UUID, occupied, resetCleaning bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.beds[id]
	b.Occupied = occupied
	if occupied {
		m.assigned[id] = true
	}
	if resetCleaning {
		b.LastCleanedAt = nil
	}
	m.beds[id] = b
	return nil
}

func (m *Memory) SetBedStatus(_ context.Context, id uuid.UUID, status ward.BedStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.beds[id]
	b.Status = status
	m.beds[id] = b
	return nil
}

func (m *Memory) MarkBedCleaned(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.beds[id]
	b.LastCleanedAt = &at
	m.beds[id] = b
	return nil
}

func (m *Memory) ListAvailableBeds(_ context.Context, serviceID uuid.UUID) ([]*ward.AvailableBed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ward.AvailableBed
	for _, b := range m.beds {
		r := m.rooms[b.RoomID]
		if r.ServiceID != serviceID || !r.Active || b.Status != ward.BedActive || b.Occupied {
			continue
		}
		out = append(out, &ward.AvailableBed{
			BedID:         b.ID,
			Label:         b.Label,
			RoomID:        r.ID,
			RoomNumber:    r.Number,
			RoomType:      r.RoomType,
			NightlyPrice:  r.NightlyPrice,
			NeedsCleaning: b.LastCleanedAt == nil,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomNumber != out[j].RoomNumber {
			return out[i].RoomNumber < out[j].RoomNumber
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (m *Memory) Occupancy(_ context.Context, serviceID uuid.UUID) (*ward.Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ := &ward.Occupancy{ServiceID: serviceID, Rooms: []ward.RoomOccupancy{}}
	for _, r := range m.rooms {
		if r.ServiceID != serviceID {
			continue
		}
		ro := ward.RoomOccupancy{RoomID: r.ID, Number: r.Number, Capacity: r.Capacity}
		for _, b := range m.beds {
			if b.RoomID != r.ID {
				continue
			}
			ro.Beds++
			if b.Occupied {
				ro.Occupied++
			} else if b.Status != ward.BedActive || !r.Active {
				occ.OutOfService++
			}
		}
		occ.Rooms = append(occ.Rooms, ro)
	}
	sort.Slice(occ.Rooms, func(i, j int) bool { return occ.Rooms[i].Number < occ.Rooms[j].Number })
	occ.Summarize()
	return occ, nil
}
