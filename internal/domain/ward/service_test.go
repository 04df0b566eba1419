package ward_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjyoucef/inaya/internal/domain/audit"
	"github.com/bjyoucef/inaya/internal/domain/ward"
	"github.com/bjyoucef/inaya/internal/domain/ward/wardtest"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/cache"
	"github.com/bjyoucef/inaya/internal/platform/db/dbtest"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, string(e.EntityType)+":"+e.Action)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []cache.BedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev cache.BedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService() (*ward.Service, *wardtest.Memory, *recordingAudit) {
	mem := wardtest.NewMemory()
	rec := &recordingAudit{}
	svc := ward.NewService(mem, dbtest.NewTxRunner(mem), rec, zerolog.Nop())
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, mem, rec
}

func TestCreateService_Defaults(t *testing.T) {
	svc, _, rec := newTestService()
	cs := &ward.CareService{Code: " MED ", Name: "Medecine"}
	if err := svc.CreateService(context.Background(), cs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.Code != "MED" || cs.BillingMode != "nightly" || !cs.Active {
		t.Errorf("unexpected service %+v", cs)
	}
	if got := rec.actions(); len(got) != 1 || got[0] != "service:create" {
		t.Errorf("unexpected audit trail %v", got)
	}
}

func TestCreateService_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	neg := decimal.NewFromInt(-1)
	tests := []struct {
		name string
		cs   ward.CareService
	}{
		{"missing code", ward.CareService{Name: "x"}},
		{"missing name", ward.CareService{Code: "x"}},
		{"bad mode", ward.CareService{Code: "x", Name: "x", BillingMode: "weekly"}},
		{"negative rate", ward.CareService{Code: "x", Name: "x", BillingMode: "hourly", HourlyRate: &neg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := tt.cs
			if err := svc.CreateService(context.Background(), &cs); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateRoom(t *testing.T) {
	svc, mem, _ := newTestService()
	cs, _, _ := mem.Seed("MED", decimal.NewFromInt(15000), 1)

	room := &ward.Room{ServiceID: cs.ID, Number: "201", Capacity: 2, NightlyPrice: decimal.NewFromInt(20000)}
	if err := svc.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if room.RoomType != "standard" || !room.Active {
		t.Errorf("unexpected defaults %+v", room)
	}

	bad := &ward.Room{ServiceID: cs.ID, Number: "202", Capacity: 0, NightlyPrice: decimal.NewFromInt(1)}
	if err := svc.CreateRoom(context.Background(), bad); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected capacity validation, got %v", err)
	}
	neg := &ward.Room{ServiceID: cs.ID, Number: "203", Capacity: 1, NightlyPrice: decimal.NewFromInt(-5)}
	if err := svc.CreateRoom(context.Background(), neg); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected price validation, got %v", err)
	}
	orphan := &ward.Room{ServiceID: uuid.New(), Number: "1", Capacity: 1}
	if err := svc.CreateRoom(context.Background(), orphan); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected unknown service to be not found, got %v", err)
	}
}

func TestAddBed_RespectsCapacity(t *testing.T) {
	svc, mem, _ := newTestService()
	_, room, _ := mem.Seed("MED", decimal.NewFromInt(15000), 2)

	err := svc.AddBed(context.Background(), &ward.Bed{RoomID: room.ID, Label: "Z"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestAddBed_StartsCleanAndFree(t *testing.T) {
	svc, mem, rec := newTestService()
	cs, _, _ := mem.Seed("MED", decimal.NewFromInt(15000), 1)
	room := &ward.Room{ServiceID: cs.ID, Number: "300", Capacity: 2, NightlyPrice: decimal.NewFromInt(1)}
	require.NoError(t, svc.CreateRoom(context.Background(), room))

	bed := &ward.Bed{RoomID: room.ID, Label: "A"}
	require.NoError(t, svc.AddBed(context.Background(), bed))
	assert.Equal(t, ward.BedActive, bed.Status)
	assert.False(t, bed.Occupied)
	require.NotNil(t, bed.LastCleanedAt)
	assert.True(t, bed.LastCleanedAt.Equal(fixedNow))
	assert.Contains(t, rec.actions(), "bed:create")
}

func TestDeleteRoom_RejectsOccupiedBeds(t *testing.T) {
	svc, mem, _ := newTestService()
	_, room, beds := mem.Seed("MED", decimal.NewFromInt(15000), 2)
	mem.SetBedOccupied(context.Background(), beds[0].ID, true, false)

	_, err := svc.DeleteRoom(context.Background(), room.ID)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	if _, ok := mem.Bed(beds[1].ID); !ok {
		t.Error("expected beds to survive the rejected delete")
	}
}

func TestDeleteRoom_NeverUsed(t *testing.T) {
	svc, mem, rec := newTestService()
	_, room, beds := mem.Seed("MED", decimal.NewFromInt(15000), 2)

	kept, err := svc.DeleteRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Nil(t, kept)
	if _, ok := mem.Bed(beds[0].ID); ok {
		t.Error("expected beds to cascade with the room")
	}
	assert.Contains(t, rec.actions(), "room:delete")
}

func TestDeleteRoom_WithHistoryDeactivates(t *testing.T) {
	svc, mem, rec := newTestService()
	_, room, beds := mem.Seed("MED", decimal.NewFromInt(15000), 2)
	mem.SetBedOccupied(context.Background(), beds[0].ID, true, false)
	mem.SetBedOccupied(context.Background(), beds[0].ID, false, true)

	kept, err := svc.DeleteRoom(context.Background(), room.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.False(t, kept.Active)

	stored, err := svc.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	for _, b := range beds {
		got, ok := mem.Bed(b.ID)
		require.True(t, ok, "beds with history must be kept")
		assert.Equal(t, ward.BedInactive, got.Status)
	}
	assert.Contains(t, rec.actions(), "room:deactivate")
}

func TestUpdateRoomPrice(t *testing.T) {
	svc, mem, rec := newTestService()
	_, room, _ := mem.Seed("MED", decimal.NewFromInt(15000), 1)

	updated, err := svc.UpdateRoomPrice(context.Background(), room.ID, decimal.NewFromInt(18000))
	require.NoError(t, err)
	assert.True(t, updated.NightlyPrice.Equal(decimal.NewFromInt(18000)))
	assert.Contains(t, rec.actions(), "room:price_change")

	_, err = svc.UpdateRoomPrice(context.Background(), room.ID, decimal.NewFromInt(-1))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestSetBedStatus(t *testing.T) {
	svc, mem, _ := newTestService()
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	_, _, beds := mem.Seed("MED", decimal.NewFromInt(15000), 2)

	bed, err := svc.SetBedStatus(context.Background(), beds[0].ID, ward.BedMaintenance)
	require.NoError(t, err)
	assert.Equal(t, ward.BedMaintenance, bed.Status)
	require.Len(t, pub.events, 1)
	assert.Equal(t, cache.BedStatusChanged, pub.events[0].Type)

	mem.SetBedOccupied(context.Background(), beds[1].ID, true, false)
	_, err = svc.SetBedStatus(context.Background(), beds[1].ID, ward.BedInactive)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "occupied bed cannot leave service: %v", err)

	_, err = svc.SetBedStatus(context.Background(), beds[1].ID, "broken")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestMarkBedCleaned(t *testing.T) {
	svc, mem, _ := newTestService()
	_, _, beds := mem.Seed("MED", decimal.NewFromInt(15000), 2)
	mem.SetBedOccupied(context.Background(), beds[0].ID, false, true)

	bed, err := svc.MarkBedCleaned(context.Background(), beds[0].ID)
	require.NoError(t, err)
	assert.False(t, bed.NeedsCleaning())

	mem.SetBedOccupied(context.Background(), beds[1].ID, true, false)
	_, err = svc.MarkBedCleaned(context.Background(), beds[1].ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

func TestAvailableBeds_ExcludesOccupiedAndOutOfService(t *testing.T) {
	svc, mem, _ := newTestService()
	cs, _, beds := mem.Seed("MED", decimal.NewFromInt(15000), 3)
	mem.SetBedOccupied(context.Background(), beds[0].ID, true, false)
	mem.SetBedStatus(context.Background(), beds[1].ID, ward.BedMaintenance)
	mem.SetBedOccupied(context.Background(), beds[2].ID, false, true)

	avail, err := svc.AvailableBeds(context.Background(), cs.ID)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, beds[2].ID, avail[0].BedID)
	assert.True(t, avail[0].NeedsCleaning)

	_, err = svc.AvailableBeds(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestOccupancy_CachedUntilBedEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc, mem, _ := newTestService()
	svc.SetCache(cache.NewRedisStore(client, "test:"), time.Minute)
	cs, room, beds := mem.Seed("MED", decimal.NewFromInt(15000), 2)

	occ, err := svc.Occupancy(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, occ.OccupiedBeds)
	assert.True(t, mr.Exists("test:occupancy:"+cs.ID.String()))

	// Changed behind the service's back: the cached snapshot is still served.
	mem.SetBedOccupied(context.Background(), beds[0].ID, true, false)
	occ, err = svc.Occupancy(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, occ.OccupiedBeds)

	svc.NotifyBed(context.Background(), cache.BedEvent{Type: cache.BedOccupied, BedID: beds[0].ID, RoomID: room.ID, ServiceID: cs.ID})
	assert.False(t, mr.Exists("test:occupancy:"+cs.ID.String()))

	occ, err = svc.Occupancy(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, occ.OccupiedBeds)
	assert.Equal(t, 2, occ.TotalBeds)
	assert.Equal(t, float64(50), occ.Rate)
}

func TestOccupancy_CacheFailureFallsBackToRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc, mem, _ := newTestService()
	svc.SetCache(cache.NewRedisStore(client, "test:"), time.Minute)
	cs, _, _ := mem.Seed("MED", decimal.NewFromInt(15000), 2)
	mr.Close()

	occ, err := svc.Occupancy(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, occ.TotalBeds)
}
