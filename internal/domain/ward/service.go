package ward

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/domain/audit"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/cache"
	"github.com/bjyoucef/inaya/internal/platform/db"
	"github.com/bjyoucef/inaya/internal/pricing"
)

const defaultOccupancyTTL = 30 * time.Second

type Service struct {
	repo   Repository
	tx     db.TxRunner
	audit  audit.Recorder
	logger zerolog.Logger

	cache        cache.Store
	occupancyTTL time.Duration
	events       cache.Publisher

	now func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, rec audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		tx:           tx,
		audit:        rec,
		logger:       logger.With().Str("component", "ward").Logger(),
		cache:        cache.NopStore{},
		occupancyTTL: defaultOccupancyTTL,
		events:       cache.NopPublisher{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetCache attaches the store occupancy snapshots are cached in.
func (s *Service) SetCache(store cache.Store, ttl time.Duration) {
	s.cache = store
	if ttl > 0 {
		s.occupancyTTL = ttl
	}
}

// SetPublisher attaches the sink bed events are sent to.
func (s *Service) SetPublisher(p cache.Publisher) {
	s.events = p
}

// SetClock replaces the time source used for cleaning stamps and events.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Repo exposes the repository to packages that lock beds inside their own
// transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

func occupancyKey(serviceID uuid.UUID) string {
	return "occupancy:" + serviceID.String()
}

// -- Care services --

func (s *Service) CreateService(ctx context.Context, svc *CareService) error {
	svc.Code = strings.TrimSpace(svc.Code)
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.Code == "" {
		return apperr.Validation("code is required")
	}
	if svc.Name == "" {
		return apperr.Validation("name is required")
	}
	if svc.BillingMode == "" {
		svc.BillingMode = pricing.ModeNightly
	}
	if !svc.BillingMode.Valid() {
		return apperr.Validation("invalid billing_mode: %s", svc.BillingMode)
	}
	if svc.HourlyRate != nil && svc.HourlyRate.IsNegative() {
		return apperr.Validation("hourly_rate must not be negative")
	}
	svc.Active = true

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateService(ctx, svc); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityService, svc.ID, "create", svc))
	})
}

func (s *Service) GetService(ctx context.Context, id uuid.UUID) (*CareService, error) {
	return s.repo.GetService(ctx, id)
}

func (s *Service) ListServices(ctx context.Context) ([]*CareService, error) {
	return s.repo.ListServices(ctx)
}

// -- Rooms --

func (s *Service) CreateRoom(ctx context.Context, room *Room) error {
	room.Number = strings.TrimSpace(room.Number)
	if room.ServiceID == uuid.Nil {
		return apperr.Validation("service_id is required")
	}
	if room.Number == "" {
		return apperr.Validation("number is required")
	}
	if room.RoomType == "" {
		room.RoomType = "standard"
	}
	if !validRoomTypes[room.RoomType] {
		return apperr.Validation("invalid room_type: %s", room.RoomType)
	}
	if room.Capacity < 1 {
		return apperr.Validation("capacity must be at least 1")
	}
	if room.NightlyPrice.IsNegative() {
		return apperr.Validation("nightly_price must not be negative")
	}
	room.Active = true

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetService(ctx, room.ServiceID); err != nil {
			return err
		}
		if err := s.repo.CreateRoom(ctx, room); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityRoom, room.ID, "create", room))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, room.ServiceID)
	return nil
}

func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.repo.GetRoom(ctx, id)
}

func (s *Service) ListRooms(ctx context.Context, serviceID uuid.UUID, limit, offset int) ([]*Room, int, error) {
	return s.repo.ListRooms(ctx, serviceID, limit, offset)
}

// UpdateRoomPrice changes the price future assignments snapshot. Open
// assignments keep the price they were opened at.
func (s *Service) UpdateRoomPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*Room, error) {
	if price.IsNegative() {
		return nil, apperr.Validation("nightly_price must not be negative")
	}
	var room *Room
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.repo.LockRoom(ctx, id)
		if err != nil {
			return err
		}
		old := room.NightlyPrice
		if err := s.repo.UpdateRoomPrice(ctx, id, price); err != nil {
			return err
		}
		room.NightlyPrice = price
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityRoom, id, "price_change",
			map[string]decimal.Decimal{"from": old, "to": price}))
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// DeleteRoom removes a room and its beds. A room with an occupied bed cannot
// be deleted. A room whose beds carry assignment history is deactivated
// instead and returned; the result is nil when the room is gone.
func (s *Service) DeleteRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	var room *Room
	var kept bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.repo.LockRoom(ctx, id)
		if err != nil {
			return err
		}
		_, occupied, err := s.repo.CountBeds(ctx, id)
		if err != nil {
			return err
		}
		if occupied > 0 {
			return apperr.InvalidTransition("room %s has %d occupied bed(s)", room.Number, occupied)
		}
		kept, err = s.repo.RoomHasHistory(ctx, id)
		if err != nil {
			return err
		}
		if kept {
			if err := s.repo.DeactivateRoom(ctx, id); err != nil {
				return err
			}
			room.Active = false
			return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityRoom, id, "deactivate", nil))
		}
		if err := s.repo.DeleteRoom(ctx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityRoom, id, "delete", nil))
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, room.ServiceID)
	if kept {
		return room, nil
	}
	return nil, nil
}

// -- Beds --

// AddBed creates a clean, active bed in a room with spare capacity.
func (s *Service) AddBed(ctx context.Context, bed *Bed) error {
	bed.Label = strings.TrimSpace(bed.Label)
	if bed.RoomID == uuid.Nil {
		return apperr.Validation("room_id is required")
	}
	if bed.Label == "" {
		return apperr.Validation("label is required")
	}
	if bed.Status == "" {
		bed.Status = BedActive
	}
	if !bed.Status.Valid() {
		return apperr.Validation("invalid status: %s", bed.Status)
	}
	now := s.now()
	bed.LastCleanedAt = &now
	bed.Occupied = false

	var room *Room
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.repo.LockRoom(ctx, bed.RoomID)
		if err != nil {
			return err
		}
		total, _, err := s.repo.CountBeds(ctx, room.ID)
		if err != nil {
			return err
		}
		if total >= room.Capacity {
			return apperr.Validation("room %s is at capacity (%d)", room.Number, room.Capacity)
		}
		if err := s.repo.CreateBed(ctx, bed); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityBed, bed.ID, "create", bed))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, room.ServiceID)
	return nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetBed(ctx, id)
}

func (s *Service) ListBeds(ctx context.Context, roomID uuid.UUID) ([]*Bed, error) {
	if _, err := s.repo.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.repo.ListBeds(ctx, roomID)
}

// SetBedStatus moves a bed in or out of service. An occupied bed must be
// released before it can be taken out of service.
func (s *Service) SetBedStatus(ctx context.Context, id uuid.UUID, status BedStatus) (*Bed, error) {
	if !status.Valid() {
		return nil, apperr.Validation("invalid status: %s", status)
	}
	var detail *BedDetail
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		detail, err = s.repo.LockBed(ctx, id)
		if err != nil {
			return err
		}
		if detail.Occupied && status != BedActive {
			return apperr.InvalidTransition("bed %s is occupied", detail.Label)
		}
		old := detail.Status
		if err := s.repo.SetBedStatus(ctx, id, status); err != nil {
			return err
		}
		detail.Status = status
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityBed, id, "status_change",
			map[string]BedStatus{"from": old, "to": status}))
	})
	if err != nil {
		return nil, err
	}
	s.NotifyBed(ctx, s.bedEvent(cache.BedStatusChanged, detail))
	return &detail.Bed, nil
}

// MarkBedCleaned records housekeeping on a free bed.
func (s *Service) MarkBedCleaned(ctx context.Context, id uuid.UUID) (*Bed, error) {
	var detail *BedDetail
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		detail, err = s.repo.LockBed(ctx, id)
		if err != nil {
			return err
		}
		if detail.Occupied {
			return apperr.InvalidTransition("bed %s is occupied", detail.Label)
		}
		at := s.now()
		if err := s.repo.MarkBedCleaned(ctx, id, at); err != nil {
			return err
		}
		detail.LastCleanedAt = &at
		return s.audit.Record(ctx, audit.NewEntry(ctx, audit.EntityBed, id, "cleaned", nil))
	})
	if err != nil {
		return nil, err
	}
	s.NotifyBed(ctx, s.bedEvent(cache.BedCleaned, detail))
	return &detail.Bed, nil
}

// -- Availability --

// AvailableBeds lists the assignable beds of a service. Beds waiting for
// housekeeping are included and flagged.
func (s *Service) AvailableBeds(ctx context.Context, serviceID uuid.UUID) ([]*AvailableBed, error) {
	if _, err := s.repo.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	beds, err := s.repo.ListAvailableBeds(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if beds == nil {
		beds = []*AvailableBed{}
	}
	return beds, nil
}

// Occupancy returns the service's occupancy snapshot, served from the cache
// while it is fresh.
func (s *Service) Occupancy(ctx context.Context, serviceID uuid.UUID) (*Occupancy, error) {
	key := occupancyKey(serviceID)
	var cached Occupancy
	found, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("occupancy cache read failed")
	}
	if found {
		return &cached, nil
	}

	if _, err := s.repo.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	occ, err := s.repo.Occupancy(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	occ.ComputedAt = s.now()
	if err := s.cache.SetJSON(ctx, key, occ, s.occupancyTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("occupancy cache write failed")
	}
	return occ, nil
}

// NotifyBed drops the cached occupancy of the bed's service and publishes
// the event. Failures are logged; the change they report is already
// committed.
func (s *Service) NotifyBed(ctx context.Context, ev cache.BedEvent) {
	s.invalidate(ctx, ev.ServiceID)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", ev.Type).Str("bed_id", ev.BedID.String()).Msg("bed event not published")
	}
}

func (s *Service) invalidate(ctx context.Context, serviceID uuid.UUID) {
	if err := s.cache.Delete(ctx, occupancyKey(serviceID)); err != nil {
		s.logger.Warn().Err(err).Str("service_id", serviceID.String()).Msg("occupancy cache invalidation failed")
	}
}

func (s *Service) bedEvent(typ string, d *BedDetail) cache.BedEvent {
	return cache.BedEvent{
		Type:          typ,
		BedID:         d.ID,
		RoomID:        d.RoomID,
		ServiceID:     d.ServiceID,
		Status:        string(d.Status),
		NeedsCleaning: d.NeedsCleaning(),
		At:            s.now(),
	}
}
