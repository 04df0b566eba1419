package bloc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/domain/audit"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/db"
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	audit  audit.Recorder
	logger zerolog.Logger
	tariff Tariff
	now    func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, rec audit.Recorder, logger zerolog.Logger, tariff Tariff) *Service {
	if tariff.BaseDuration < 0 {
		tariff.BaseDuration = DefaultTariff.BaseDuration
	}
	if tariff.TrancheDuration <= 0 {
		tariff.TrancheDuration = DefaultTariff.TrancheDuration
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		audit:  rec,
		logger: logger.With().Str("component", "bloc").Logger(),
		tariff: tariff,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) record(ctx context.Context, et audit.EntityType, id uuid.UUID, action string, detail interface{}) error {
	return s.audit.Record(ctx, audit.NewEntry(ctx, et, id, action, detail))
}

// -- Blocs --

func (s *Service) CreateBloc(ctx context.Context, b *Bloc) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return apperr.Validation("name is required")
	}
	if b.BasePrice.IsNegative() {
		return apperr.Validation("base_price must not be negative")
	}
	if b.SupplementPrice.IsNegative() {
		return apperr.Validation("supplement_price must not be negative")
	}
	b.Active = true
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateBloc(ctx, b); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityBloc, b.ID, "create", b)
	})
}

func (s *Service) GetBloc(ctx context.Context, id uuid.UUID) (*Bloc, error) {
	return s.repo.GetBloc(ctx, id)
}

func (s *Service) ListBlocs(ctx context.Context) ([]*Bloc, error) {
	return s.repo.ListBlocs(ctx)
}

// -- Forfaits --

func (s *Service) CreateForfait(ctx context.Context, f *Forfait) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return apperr.Validation("name is required")
	}
	if f.Price.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	if f.IncludedMinutes < 0 {
		return apperr.Validation("included_minutes must not be negative")
	}
	seen := make(map[string]bool, len(f.Items))
	for i := range f.Items {
		it := &f.Items[i]
		it.ItemCode = strings.TrimSpace(it.ItemCode)
		if it.ItemCode == "" {
			return apperr.Validation("item_code is required")
		}
		if seen[it.ItemCode] {
			return apperr.Validation("item %s is listed twice", it.ItemCode)
		}
		seen[it.ItemCode] = true
		if !it.Kind.Valid() {
			return apperr.Validation("invalid item kind: %s", it.Kind)
		}
		if it.Quantity < 0 {
			return apperr.Validation("quantity of %s must not be negative", it.ItemCode)
		}
	}
	if f.Items == nil {
		f.Items = []ForfaitItem{}
	}
	f.Active = true

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if f.BlocID != nil {
			if _, err := s.repo.GetBloc(ctx, *f.BlocID); err != nil {
				return err
			}
		}
		if err := s.repo.CreateForfait(ctx, f); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityBloc, f.ID, "forfait_create", f)
	})
}

func (s *Service) GetForfait(ctx context.Context, id uuid.UUID) (*Forfait, error) {
	return s.repo.GetForfait(ctx, id)
}

// ListForfaits returns the forfaits usable in blocID, or all of them.
func (s *Service) ListForfaits(ctx context.Context, blocID uuid.UUID) ([]*Forfait, error) {
	return s.repo.ListForfaits(ctx, blocID)
}

// -- Rentals --

// StartRental opens a rental of an active bloc. A bloc hosts one rental at
// a time.
func (s *Service) StartRental(ctx context.Context, r *Rental) error {
	if r.BlocID == uuid.Nil {
		return apperr.Validation("bloc_id is required")
	}
	if r.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if r.SurgeonID == uuid.Nil {
		return apperr.Validation("surgeon_id is required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	r.Status = RentalInProgress
	r.EndedAt = nil
	r.BaseAmount, r.OvertimeAmount, r.ConsumablesAmount, r.Total = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.LockBloc(ctx, r.BlocID)
		if err != nil {
			return err
		}
		if !b.Active {
			return apperr.InvalidTransition("bloc %s is not active", b.Name)
		}
		busy, err := s.repo.FindInProgress(ctx, b.ID)
		if err != nil {
			return err
		}
		if busy != nil {
			return apperr.InvalidTransition("bloc %s already has a rental in progress (%s)", b.Name, busy.ID)
		}
		if r.ForfaitID != nil {
			f, err := s.repo.GetForfait(ctx, *r.ForfaitID)
			if err != nil {
				return err
			}
			if !f.Active || !f.AppliesTo(b.ID) {
				return apperr.Validation("forfait %s cannot be used in bloc %s", f.Name, b.Name)
			}
		}
		if err := s.repo.CreateRental(ctx, r); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityBlocRental, r.ID, "start", r)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("rental_id", r.ID.String()).Str("bloc_id", r.BlocID.String()).Msg("bloc rental started")
	return nil
}

func (s *Service) GetRental(ctx context.Context, id uuid.UUID) (*Rental, error) {
	return s.repo.GetRental(ctx, id)
}

func (s *Service) ListRentals(ctx context.Context, f RentalFilter, limit, offset int) ([]*Rental, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.repo.ListRentals(ctx, f, limit, offset)
}

// RecordConsumption sets the quantity used of one item during a rental in
// progress. The included quantity comes from the rental's forfait.
func (s *Service) RecordConsumption(ctx context.Context, rentalID uuid.UUID, c *Consumption) error {
	c.ItemCode = strings.TrimSpace(c.ItemCode)
	if c.ItemCode == "" {
		return apperr.Validation("item_code is required")
	}
	if !c.Kind.Valid() {
		return apperr.Validation("invalid item kind: %s", c.Kind)
	}
	if c.QuantityUsed < 0 {
		return apperr.Validation("quantity_used must not be negative")
	}
	if c.UnitPrice.IsNegative() {
		return apperr.Validation("unit_price must not be negative")
	}
	c.RentalID = rentalID

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockRental(ctx, rentalID)
		if err != nil {
			return err
		}
		if r.Status != RentalInProgress {
			return apperr.InvalidTransition("rental %s is %s", r.ID, r.Status)
		}
		c.QuantityIncluded = 0
		if r.ForfaitID != nil {
			f, err := s.repo.GetForfait(ctx, *r.ForfaitID)
			if err != nil {
				return err
			}
			c.QuantityIncluded = f.Included(c.ItemCode)
		}
		if err := s.repo.UpsertConsumption(ctx, c); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityBlocRental, r.ID, "consumption", c)
	})
}

func (s *Service) ListConsumptions(ctx context.Context, rentalID uuid.UUID) ([]*Consumption, error) {
	if _, err := s.repo.GetRental(ctx, rentalID); err != nil {
		return nil, err
	}
	return s.repo.ListConsumptions(ctx, rentalID)
}

// CompleteRental ends the rental at the given instant (now when nil) and
// freezes its bill.
func (s *Service) CompleteRental(ctx context.Context, id uuid.UUID, at *time.Time) (*Bill, error) {
	end := s.now()
	if at != nil && !at.IsZero() {
		end = at.UTC()
	}

	var bill Bill
	var r *Rental
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.LockRental(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != RentalInProgress {
			return apperr.InvalidTransition("rental %s is %s", r.ID, r.Status)
		}
		if end.Before(r.StartedAt) {
			return apperr.Validation("end is before the rental start")
		}
		r.EndedAt = &end
		r.Status = RentalCompleted
		bill, err = s.price(ctx, r)
		if err != nil {
			return err
		}
		r.BaseAmount = bill.BaseAmount
		r.OvertimeAmount = bill.OvertimeAmount
		r.ConsumablesAmount = bill.ConsumablesAmount
		r.Total = bill.Total
		r.IncludedMinutes = bill.IncludedMinutes
		r.Tranches = bill.Tranches
		if err := s.repo.UpdateRental(ctx, r); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityBlocRental, r.ID, "complete", map[string]interface{}{
			"minutes": bill.Minutes,
			"total":   bill.Total.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("rental_id", r.ID.String()).Int64("minutes", bill.Minutes).
		Str("total", bill.Total.StringFixed(2)).Msg("bloc rental completed")
	return &bill, nil
}

// CancelRental stops a rental in progress without billing it.
func (s *Service) CancelRental(ctx context.Context, id uuid.UUID, reason string) (*Rental, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	var r *Rental
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.LockRental(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != RentalInProgress {
			return apperr.InvalidTransition("rental %s is %s", r.ID, r.Status)
		}
		now := s.now()
		if now.Before(r.StartedAt) {
			now = r.StartedAt
		}
		r.EndedAt = &now
		r.Status = RentalCancelled
		if err := s.repo.UpdateRental(ctx, r); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityBlocRental, r.ID, "cancel", map[string]string{"reason": reason})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Bill prices a rental: up to now while in progress, as frozen once
// completed. Cancelled rentals have no bill.
func (s *Service) Bill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	r, err := s.repo.GetRental(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == RentalCancelled {
		return nil, apperr.InvalidTransition("rental %s was cancelled", r.ID)
	}
	if r.Status == RentalCompleted {
		items, err := s.repo.ListConsumptions(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		bill := StoredBill(r, items)
		return &bill, nil
	}
	bill, err := s.price(ctx, r)
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Service) price(ctx context.Context, r *Rental) (Bill, error) {
	b, err := s.repo.GetBloc(ctx, r.BlocID)
	if err != nil {
		return Bill{}, err
	}
	var f *Forfait
	if r.ForfaitID != nil {
		if f, err = s.repo.GetForfait(ctx, *r.ForfaitID); err != nil {
			return Bill{}, err
		}
	}
	items, err := s.repo.ListConsumptions(ctx, r.ID)
	if err != nil {
		return Bill{}, err
	}
	return ComputeBill(b, f, r, items, s.now(), s.tariff), nil
}
