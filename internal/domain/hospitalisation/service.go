package hospitalisation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/domain/audit"
	"github.com/bjyoucef/inaya/internal/domain/ward"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/auth"
	"github.com/bjyoucef/inaya/internal/platform/cache"
	"github.com/bjyoucef/inaya/internal/platform/db"
)

// BedNotifier receives bed events after the transaction that produced them
// has committed.
type BedNotifier interface {
	NotifyBed(ctx context.Context, ev cache.BedEvent)
}

type nopNotifier struct{}

func (nopNotifier) NotifyBed(context.Context, cache.BedEvent) {}

// Service runs the admission lifecycle. Each operation is one transaction
// that locks the admission row and the bed rows it touches.
type Service struct {
	repo     Repository
	beds     ward.Repository
	ledger   *Ledger
	tx       db.TxRunner
	audit    audit.Recorder
	notifier BedNotifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, beds ward.Repository, tx db.TxRunner, rec audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		beds:     beds,
		ledger:   NewLedger(repo, beds),
		tx:       tx,
		audit:    rec,
		notifier: nopNotifier{},
		logger:   logger.With().Str("component", "hospitalisation").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier attaches the sink for bed occupancy changes.
func (s *Service) SetNotifier(n BedNotifier) {
	s.notifier = n
}

// SetClock replaces the time source used when a request carries no
// explicit instant and for cost-as-of figures.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) at(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.now()
	}
	return t.UTC()
}

// run executes fn in a transaction and publishes the bed events it
// collected once the transaction has committed.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, events *[]cache.BedEvent) error) error {
	var events []cache.BedEvent
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		events = events[:0]
		return fn(ctx, &events)
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.notifier.NotifyBed(ctx, ev)
	}
	return nil
}

func (s *Service) record(ctx context.Context, et audit.EntityType, id uuid.UUID, action string, detail interface{}) error {
	return s.audit.Record(ctx, audit.NewEntry(ctx, et, id, action, detail))
}

func (s *Service) transition(adm *Admission, next State) error {
	if !adm.State.CanTransition(next) {
		return apperr.InvalidTransition("admission %s cannot go from %s to %s", adm.ID, adm.State, next)
	}
	adm.State = next
	return nil
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

// -- Admission requests --

// RequestAdmission puts a patient on a service's waiting list.
func (s *Service) RequestAdmission(ctx context.Context, req *Request) error {
	if req.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if req.ServiceID == uuid.Nil {
		return apperr.Validation("service_id is required")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	req.Origin = OriginDirect
	req.Status = RequestWaiting
	req.AdmissionID = nil
	req.RequestedBy = auth.UserIDFromContext(ctx)
	req.CreatedAt = s.now()

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.beds.GetService(ctx, req.ServiceID); err != nil {
			return err
		}
		active, err := s.repo.FindActiveAdmission(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperr.DuplicateActiveAdmission("patient %s is already admitted (%s)", req.PatientID, active.ID)
		}
		waiting, err := s.repo.FindWaitingRequest(ctx, req.PatientID, req.ServiceID)
		if err != nil {
			return err
		}
		if waiting != nil {
			return apperr.InvalidTransition("patient %s is already waiting for this service (%s)", req.PatientID, waiting.ID)
		}
		if err := s.repo.CreateRequest(ctx, req); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityRequest, req.ID, "create", req)
	})
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns a waiting list, oldest first.
func (s *Service) ListRequests(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.repo.ListRequests(ctx, f, limit, offset)
}

// CancelRequest takes a direct request off the waiting list. Transfer
// requests stay: cancelling one would leave its admission with no bed and
// nothing pending.
func (s *Service) CancelRequest(ctx context.Context, id uuid.UUID, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	var req *Request
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.repo.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestWaiting {
			return apperr.InvalidTransition("request %s is %s", req.ID, req.Status)
		}
		if req.Origin == OriginTransfer {
			return apperr.InvalidTransition("request %s belongs to a service transfer in progress", req.ID)
		}
		now := s.now()
		req.Status = RequestCancelled
		req.CancelReason = reason
		req.ResolvedAt = &now
		if err := s.repo.UpdateRequest(ctx, req); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityRequest, req.ID, "cancel", map[string]string{"reason": reason})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// -- Lifecycle --

type AdmitInput struct {
	BedID       uuid.UUID  `json:"bed_id"`
	PhysicianID uuid.UUID  `json:"physician_id"`
	At          *time.Time `json:"at,omitempty"`
}

// Admit turns a waiting direct request into an admission occupying bedID.
// The bed must belong to the requested service.
func (s *Service) Admit(ctx context.Context, requestID uuid.UUID, in AdmitInput) (*AdmissionView, error) {
	if in.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id is required")
	}
	if in.PhysicianID == uuid.Nil {
		return nil, apperr.Validation("physician_id is required")
	}
	at := s.at(in.At)

	var adm *Admission
	err := s.run(ctx, func(ctx context.Context, events *[]cache.BedEvent) error {
		req, err := s.repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestWaiting {
			return apperr.InvalidTransition("request %s is %s", req.ID, req.Status)
		}
		if req.Origin != OriginDirect {
			return apperr.InvalidTransition("request %s completes a service transfer", req.ID)
		}
		active, err := s.repo.FindActiveAdmission(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperr.DuplicateActiveAdmission("patient %s is already admitted (%s)", req.PatientID, active.ID)
		}

		// Checked before anything is written.
		bed, err := s.beds.LockBed(ctx, in.BedID)
		if err != nil {
			return err
		}
		if bed.ServiceID != req.ServiceID {
			return apperr.InvalidTransition("bed %s does not belong to the requested service", bed.Label)
		}
		if err := bed.CheckAssignable(); err != nil {
			return err
		}

		adm = &Admission{
			PatientID:   req.PatientID,
			PhysicianID: in.PhysicianID,
			ServiceID:   req.ServiceID,
			State:       StateNoBed,
			StartedAt:   at,
			TotalCost:   decimal.Zero,
			Active:      true,
		}
		if err := s.repo.CreateAdmission(ctx, adm); err != nil {
			return err
		}
		a, evs, err := s.ledger.Open(ctx, adm.ID, in.BedID, at)
		if err != nil {
			return err
		}
		*events = append(*events, evs...)
		if err := s.transition(adm, StateAssigned); err != nil {
			return err
		}
		if err := s.repo.UpdateAdmission(ctx, adm); err != nil {
			return err
		}

		req.Status = RequestAdmitted
		req.AdmissionID = uuidPtr(adm.ID)
		req.ResolvedAt = &at
		if err := s.repo.UpdateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.repo.CreateTransfer(ctx, &Transfer{
			AdmissionID:    adm.ID,
			Kind:           TransferAdmission,
			ToAssignmentID: uuidPtr(a.ID),
			ToServiceID:    uuidPtr(a.ServiceID),
			OccurredAt:     at,
			Reason:         req.Reason,
			Actor:          auth.UserIDFromContext(ctx),
		}); err != nil {
			return err
		}
		if err := s.record(ctx, audit.EntityRequest, req.ID, "admitted", nil); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityAdmission, adm.ID, "admit", map[string]uuid.UUID{"bed_id": in.BedID, "request_id": req.ID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("admission_id", adm.ID.String()).Str("patient_id", adm.PatientID.String()).
		Str("bed_id", in.BedID.String()).Msg("patient admitted")
	return s.GetAdmission(ctx, adm.ID)
}

type TransferInput struct {
	BedID  uuid.UUID  `json:"bed_id"`
	Reason string     `json:"reason"`
	At     *time.Time `json:"at,omitempty"`
}

// TransferBed moves an admission to another bed of the same service. The
// old interval closes and the new one opens at the same instant.
func (s *Service) TransferBed(ctx context.Context, admissionID uuid.UUID, in TransferInput) (*AdmissionView, error) {
	if in.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id is required")
	}
	at := s.at(in.At)

	err := s.run(ctx, func(ctx context.Context, events *[]cache.BedEvent) error {
		adm, err := s.repo.LockAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.State != StateAssigned {
			return apperr.InvalidTransition("admission %s is %s", adm.ID, adm.State)
		}
		cur, err := s.ledger.Current(ctx, adm.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.InvalidTransition("admission %s has no current bed", adm.ID)
		}
		if cur.BedID == in.BedID {
			return apperr.Validation("patient is already in this bed")
		}
		bed, err := s.beds.LockBed(ctx, in.BedID)
		if err != nil {
			return err
		}
		if bed.ServiceID != adm.ServiceID {
			return apperr.InvalidTransition("bed %s belongs to another service, use a service transfer", bed.Label)
		}

		a, evs, err := s.ledger.Open(ctx, adm.ID, in.BedID, at)
		if err != nil {
			return err
		}
		*events = append(*events, evs...)
		if err := s.transition(adm, StateAssigned); err != nil {
			return err
		}
		if err := s.repo.UpdateAdmission(ctx, adm); err != nil {
			return err
		}
		if err := s.repo.CreateTransfer(ctx, &Transfer{
			AdmissionID:      adm.ID,
			Kind:             TransferBed,
			FromAssignmentID: uuidPtr(cur.ID),
			ToAssignmentID:   uuidPtr(a.ID),
			FromServiceID:    uuidPtr(cur.ServiceID),
			ToServiceID:      uuidPtr(a.ServiceID),
			OccurredAt:       at,
			Reason:           strings.TrimSpace(in.Reason),
			Actor:            auth.UserIDFromContext(ctx),
			PriceDifference:  a.NightlyPrice.Sub(cur.NightlyPrice),
		}); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityAssignment, a.ID, "bed_transfer",
			map[string]uuid.UUID{"from_bed_id": cur.BedID, "to_bed_id": in.BedID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("admission_id", admissionID.String()).Str("bed_id", in.BedID.String()).Msg("bed transfer")
	return s.GetAdmission(ctx, admissionID)
}

type ServiceTransferInput struct {
	ServiceID uuid.UUID  `json:"service_id"`
	Reason    string     `json:"reason"`
	At        *time.Time `json:"at,omitempty"`
}

// TransferService releases the current bed and puts the admission on the
// destination service's waiting list. The admission stays active with no
// bed until CompleteTransfer.
func (s *Service) TransferService(ctx context.Context, admissionID uuid.UUID, in ServiceTransferInput) (*AdmissionView, *Request, error) {
	if in.ServiceID == uuid.Nil {
		return nil, nil, apperr.Validation("service_id is required")
	}
	at := s.at(in.At)

	var req *Request
	err := s.run(ctx, func(ctx context.Context, events *[]cache.BedEvent) error {
		adm, err := s.repo.LockAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.ServiceID == in.ServiceID {
			return apperr.Validation("admission is already in this service, use a bed transfer")
		}
		if err := s.transition(adm, StateWaitingTransfer); err != nil {
			return err
		}
		if _, err := s.beds.GetService(ctx, in.ServiceID); err != nil {
			return err
		}
		cur, err := s.ledger.Current(ctx, adm.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.InvalidTransition("admission %s has no current bed", adm.ID)
		}
		ev, err := s.ledger.Close(ctx, cur, at, true)
		if err != nil {
			return err
		}
		*events = append(*events, ev)
		if err := s.repo.UpdateAdmission(ctx, adm); err != nil {
			return err
		}

		req = &Request{
			PatientID:   adm.PatientID,
			ServiceID:   in.ServiceID,
			AdmissionID: uuidPtr(adm.ID),
			Origin:      OriginTransfer,
			Status:      RequestWaiting,
			Reason:      strings.TrimSpace(in.Reason),
			RequestedBy: auth.UserIDFromContext(ctx),
			CreatedAt:   at,
		}
		if err := s.repo.CreateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.repo.CreateTransfer(ctx, &Transfer{
			AdmissionID:      adm.ID,
			Kind:             TransferServiceOut,
			FromAssignmentID: uuidPtr(cur.ID),
			FromServiceID:    uuidPtr(adm.ServiceID),
			ToServiceID:      uuidPtr(in.ServiceID),
			OccurredAt:       at,
			Reason:           req.Reason,
			Actor:            req.RequestedBy,
		}); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityAdmission, adm.ID, "service_transfer_out",
			map[string]uuid.UUID{"to_service_id": in.ServiceID, "request_id": req.ID})
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("admission_id", admissionID.String()).Str("service_id", in.ServiceID.String()).
		Msg("service transfer started")
	view, err := s.GetAdmission(ctx, admissionID)
	if err != nil {
		return nil, nil, err
	}
	return view, req, nil
}

type CompleteTransferInput struct {
	BedID uuid.UUID  `json:"bed_id"`
	At    *time.Time `json:"at,omitempty"`
}

// CompleteTransfer gives a waiting admission a bed in the service its
// transfer request targets.
func (s *Service) CompleteTransfer(ctx context.Context, requestID uuid.UUID, in CompleteTransferInput) (*AdmissionView, error) {
	if in.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id is required")
	}
	at := s.at(in.At)

	var admissionID uuid.UUID
	err := s.run(ctx, func(ctx context.Context, events *[]cache.BedEvent) error {
		req, err := s.repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestWaiting {
			return apperr.InvalidTransition("request %s is %s", req.ID, req.Status)
		}
		if req.Origin != OriginTransfer || req.AdmissionID == nil {
			return apperr.InvalidTransition("request %s is not a service transfer", req.ID)
		}
		adm, err := s.repo.LockAdmission(ctx, *req.AdmissionID)
		if err != nil {
			return err
		}
		admissionID = adm.ID
		if adm.State != StateWaitingTransfer {
			return apperr.InvalidTransition("admission %s is %s", adm.ID, adm.State)
		}
		bed, err := s.beds.LockBed(ctx, in.BedID)
		if err != nil {
			return err
		}
		if bed.ServiceID != req.ServiceID {
			return apperr.InvalidTransition("bed %s does not belong to the destination service", bed.Label)
		}
		prev, err := s.ledger.lastClosed(ctx, adm.ID)
		if err != nil {
			return err
		}

		a, evs, err := s.ledger.Open(ctx, adm.ID, in.BedID, at)
		if err != nil {
			return err
		}
		*events = append(*events, evs...)
		fromService := adm.ServiceID
		adm.ServiceID = req.ServiceID
		if err := s.transition(adm, StateAssigned); err != nil {
			return err
		}
		if err := s.repo.UpdateAdmission(ctx, adm); err != nil {
			return err
		}

		req.Status = RequestTransferred
		req.ResolvedAt = &at
		if err := s.repo.UpdateRequest(ctx, req); err != nil {
			return err
		}

		t := &Transfer{
			AdmissionID:    adm.ID,
			Kind:           TransferServiceIn,
			ToAssignmentID: uuidPtr(a.ID),
			FromServiceID:  uuidPtr(fromService),
			ToServiceID:    uuidPtr(req.ServiceID),
			OccurredAt:     at,
			Reason:         req.Reason,
			Actor:          auth.UserIDFromContext(ctx),
		}
		if prev != nil {
			t.FromAssignmentID = uuidPtr(prev.ID)
			t.PriceDifference = a.NightlyPrice.Sub(prev.NightlyPrice)
		}
		if err := s.repo.CreateTransfer(ctx, t); err != nil {
			return err
		}
		if err := s.record(ctx, audit.EntityRequest, req.ID, "transferred", nil); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityAdmission, adm.ID, "service_transfer_in",
			map[string]uuid.UUID{"service_id": req.ServiceID, "bed_id": in.BedID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("admission_id", admissionID.String()).Str("bed_id", in.BedID.String()).
		Msg("service transfer completed")
	return s.GetAdmission(ctx, admissionID)
}

type DischargeInput struct {
	Destination string     `json:"destination"`
	Notes       string     `json:"notes"`
	At          *time.Time `json:"at,omitempty"`
}

// Discharge closes the stay: the current bed is released for cleaning, the
// lifetime cost is frozen and the admission becomes inactive. A pending
// service transfer is cancelled.
func (s *Service) Discharge(ctx context.Context, admissionID uuid.UUID, in DischargeInput) (*AdmissionView, error) {
	destination := strings.TrimSpace(in.Destination)
	notes := strings.TrimSpace(in.Notes)
	if destination == "" {
		return nil, apperr.Validation("discharge destination is required")
	}
	if notes == "" {
		return nil, apperr.Validation("discharge notes are required")
	}
	at := s.at(in.At)

	var adm *Admission
	err := s.run(ctx, func(ctx context.Context, events *[]cache.BedEvent) error {
		var err error
		adm, err = s.repo.LockAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if !adm.Active {
			return apperr.InvalidTransition("admission %s is already discharged", adm.ID)
		}
		if at.Before(adm.StartedAt) {
			return apperr.Validation("discharge is before the admission start")
		}
		if err := s.transition(adm, StateDischarged); err != nil {
			return err
		}

		cur, err := s.ledger.Current(ctx, adm.ID)
		if err != nil {
			return err
		}
		if cur != nil {
			ev, err := s.ledger.Close(ctx, cur, at, true)
			if err != nil {
				return err
			}
			*events = append(*events, ev)
		} else if err := s.ledger.checkAfterLast(ctx, adm.ID, nil, at); err != nil {
			return err
		}

		pending, err := s.repo.FindPendingTransferRequest(ctx, adm.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			pending.Status = RequestCancelled
			pending.CancelReason = "patient discharged"
			pending.ResolvedAt = &at
			if err := s.repo.UpdateRequest(ctx, pending); err != nil {
				return err
			}
		}

		assignments, err := s.repo.ListAssignments(ctx, adm.ID)
		if err != nil {
			return err
		}
		adm.TotalCost = Accrue(assignments, at).Total
		adm.EndedAt = &at
		adm.Active = false
		adm.DischargeDestination = &destination
		adm.DischargeNotes = &notes
		if err := s.repo.UpdateAdmission(ctx, adm); err != nil {
			return err
		}

		t := &Transfer{
			AdmissionID:   adm.ID,
			Kind:          TransferDischarge,
			FromServiceID: uuidPtr(adm.ServiceID),
			OccurredAt:    at,
			Reason:        destination,
			Actor:         auth.UserIDFromContext(ctx),
		}
		if cur != nil {
			t.FromAssignmentID = uuidPtr(cur.ID)
		}
		if err := s.repo.CreateTransfer(ctx, t); err != nil {
			return err
		}
		return s.record(ctx, audit.EntityAdmission, adm.ID, "discharge", map[string]string{
			"destination": destination,
			"total_cost":  adm.TotalCost.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("admission_id", adm.ID.String()).Str("total_cost", adm.TotalCost.StringFixed(2)).
		Msg("patient discharged")
	return s.GetAdmission(ctx, adm.ID)
}

// -- Reads --

// GetAdmission returns the admission with its current bed and its cost as
// of now, or as of discharge for a closed stay.
func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*AdmissionView, error) {
	adm, err := s.repo.GetAdmission(ctx, id)
	if err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &AdmissionView{Admission: adm, Cost: Accrue(assignments, s.asOf(adm))}
	for _, a := range assignments {
		if a.IsCurrent {
			view.Current = a
		}
	}
	return view, nil
}

// Cost prices the admission's ledger. Calling it again without a ledger
// change returns the same figures.
func (s *Service) Cost(ctx context.Context, id uuid.UUID) (*CostBreakdown, error) {
	adm, err := s.repo.GetAdmission(ctx, id)
	if err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, id)
	if err != nil {
		return nil, err
	}
	b := Accrue(assignments, s.asOf(adm))
	return &b, nil
}

func (s *Service) asOf(adm *Admission) time.Time {
	if adm.EndedAt != nil {
		return *adm.EndedAt
	}
	return s.now()
}

func (s *Service) ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	return s.repo.ListAdmissions(ctx, f, limit, offset)
}

// GetCurrent returns the open assignment of an admission, or nil.
func (s *Service) GetCurrent(ctx context.Context, admissionID uuid.UUID) (*Assignment, error) {
	if _, err := s.repo.GetAdmission(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.ledger.Current(ctx, admissionID)
}

func (s *Service) ListAssignments(ctx context.Context, admissionID uuid.UUID) ([]*Assignment, error) {
	if _, err := s.repo.GetAdmission(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, admissionID)
}

func (s *Service) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*Transfer, error) {
	if _, err := s.repo.GetAdmission(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.ListTransfers(ctx, admissionID)
}
