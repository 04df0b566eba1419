// Package hospitalisation tracks admissions, the bed-assignment ledger,
// transfers between beds and services, and the admission waiting lists.
package hospitalisation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/pricing"
)

// State is the admission lifecycle position.
type State string

const (
	StateNoBed           State = "no_bed"
	StateAssigned        State = "assigned"
	StateWaitingTransfer State = "waiting_transfer"
	StateDischarged      State = "discharged"
)

var transitions = map[State][]State{
	StateNoBed:           {StateAssigned},
	StateAssigned:        {StateAssigned, StateWaitingTransfer, StateDischarged},
	StateWaitingTransfer: {StateAssigned, StateDischarged},
}

// CanTransition reports whether an admission in s may move to next.
// Discharged is terminal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Admission maps to the admission table. TotalCost is frozen at discharge;
// while active, the figure to report comes from Accrue.
type Admission struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	PatientID            uuid.UUID       `db:"patient_id" json:"patient_id"`
	PhysicianID          uuid.UUID       `db:"physician_id" json:"physician_id"`
	ServiceID            uuid.UUID       `db:"service_id" json:"service_id"`
	State                State           `db:"state" json:"state"`
	StartedAt            time.Time       `db:"started_at" json:"started_at"`
	EndedAt              *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	TotalCost            decimal.Decimal `db:"total_cost" json:"total_cost"`
	Active               bool            `db:"active" json:"active"`
	DischargeDestination *string         `db:"discharge_destination" json:"discharge_destination,omitempty"`
	DischargeNotes       *string         `db:"discharge_notes" json:"discharge_notes,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// Assignment is one interval of the bed-assignment ledger. The price fields
// are the snapshot taken when the interval opened; Cost is set at close.
// BillingAnchor is set when the interval continues an uninterrupted stay in
// the same bed and holds the start of that stay.
type Assignment struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	AdmissionID   uuid.UUID        `db:"admission_id" json:"admission_id"`
	BedID         uuid.UUID        `db:"bed_id" json:"bed_id"`
	ServiceID     uuid.UUID        `db:"service_id" json:"service_id"`
	StartedAt     time.Time        `db:"started_at" json:"started_at"`
	EndedAt       *time.Time       `db:"ended_at" json:"ended_at,omitempty"`
	IsCurrent     bool             `db:"is_current" json:"is_current"`
	NightlyPrice  decimal.Decimal  `db:"nightly_price" json:"nightly_price"`
	BillingMode   pricing.Mode     `db:"billing_mode" json:"billing_mode"`
	HourlyRate    *decimal.Decimal `db:"hourly_rate" json:"hourly_rate,omitempty"`
	Cost          *decimal.Decimal `db:"cost" json:"cost,omitempty"`
	BillingAnchor *time.Time       `db:"billing_anchor" json:"billing_anchor,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

func (a *Assignment) Rate() pricing.Rate {
	mode := a.BillingMode
	if !mode.Valid() {
		mode = pricing.ModeNightly
	}
	return pricing.Rate{Mode: mode, NightlyPrice: a.NightlyPrice, HourlyRate: a.HourlyRate}
}

// Anchor is the instant the stay this interval belongs to started.
func (a *Assignment) Anchor() time.Time {
	if a.BillingAnchor != nil {
		return *a.BillingAnchor
	}
	return a.StartedAt
}

// Charge prices the interval up to end, as the continuation of its stay.
func (a *Assignment) Charge(end time.Time) pricing.Charge {
	return pricing.ContinuationCost(a.Anchor(), pricing.Interval{Start: a.StartedAt, End: end}, a.Rate())
}

// Interval returns the span of the assignment, open intervals ending at now.
func (a *Assignment) Interval(now time.Time) pricing.Interval {
	end := now
	if a.EndedAt != nil {
		end = *a.EndedAt
	}
	return pricing.Interval{Start: a.StartedAt, End: end}
}

type TransferKind string

const (
	TransferAdmission  TransferKind = "admission"
	TransferBed        TransferKind = "bed"
	TransferServiceOut TransferKind = "service_out"
	TransferServiceIn  TransferKind = "service_in"
	TransferDischarge  TransferKind = "discharge"
)

// Transfer records one boundary of the ledger. Rows are never updated.
// PriceDifference is the nightly price of the new bed minus the old one.
type Transfer struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	AdmissionID      uuid.UUID       `db:"admission_id" json:"admission_id"`
	Kind             TransferKind    `db:"kind" json:"kind"`
	FromAssignmentID *uuid.UUID      `db:"from_assignment_id" json:"from_assignment_id,omitempty"`
	ToAssignmentID   *uuid.UUID      `db:"to_assignment_id" json:"to_assignment_id,omitempty"`
	FromServiceID    *uuid.UUID      `db:"from_service_id" json:"from_service_id,omitempty"`
	ToServiceID      *uuid.UUID      `db:"to_service_id" json:"to_service_id,omitempty"`
	OccurredAt       time.Time       `db:"occurred_at" json:"occurred_at"`
	Reason           string          `db:"reason" json:"reason,omitempty"`
	Actor            string          `db:"actor" json:"actor,omitempty"`
	PriceDifference  decimal.Decimal `db:"price_difference" json:"price_difference"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

type RequestOrigin string

const (
	OriginDirect   RequestOrigin = "direct"
	OriginTransfer RequestOrigin = "transfer"
)

type RequestStatus string

const (
	RequestWaiting     RequestStatus = "waiting"
	RequestAdmitted    RequestStatus = "admitted"
	RequestCancelled   RequestStatus = "cancelled"
	RequestTransferred RequestStatus = "transferred"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestWaiting, RequestAdmitted, RequestCancelled, RequestTransferred:
		return true
	}
	return false
}

// Request is an entry on a service's waiting list. Direct requests become
// admissions; transfer requests carry the admission that is waiting for a
// bed in the destination service.
type Request struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	PatientID    uuid.UUID     `db:"patient_id" json:"patient_id"`
	ServiceID    uuid.UUID     `db:"service_id" json:"service_id"`
	AdmissionID  *uuid.UUID    `db:"admission_id" json:"admission_id,omitempty"`
	Origin       RequestOrigin `db:"origin" json:"origin"`
	Status       RequestStatus `db:"status" json:"status"`
	Reason       string        `db:"reason" json:"reason,omitempty"`
	RequestedBy  string        `db:"requested_by" json:"requested_by,omitempty"`
	CancelReason string        `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt   *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	ServiceID uuid.UUID
	PatientID uuid.UUID
	Status    RequestStatus
}

// AdmissionFilter narrows ListAdmissions.
type AdmissionFilter struct {
	ServiceID  uuid.UUID
	PatientID  uuid.UUID
	ActiveOnly bool
}

// AdmissionView is what the API returns for an admission: the row, its
// current bed and its cost as of the response.
type AdmissionView struct {
	*Admission
	Current *Assignment   `json:"current_assignment,omitempty"`
	Cost    CostBreakdown `json:"cost"`
}
