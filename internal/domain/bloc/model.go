// Package bloc bills operating-room rentals: a base price or a forfait
// covering an included duration, overtime by started tranche, and the
// consumables used beyond what the forfait includes.
package bloc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bloc maps to the bloc table. BasePrice covers the base duration set in
// configuration; each started tranche beyond it costs SupplementPrice.
type Bloc struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	BasePrice       decimal.Decimal `db:"base_price" json:"base_price"`
	SupplementPrice decimal.Decimal `db:"supplement_price" json:"supplement_price"`
	Active          bool            `db:"active" json:"active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindAct     ItemKind = "act"
)

func (k ItemKind) Valid() bool {
	return k == KindProduct || k == KindAct
}

// ForfaitItem is a product or act included in a forfait up to Quantity.
type ForfaitItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ForfaitID uuid.UUID `db:"forfait_id" json:"forfait_id"`
	ItemCode  string    `db:"item_code" json:"item_code"`
	Kind      ItemKind  `db:"kind" json:"kind"`
	Quantity  int64     `db:"quantity" json:"quantity"`
}

// Forfait is a flat package replacing the bloc base price. A nil BlocID
// makes it usable in every bloc.
type Forfait struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	BlocID          *uuid.UUID      `db:"bloc_id" json:"bloc_id,omitempty"`
	Name            string          `db:"name" json:"name"`
	Price           decimal.Decimal `db:"price" json:"price"`
	IncludedMinutes int             `db:"included_minutes" json:"included_minutes"`
	Active          bool            `db:"active" json:"active"`
	Items           []ForfaitItem   `json:"items"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Included returns the quantity of code the forfait covers.
func (f *Forfait) Included(code string) int64 {
	if f == nil {
		return 0
	}
	for _, it := range f.Items {
		if it.ItemCode == code {
			return it.Quantity
		}
	}
	return 0
}

// AppliesTo reports whether the forfait may be used in blocID.
func (f *Forfait) AppliesTo(blocID uuid.UUID) bool {
	return f.BlocID == nil || *f.BlocID == blocID
}

type RentalStatus string

const (
	RentalInProgress RentalStatus = "in_progress"
	RentalCompleted  RentalStatus = "completed"
	RentalCancelled  RentalStatus = "cancelled"
)

func (s RentalStatus) Valid() bool {
	switch s {
	case RentalInProgress, RentalCompleted, RentalCancelled:
		return true
	}
	return false
}

// Rental maps to the bloc_rental table. The amounts are set when the rental
// completes.
type Rental struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	BlocID            uuid.UUID       `db:"bloc_id" json:"bloc_id"`
	ForfaitID         *uuid.UUID      `db:"forfait_id" json:"forfait_id,omitempty"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	AdmissionID       *uuid.UUID      `db:"admission_id" json:"admission_id,omitempty"`
	SurgeonID         uuid.UUID       `db:"surgeon_id" json:"surgeon_id"`
	StartedAt         time.Time       `db:"started_at" json:"started_at"`
	EndedAt           *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	Status            RentalStatus    `db:"status" json:"status"`
	BaseAmount        decimal.Decimal `db:"base_amount" json:"base_amount"`
	OvertimeAmount    decimal.Decimal `db:"overtime_amount" json:"overtime_amount"`
	ConsumablesAmount decimal.Decimal `db:"consumables_amount" json:"consumables_amount"`
	Total             decimal.Decimal `db:"total" json:"total"`
	IncludedMinutes   int64           `db:"included_minutes" json:"included_minutes"`
	Tranches          int64           `db:"tranches" json:"tranches"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Consumption is one product or act used during a rental. Recording the
// same item code again replaces the used quantity.
type Consumption struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	RentalID         uuid.UUID       `db:"rental_id" json:"rental_id"`
	ItemCode         string          `db:"item_code" json:"item_code"`
	Kind             ItemKind        `db:"kind" json:"kind"`
	QuantityIncluded int64           `db:"quantity_included" json:"quantity_included"`
	QuantityUsed     int64           `db:"quantity_used" json:"quantity_used"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// RentalFilter narrows ListRentals. Zero fields match everything.
type RentalFilter struct {
	BlocID    uuid.UUID
	PatientID uuid.UUID
	Status    RentalStatus
}
