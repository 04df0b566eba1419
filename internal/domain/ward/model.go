// Package ward is the registry of care services, rooms and beds.
package ward

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/pricing"
)

// CareService groups rooms under one billing mode. Admission requests target
// a service.
type CareService struct {
	ID          uuid.UUID        `json:"id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	BillingMode pricing.Mode     `json:"billing_mode"`
	HourlyRate  *decimal.Decimal `json:"hourly_rate,omitempty"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type Room struct {
	ID           uuid.UUID       `json:"id"`
	ServiceID    uuid.UUID       `json:"service_id"`
	Number       string          `json:"number"`
	RoomType     string          `json:"room_type"`
	Capacity     int             `json:"capacity"`
	NightlyPrice decimal.Decimal `json:"nightly_price"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

var validRoomTypes = map[string]bool{
	"standard":  true,
	"private":   true,
	"double":    true,
	"icu":       true,
	"isolation": true,
	"suite":     true,
}

type BedStatus string

const (
	BedActive      BedStatus = "active"
	BedInactive    BedStatus = "inactive"
	BedMaintenance BedStatus = "maintenance"
)

func (s BedStatus) Valid() bool {
	return s == BedActive || s == BedInactive || s == BedMaintenance
}

// Bed is occupied exactly when an open bed assignment points at it.
type Bed struct {
	ID            uuid.UUID  `json:"id"`
	RoomID        uuid.UUID  `json:"room_id"`
	Label         string     `json:"label"`
	Status        BedStatus  `json:"status"`
	Occupied      bool       `json:"occupied"`
	LastCleanedAt *time.Time `json:"last_cleaned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NeedsCleaning is true once a released bed had its cleaning stamp reset.
func (b *Bed) NeedsCleaning() bool {
	return b.LastCleanedAt == nil
}

// BedDetail is a bed joined with its room and care service, as read when the
// bed row is locked for an assignment.
type BedDetail struct {
	Bed
	ServiceID    uuid.UUID        `json:"service_id"`
	RoomActive   bool             `json:"room_active"`
	NightlyPrice decimal.Decimal  `json:"nightly_price"`
	BillingMode  pricing.Mode     `json:"billing_mode"`
	HourlyRate   *decimal.Decimal `json:"hourly_rate,omitempty"`
}

// Rate is the price snapshot an assignment opened on this bed is billed at.
func (d *BedDetail) Rate() pricing.Rate {
	mode := d.BillingMode
	if !mode.Valid() {
		mode = pricing.ModeNightly
	}
	return pricing.Rate{Mode: mode, NightlyPrice: d.NightlyPrice, HourlyRate: d.HourlyRate}
}

// CheckAssignable rejects beds that cannot take a patient right now.
func (d *BedDetail) CheckAssignable() error {
	switch {
	case d.Occupied:
		return apperr.BedUnavailable("bed %s is occupied", d.Label)
	case d.Status != BedActive:
		return apperr.BedUnavailable("bed %s is %s", d.Label, d.Status)
	case !d.RoomActive:
		return apperr.BedUnavailable("room of bed %s is not in service", d.Label)
	}
	return nil
}

// AvailableBed is one row of a service's free-bed list.
type AvailableBed struct {
	BedID         uuid.UUID       `json:"bed_id"`
	Label         string          `json:"label"`
	RoomID        uuid.UUID       `json:"room_id"`
	RoomNumber    string          `json:"room_number"`
	RoomType      string          `json:"room_type"`
	NightlyPrice  decimal.Decimal `json:"nightly_price"`
	NeedsCleaning bool            `json:"needs_cleaning"`
}

type RoomOccupancy struct {
	RoomID   uuid.UUID `json:"room_id"`
	Number   string    `json:"number"`
	Capacity int       `json:"capacity"`
	Beds     int       `json:"beds"`
	Occupied int       `json:"occupied"`
}

// Occupancy is a point-in-time snapshot of a service's beds.
type Occupancy struct {
	ServiceID    uuid.UUID       `json:"service_id"`
	TotalBeds    int             `json:"total_beds"`
	OccupiedBeds int             `json:"occupied_beds"`
	FreeBeds     int             `json:"free_beds"`
	OutOfService int             `json:"out_of_service"`
	Rate         float64         `json:"occupancy_rate"`
	Rooms        []RoomOccupancy `json:"rooms"`
	ComputedAt   time.Time       `json:"computed_at"`
}

// Summarize derives the totals from the per-room rows. Out-of-service beds
// are excluded from the rate.
func (o *Occupancy) Summarize() {
	o.TotalBeds, o.OccupiedBeds = 0, 0
	for _, r := range o.Rooms {
		o.TotalBeds += r.Beds
		o.OccupiedBeds += r.Occupied
	}
	o.FreeBeds = o.TotalBeds - o.OccupiedBeds - o.OutOfService
	if o.FreeBeds < 0 {
		o.FreeBeds = 0
	}
	if inService := o.TotalBeds - o.OutOfService; inService > 0 {
		o.Rate = float64(o.OccupiedBeds) / float64(inService) * 100
	}
}
