// Package pricing holds the interval, rate and overage arithmetic shared by
// bed-stay accrual and operating-room billing.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Interval is a half-open time range. End is exclusive.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start, never negative.
func (iv Interval) Duration() time.Duration {
	d := iv.End.Sub(iv.Start)
	if d < 0 {
		return 0
	}
	return d
}

// ceilUnits divides d into units of size unit, rounding up.
func ceilUnits(d, unit time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	n := int64(d / unit)
	if d%unit != 0 {
		n++
	}
	return n
}

// BillableDays is the number of nights billed for iv: whole days rounded up,
// with any admitted stay billing at least one night.
func BillableDays(iv Interval) int64 {
	n := ceilUnits(iv.Duration(), day)
	if n < 1 {
		return 1
	}
	return n
}

// BillableHours is the number of started hours in iv, at least one.
func BillableHours(iv Interval) int64 {
	n := ceilUnits(iv.Duration(), time.Hour)
	if n < 1 {
		return 1
	}
	return n
}

// Mode selects how a bed interval is priced.
type Mode string

const (
	ModeNightly Mode = "nightly"
	ModeHourly  Mode = "hourly"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeNightly || m == ModeHourly
}

// Rate is the price snapshot an interval is billed against.
type Rate struct {
	Mode         Mode
	NightlyPrice decimal.Decimal
	// HourlyRate is only used in hourly mode. When nil, hourly stays fall
	// back to prorating the nightly price.
	HourlyRate *decimal.Decimal
}

// Charge is the billed amount for one interval.
type Charge struct {
	Units  int64           `json:"units"`
	Unit   string          `json:"unit"`
	Amount decimal.Decimal `json:"amount"`
}

// IntervalCost prices one bed interval. Hourly mode only applies to stays
// shorter than a day; longer intervals bill by the night.
func IntervalCost(iv Interval, r Rate) Charge {
	if r.Mode == ModeHourly && iv.Duration() < day {
		hours := BillableHours(iv)
		if r.HourlyRate != nil {
			return Charge{Units: hours, Unit: "hour", Amount: r.HourlyRate.Mul(decimal.NewFromInt(hours))}
		}
		amount := r.NightlyPrice.Mul(decimal.NewFromInt(hours)).Div(decimal.NewFromInt(24)).Round(2)
		return Charge{Units: hours, Unit: "hour", Amount: amount}
	}
	days := BillableDays(iv)
	return Charge{Units: days, Unit: "night", Amount: r.NightlyPrice.Mul(decimal.NewFromInt(days))}
}

// ContinuationCost prices iv as the tail of a stay that began at anchor:
// the cost of [anchor, iv.End) less what [anchor, iv.Start) already billed.
// Summing the continuations of a stay gives the cost of the whole stay.
func ContinuationCost(anchor time.Time, iv Interval, r Rate) Charge {
	if !anchor.Before(iv.Start) {
		return IntervalCost(iv, r)
	}
	whole := IntervalCost(Interval{Start: anchor, End: iv.End}, r)
	billed := IntervalCost(Interval{Start: anchor, End: iv.Start}, r)
	c := Charge{Unit: whole.Unit, Units: whole.Units, Amount: whole.Amount.Sub(billed.Amount)}
	if whole.Unit == billed.Unit {
		c.Units -= billed.Units
	}
	return c
}

// ContinuationDays is the number of nights iv adds to a stay that began at
// anchor.
func ContinuationDays(anchor time.Time, iv Interval) int64 {
	if !anchor.Before(iv.Start) {
		return BillableDays(iv)
	}
	return BillableDays(Interval{Start: anchor, End: iv.End}) - BillableDays(Interval{Start: anchor, End: iv.Start})
}

// Tranches returns how many tranches of size tranche are needed to cover the
// part of elapsed that exceeds included.
func Tranches(elapsed, included, tranche time.Duration) int64 {
	if tranche <= 0 {
		return 0
	}
	return ceilUnits(elapsed-included, tranche)
}

// Overage prices the time beyond an included allowance at perTranche for each
// started tranche.
func Overage(elapsed, included, tranche time.Duration, perTranche decimal.Decimal) (int64, decimal.Decimal) {
	n := Tranches(elapsed, included, tranche)
	return n, perTranche.Mul(decimal.NewFromInt(n))
}

// QuantityOverage prices the quantity used beyond what was included. A
// negative delta is unused allowance and is never refunded.
func QuantityOverage(included, used int64, unitPrice decimal.Decimal) (delta int64, amount decimal.Decimal) {
	delta = used - included
	if delta <= 0 {
		return delta, decimal.Zero
	}
	return delta, unitPrice.Mul(decimal.NewFromInt(delta))
}
