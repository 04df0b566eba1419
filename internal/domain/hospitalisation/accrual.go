package hospitalisation

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/pricing"
)

// CostLine is the billed amount of one ledger interval.
type CostLine struct {
	AssignmentID uuid.UUID       `json:"assignment_id"`
	BedID        uuid.UUID       `json:"bed_id"`
	ServiceID    uuid.UUID       `json:"service_id"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Open         bool            `json:"open"`
	Days         int64           `json:"days"`
	Units        int64           `json:"units"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Amount       decimal.Decimal `json:"amount"`
}

// CostBreakdown is the cost of an admission's ledger as of AsOf.
type CostBreakdown struct {
	Lines []CostLine      `json:"lines"`
	Total decimal.Decimal `json:"total"`
	// LengthOfStayDays is the sum of the billable days of every interval. A
	// same-bed reopen only adds the days its continuation adds to the stay.
	LengthOfStayDays int64     `json:"length_of_stay_days"`
	StayMinutes      int64     `json:"stay_minutes"`
	AsOf             time.Time `json:"as_of"`
}

// Accrue prices an admission's ledger. Closed intervals keep the cost stored
// when they closed; the open interval, if any, is priced up to now. The
// result depends only on its arguments.
func Accrue(assignments []*Assignment, now time.Time) CostBreakdown {
	sorted := make([]*Assignment, len(assignments))
	copy(sorted, assignments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartedAt.Before(sorted[j].StartedAt) })

	out := CostBreakdown{Lines: make([]CostLine, 0, len(sorted)), Total: decimal.Zero, AsOf: now}
	var stay time.Duration
	for _, a := range sorted {
		iv := a.Interval(now)
		rate := a.Rate()
		charge := a.Charge(iv.End)
		if a.EndedAt != nil && a.Cost != nil {
			charge.Amount = *a.Cost
		}

		unitPrice := rate.NightlyPrice
		if charge.Unit == "hour" {
			if rate.HourlyRate != nil {
				unitPrice = *rate.HourlyRate
			} else {
				unitPrice = rate.NightlyPrice.Div(decimal.NewFromInt(24)).Round(2)
			}
		}

		days := pricing.ContinuationDays(a.Anchor(), iv)
		out.Lines = append(out.Lines, CostLine{
			AssignmentID: a.ID,
			BedID:        a.BedID,
			ServiceID:    a.ServiceID,
			Start:        iv.Start,
			End:          iv.End,
			Open:         a.EndedAt == nil,
			Days:         days,
			Units:        charge.Units,
			Unit:         charge.Unit,
			UnitPrice:    unitPrice,
			Amount:       charge.Amount,
		})
		out.Total = out.Total.Add(charge.Amount)
		out.LengthOfStayDays += days
		stay += iv.Duration()
	}
	out.StayMinutes = int64(stay / time.Minute)
	return out
}

// closingCost prices an interval being closed at end.
func closingCost(a *Assignment, end time.Time) decimal.Decimal {
	return a.Charge(end).Amount
}
