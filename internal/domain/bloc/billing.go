package bloc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/pricing"
)

// Tariff holds the durations the bloc prices are quoted against.
type Tariff struct {
	BaseDuration    time.Duration
	TrancheDuration time.Duration
}

// DefaultTariff is 90 minutes included, then 30-minute tranches.
var DefaultTariff = Tariff{BaseDuration: 90 * time.Minute, TrancheDuration: 30 * time.Minute}

// ConsumptionLine is the billed part of one consumption. A negative Delta
// is unused allowance and bills nothing.
type ConsumptionLine struct {
	ItemCode  string          `json:"item_code"`
	Kind      ItemKind        `json:"kind"`
	Included  int64           `json:"quantity_included"`
	Used      int64           `json:"quantity_used"`
	Delta     int64           `json:"delta"`
	Unused    int64           `json:"unused"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// Bill is the priced view of a rental as of AsOf.
type Bill struct {
	RentalID          uuid.UUID         `json:"rental_id"`
	ForfaitID         *uuid.UUID        `json:"forfait_id,omitempty"`
	Minutes           int64             `json:"minutes"`
	IncludedMinutes   int64             `json:"included_minutes"`
	Tranches          int64             `json:"tranches"`
	BaseAmount        decimal.Decimal   `json:"base_amount"`
	OvertimeAmount    decimal.Decimal   `json:"overtime_amount"`
	Lines             []ConsumptionLine `json:"consumptions"`
	ConsumablesAmount decimal.Decimal   `json:"consumables_amount"`
	Total             decimal.Decimal   `json:"total"`
	Final             bool              `json:"final"`
	AsOf              time.Time         `json:"as_of"`
}

// ComputeBill prices r. Without a forfait the bloc base price covers the
// tariff base duration; with one, the forfait price covers its included
// minutes. In both cases every started tranche beyond costs the bloc
// supplement. An in-progress rental is priced up to now.
func ComputeBill(b *Bloc, f *Forfait, r *Rental, items []*Consumption, now time.Time, t Tariff) Bill {
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	elapsed := pricing.Interval{Start: r.StartedAt, End: end}.Duration()

	base, included := b.BasePrice, t.BaseDuration
	if f != nil {
		base, included = f.Price, time.Duration(f.IncludedMinutes)*time.Minute
	}
	tranches, overtime := pricing.Overage(elapsed, included, t.TrancheDuration, b.SupplementPrice)

	bill := Bill{
		RentalID:        r.ID,
		ForfaitID:       r.ForfaitID,
		Minutes:         int64(elapsed / time.Minute),
		IncludedMinutes: int64(included / time.Minute),
		Tranches:        tranches,
		BaseAmount:      base,
		OvertimeAmount:  overtime,
		Final:           r.Status == RentalCompleted,
		AsOf:            end,
	}
	bill.Lines, bill.ConsumablesAmount = consumptionLines(items)
	bill.Total = bill.BaseAmount.Add(bill.OvertimeAmount).Add(bill.ConsumablesAmount)
	return bill
}

// StoredBill rebuilds the bill of a completed rental from the amounts frozen
// at completion. Consumption lines are detail only; the totals are not
// recomputed.
func StoredBill(r *Rental, items []*Consumption) Bill {
	end := r.StartedAt
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	bill := Bill{
		RentalID:          r.ID,
		ForfaitID:         r.ForfaitID,
		Minutes:           int64(pricing.Interval{Start: r.StartedAt, End: end}.Duration() / time.Minute),
		IncludedMinutes:   r.IncludedMinutes,
		Tranches:          r.Tranches,
		BaseAmount:        r.BaseAmount,
		OvertimeAmount:    r.OvertimeAmount,
		ConsumablesAmount: r.ConsumablesAmount,
		Total:             r.Total,
		Final:             true,
		AsOf:              end,
	}
	bill.Lines, _ = consumptionLines(items)
	return bill
}

// consumptionLines prices each consumption beyond its included quantity.
func consumptionLines(items []*Consumption) ([]ConsumptionLine, decimal.Decimal) {
	lines := make([]ConsumptionLine, 0, len(items))
	total := decimal.Zero
	for _, c := range items {
		delta, amount := pricing.QuantityOverage(c.QuantityIncluded, c.QuantityUsed, c.UnitPrice)
		line := ConsumptionLine{
			ItemCode:  c.ItemCode,
			Kind:      c.Kind,
			Included:  c.QuantityIncluded,
			Used:      c.QuantityUsed,
			Delta:     delta,
			UnitPrice: c.UnitPrice,
			Amount:    amount,
		}
		if delta < 0 {
			line.Unused = -delta
		}
		lines = append(lines, line)
		total = total.Add(amount)
	}
	return lines, total
}
