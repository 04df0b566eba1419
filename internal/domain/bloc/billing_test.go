package bloc

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testBloc() *Bloc {
	return &Bloc{ID: uuid.New(), Name: "Bloc A", BasePrice: dec(40000), SupplementPrice: dec(5000), Active: true}
}

func rentalFor(minutes int) *Rental {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return &Rental{ID: uuid.New(), StartedAt: start, EndedAt: &end, Status: RentalCompleted}
}

func TestComputeBill_BaseAndOvertime(t *testing.T) {
	tests := []struct {
		minutes  int
		tranches int64
		total    int64
	}{
		{45, 0, 40000},
		{90, 0, 40000},
		{105, 1, 45000},
		{120, 1, 45000},
		{121, 2, 50000},
	}
	for _, tt := range tests {
		bill := ComputeBill(testBloc(), nil, rentalFor(tt.minutes), nil, start, DefaultTariff)
		if bill.Tranches != tt.tranches {
			t.Errorf("%d min: expected %d tranches, got %d", tt.minutes, tt.tranches, bill.Tranches)
		}
		if !bill.Total.Equal(dec(tt.total)) {
			t.Errorf("%d min: expected %d, got %s", tt.minutes, tt.total, bill.Total)
		}
	}
}

func TestComputeBill_Forfait(t *testing.T) {
	f := &Forfait{Name: "Appendicectomie", Price: dec(60000), IncludedMinutes: 120}
	r := rentalFor(150)
	r.ForfaitID = &f.ID

	bill := ComputeBill(testBloc(), f, r, nil, start, DefaultTariff)
	if !bill.BaseAmount.Equal(dec(60000)) || bill.IncludedMinutes != 120 {
		t.Errorf("unexpected base %s / included %d", bill.BaseAmount, bill.IncludedMinutes)
	}
	if bill.Tranches != 1 || !bill.Total.Equal(dec(65000)) {
		t.Errorf("expected 1 tranche and 65000, got %d and %s", bill.Tranches, bill.Total)
	}
}

func TestComputeBill_Consumables(t *testing.T) {
	items := []*Consumption{
		{ItemCode: "GANTS", Kind: KindProduct, QuantityIncluded: 4, QuantityUsed: 6, UnitPrice: dec(200)},
		{ItemCode: "SUTURE", Kind: KindProduct, QuantityIncluded: 3, QuantityUsed: 1, UnitPrice: dec(900)},
		{ItemCode: "ANESTH", Kind: KindAct, QuantityUsed: 1, UnitPrice: dec(7000)},
	}

	bill := ComputeBill(testBloc(), nil, rentalFor(60), items, start, DefaultTariff)
	if !bill.ConsumablesAmount.Equal(dec(7400)) {
		t.Errorf("expected consumables 7400, got %s", bill.ConsumablesAmount)
	}
	if !bill.Total.Equal(dec(47400)) {
		t.Errorf("expected 47400, got %s", bill.Total)
	}
	unused := bill.Lines[1]
	if unused.Delta != -2 || unused.Unused != 2 || !unused.Amount.IsZero() {
		t.Errorf("unused allowance must be reported, not refunded: %+v", unused)
	}
}

func TestComputeBill_InProgressUsesNow(t *testing.T) {
	r := &Rental{ID: uuid.New(), StartedAt: start, Status: RentalInProgress}

	bill := ComputeBill(testBloc(), nil, r, nil, start.Add(100*time.Minute), DefaultTariff)
	if bill.Minutes != 100 || bill.Final {
		t.Errorf("unexpected running bill %+v", bill)
	}
	if !bill.Total.Equal(dec(45000)) {
		t.Errorf("expected 45000, got %s", bill.Total)
	}
}

func TestComputeBill_CustomTariff(t *testing.T) {
	tariff := Tariff{BaseDuration: time.Hour, TrancheDuration: 15 * time.Minute}
	bill := ComputeBill(testBloc(), nil, rentalFor(80), nil, start, tariff)
	if bill.Tranches != 2 || !bill.Total.Equal(dec(50000)) {
		t.Errorf("expected 2 tranches and 50000, got %d and %s", bill.Tranches, bill.Total)
	}
}

func TestForfait_Included(t *testing.T) {
	f := &Forfait{Items: []ForfaitItem{{ItemCode: "GANTS", Quantity: 4}}}
	if f.Included("GANTS") != 4 || f.Included("SUTURE") != 0 {
		t.Error("unexpected included quantities")
	}
	var none *Forfait
	if none.Included("GANTS") != 0 {
		t.Error("nil forfait includes nothing")
	}

	blocID := uuid.New()
	if !f.AppliesTo(blocID) {
		t.Error("a forfait without bloc applies everywhere")
	}
	other := uuid.New()
	f.BlocID = &other
	if f.AppliesTo(blocID) {
		t.Error("a bloc-specific forfait must not apply to another bloc")
	}
}
