package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBillableDays(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       int64
	}{
		{"two full days", "2024-01-01 08:00", "2024-01-03 08:00", 2},
		{"one minute over", "2024-01-01 08:00", "2024-01-02 08:01", 2},
		{"same instant bills one night", "2024-01-01 08:00", "2024-01-01 08:00", 1},
		{"three hours bills one night", "2024-01-01 08:00", "2024-01-01 11:00", 1},
		{"end before start bills one night", "2024-01-02 08:00", "2024-01-01 08:00", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BillableDays(Interval{Start: at(tt.start), End: at(tt.end)})
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIntervalCost_Nightly(t *testing.T) {
	iv := Interval{Start: at("2024-01-01 08:00"), End: at("2024-01-03 08:00")}
	c := IntervalCost(iv, Rate{Mode: ModeNightly, NightlyPrice: dec("15000")})
	if !c.Amount.Equal(dec("30000")) {
		t.Errorf("expected 30000, got %s", c.Amount)
	}
	if c.Units != 2 || c.Unit != "night" {
		t.Errorf("unexpected units: %d %s", c.Units, c.Unit)
	}
}

func TestIntervalCost_HourlyWithRate(t *testing.T) {
	rate := dec("1200")
	iv := Interval{Start: at("2024-01-01 08:00"), End: at("2024-01-01 13:30")}
	c := IntervalCost(iv, Rate{Mode: ModeHourly, NightlyPrice: dec("15000"), HourlyRate: &rate})
	if c.Units != 6 {
		t.Errorf("expected 6 started hours, got %d", c.Units)
	}
	if !c.Amount.Equal(dec("7200")) {
		t.Errorf("expected 7200, got %s", c.Amount)
	}
}

func TestIntervalCost_HourlyFallsBackToNightlyProration(t *testing.T) {
	iv := Interval{Start: at("2024-01-01 08:00"), End: at("2024-01-01 14:00")}
	c := IntervalCost(iv, Rate{Mode: ModeHourly, NightlyPrice: dec("24000")})
	if !c.Amount.Equal(dec("6000")) {
		t.Errorf("expected 6000, got %s", c.Amount)
	}
}

func TestIntervalCost_HourlyModeBillsLongStaysByTheNight(t *testing.T) {
	rate := dec("2000")
	r := Rate{Mode: ModeHourly, NightlyPrice: dec("15000"), HourlyRate: &rate}

	c := IntervalCost(Interval{Start: at("2024-01-01 08:00"), End: at("2024-01-04 08:00")}, r)
	if c.Unit != "night" || c.Units != 3 || !c.Amount.Equal(dec("45000")) {
		t.Errorf("expected 3 nights for 45000, got %+v", c)
	}
	c = IntervalCost(Interval{Start: at("2024-01-01 08:00"), End: at("2024-01-02 08:00")}, r)
	if c.Unit != "night" || c.Units != 1 {
		t.Errorf("a full day is not a short stay, got %+v", c)
	}
	c = IntervalCost(Interval{Start: at("2024-01-01 08:00"), End: at("2024-01-02 07:59")}, r)
	if c.Unit != "hour" || c.Units != 24 {
		t.Errorf("expected 24 started hours, got %+v", c)
	}
}

func TestContinuationCost(t *testing.T) {
	r := Rate{Mode: ModeNightly, NightlyPrice: dec("15000")}
	anchor := at("2024-01-01 08:00")

	head := IntervalCost(Interval{Start: anchor, End: at("2024-01-01 18:00")}, r)
	tail := ContinuationCost(anchor, Interval{Start: at("2024-01-01 18:00"), End: at("2024-01-03 08:00")}, r)
	if !head.Amount.Add(tail.Amount).Equal(dec("30000")) {
		t.Errorf("split stay should bill like the whole one: %s + %s", head.Amount, tail.Amount)
	}
	if tail.Units != 1 {
		t.Errorf("expected the tail to add one night, got %d", tail.Units)
	}
	if d := ContinuationDays(anchor, Interval{Start: at("2024-01-01 18:00"), End: at("2024-01-03 08:00")}); d != 1 {
		t.Errorf("expected 1 continuation day, got %d", d)
	}

	// Without an earlier start it is a plain interval.
	plain := ContinuationCost(anchor, Interval{Start: anchor, End: at("2024-01-01 09:00")}, r)
	if !plain.Amount.Equal(dec("15000")) {
		t.Errorf("expected one night, got %s", plain.Amount)
	}
}

func TestOverage_BlocScenario(t *testing.T) {
	n, amount := Overage(105*time.Minute, 90*time.Minute, 30*time.Minute, dec("5000"))
	if n != 1 {
		t.Errorf("expected 1 tranche, got %d", n)
	}
	if !amount.Equal(dec("5000")) {
		t.Errorf("expected 5000, got %s", amount)
	}
}

func TestTranches(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    int64
	}{
		{60 * time.Minute, 0},
		{90 * time.Minute, 0},
		{91 * time.Minute, 1},
		{120 * time.Minute, 1},
		{121 * time.Minute, 2},
	}
	for _, tt := range tests {
		if got := Tranches(tt.elapsed, 90*time.Minute, 30*time.Minute); got != tt.want {
			t.Errorf("Tranches(%s) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
	if got := Tranches(time.Hour, 0, 0); got != 0 {
		t.Errorf("zero tranche size should bill nothing, got %d", got)
	}
}

func TestQuantityOverage(t *testing.T) {
	delta, amount := QuantityOverage(2, 5, dec("300"))
	if delta != 3 || !amount.Equal(dec("900")) {
		t.Errorf("expected 3 / 900, got %d / %s", delta, amount)
	}

	delta, amount = QuantityOverage(4, 1, dec("300"))
	if delta != -3 {
		t.Errorf("expected -3 unused allowance, got %d", delta)
	}
	if !amount.IsZero() {
		t.Errorf("unused allowance must not be refunded, got %s", amount)
	}
}
