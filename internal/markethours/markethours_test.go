package markethours

import (
	"testing"
	"time"
)

func TestExchange_WithinTradingHours(t *testing.T) {
	e := NSE()

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", time.Date(2026, 2, 26, 9, 14, 59, 0, IST), false},
		{"at open", time.Date(2026, 2, 26, 9, 15, 0, 0, IST), true},
		{"midday", time.Date(2026, 2, 26, 12, 0, 0, 0, IST), true},
		{"at close", time.Date(2026, 2, 26, 15, 30, 0, 0, IST), true},
		{"after close", time.Date(2026, 2, 26, 15, 30, 0, 1e6, IST), false},
		// Clock-only check: weekends are not rejected here.
		{"saturday midday", time.Date(2026, 2, 28, 12, 0, 0, 0, IST), true},
	}
	for _, tc := range cases {
		if got := e.WithinTradingHours(tc.t.UnixMilli()); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestExchange_DayCodeUsesExchangeZone(t *testing.T) {
	e := NSE()
	// 2026-02-26 20:00 UTC is already 2026-02-27 01:30 IST.
	ms := time.Date(2026, 2, 26, 20, 0, 0, 0, time.UTC).UnixMilli()
	if got := e.DayCode(ms); got != 20260227 {
		t.Errorf("expected 20260227, got %d", got)
	}
}

func TestExchange_OpenClose(t *testing.T) {
	e := NSE()
	open := e.Open(20260226)
	cl := e.Close(20260226)
	if cl-open != (6*60+15)*60*1000 {
		t.Errorf("unexpected session length %d", cl-open)
	}
	if e.SessionLength(20260226) != cl-open {
		t.Error("SessionLength mismatch")
	}
}

func TestExchange_IsTradingDay(t *testing.T) {
	e := NSE()
	cases := []struct {
		day  int
		want bool
	}{
		{20260226, true},  // Thursday
		{20260228, false}, // Saturday
		{20260301, false}, // Sunday
		{20260126, false}, // Republic Day
	}
	for _, tc := range cases {
		if got := e.IsTradingDay(tc.day); got != tc.want {
			t.Errorf("IsTradingDay(%d) = %v, want %v", tc.day, got, tc.want)
		}
	}
}

func TestExchange_NextDay(t *testing.T) {
	e := NSE()
	if got := e.NextDay(20260228); got != 20260301 {
		t.Errorf("expected 20260301, got %d", got)
	}
	if got := e.NextDay(20261231); got != 20270101 {
		t.Errorf("expected 20270101, got %d", got)
	}
	if got := e.PrevDay(20270101); got != 20261231 {
		t.Errorf("expected 20261231, got %d", got)
	}
	if got := e.PrevDay(20260301); got != 20260228 {
		t.Errorf("expected 20260228, got %d", got)
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Hour != 9 || c.Minute != 30 {
		t.Errorf("unexpected clock %+v", c)
	}
	if c.String() != "09:30" {
		t.Errorf("unexpected string %s", c.String())
	}
	for _, bad := range []string{"930", "24:00", "09:60", "aa:bb"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestCalendar(t *testing.T) {
	c := NewCalendar(20260227, 20260225, 20260226, 20260226)
	if c.Len() != 3 {
		t.Fatalf("expected 3 days, got %d", c.Len())
	}
	days := c.Days()
	if days[0] != 20260225 || days[2] != 20260227 {
		t.Errorf("days not ordered: %v", days)
	}
	between := c.Between(20260225, 20260227)
	if len(between) != 1 || between[0] != 20260226 {
		t.Errorf("expected [20260226], got %v", between)
	}
	if !c.Contains(20260226) || c.Contains(20260228) {
		t.Error("Contains mismatch")
	}

	var nilCal *Calendar
	if nilCal.Contains(20260226) || nilCal.Len() != 0 || nilCal.Clone() != nil {
		t.Error("nil calendar should behave as empty and clone to nil")
	}
}

func TestBuildCalendar_SkipsWeekendsAndHolidays(t *testing.T) {
	e := NSE()
	c := BuildCalendar(e, 20260123, 20260127)
	// Fri 23, Sat 24, Sun 25, Mon 26 (holiday), Tue 27
	want := []int{20260123, 20260127}
	got := c.Days()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}
