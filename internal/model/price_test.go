package model

import (
	"testing"
	"time"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want Price
	}{
		{"0", 0},
		{"1", 1000},
		{"101.255", 101255},
		{"-2.5", -2500},
		{"0.0005", 1}, // rounds half away from zero
		{"99.9994", 99999},
	}
	for _, tc := range cases {
		got, err := ParsePrice(tc.in)
		if err != nil {
			t.Fatalf("ParsePrice(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParsePrice(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := ParsePrice("abc"); err == nil {
		t.Error("expected error for non-numeric price")
	}
}

func TestPriceFromFloat_NoDrift(t *testing.T) {
	// 0.1 + 0.2 style drift must not leak into fixed point.
	if got := PriceFromFloat(0.1 + 0.2); got != 300 {
		t.Errorf("expected 300, got %d", got)
	}
	if got := PriceFromFloat(123.456); got != 123456 {
		t.Errorf("expected 123456, got %d", got)
	}
}

func TestPrice_String(t *testing.T) {
	if s := Price(101255).String(); s != "101.255" {
		t.Errorf("expected 101.255, got %s", s)
	}
	if f := Price(2500).Float(); f != 2.5 {
		t.Errorf("expected 2.5, got %v", f)
	}
}

func TestBar_Timestamp(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	b := Bar{RequestID: 7, Date: "20260115  09:30:00"}
	ts, err := b.Timestamp(ny)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	want := time.Date(2026, 1, 15, 9, 30, 0, 0, ny).UnixMilli()
	if ts != want {
		t.Errorf("expected %d, got %d", want, ts)
	}

	day := Bar{Date: "20260115"}
	ts, err = day.Timestamp(ny)
	if err != nil {
		t.Fatalf("day timestamp: %v", err)
	}
	if ts != time.Date(2026, 1, 15, 0, 0, 0, 0, ny).UnixMilli() {
		t.Errorf("unexpected day timestamp %d", ts)
	}

	epoch := Bar{Date: "1768487400"}
	ts, err = epoch.Timestamp(ny)
	if err != nil {
		t.Fatalf("epoch timestamp: %v", err)
	}
	if ts != 1768487400000 {
		t.Errorf("unexpected epoch timestamp %d", ts)
	}

	explicit := Bar{TS: 42, Date: "garbage"}
	if ts, _ := explicit.Timestamp(ny); ts != 42 {
		t.Errorf("explicit TS should win, got %d", ts)
	}

	if _, err := (&Bar{}).Timestamp(ny); err == nil {
		t.Error("expected error for bar without time")
	}
}

func TestSecurity_Key(t *testing.T) {
	s := Security{Ticker: "AAPL", Market: "NASDAQ", Class: "STK", Type: "EQ"}
	if s.Key() != "NASDAQ:AAPL" {
		t.Errorf("unexpected key %s", s.Key())
	}
}
