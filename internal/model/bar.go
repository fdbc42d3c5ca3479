package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Broker date layouts for bar timestamps. Intraday bars carry a double space
// between date and time; daily bars carry only the date.
const (
	BarTimeLayout = "20060102  15:04:05"
	BarDayLayout  = "20060102"
)

// Bar is one OHLC sample as delivered by a historic or real-time data feed.
// Prices are floats on the wire and are converted to fixed point when the
// bar becomes a graph point.
type Bar struct {
	RequestID int     `json:"request_id"`
	Date      string  `json:"date,omitempty"` // broker date string, used when TS is zero
	TS        int64   `json:"ts,omitempty"`   // epoch milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	Count     int     `json:"count"`
	WAP       float64 `json:"wap"`
	HasGaps   bool    `json:"has_gaps"`
	RealTime  bool    `json:"real_time,omitempty"`
}

// Timestamp resolves the bar time in epoch milliseconds. Date strings are
// interpreted in loc, the exchange time zone. A bare integer date string is
// treated as epoch seconds.
func (b *Bar) Timestamp(loc *time.Location) (int64, error) {
	if b.TS != 0 {
		return b.TS, nil
	}
	d := strings.TrimSpace(b.Date)
	if d == "" {
		return 0, fmt.Errorf("bar %d: no timestamp", b.RequestID)
	}
	switch {
	case len(d) == len(BarDayLayout):
		t, err := time.ParseInLocation(BarDayLayout, d, loc)
		if err != nil {
			return 0, fmt.Errorf("bar %d: parse date %q: %w", b.RequestID, d, err)
		}
		return t.UnixMilli(), nil
	case strings.Contains(d, ":"):
		t, err := time.ParseInLocation(BarTimeLayout, d, loc)
		if err != nil {
			return 0, fmt.Errorf("bar %d: parse date %q: %w", b.RequestID, d, err)
		}
		return t.UnixMilli(), nil
	default:
		secs, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bar %d: parse epoch %q: %w", b.RequestID, d, err)
		}
		return secs * 1000, nil
	}
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
