package model

import "time"

// TickSide says which quote a tick updates.
type TickSide string

const (
	SideBid  TickSide = "BID"
	SideAsk  TickSide = "ASK"
	SideLast TickSide = "LAST"
)

// Tick represents a single quote update from the real-time feed.
// Price is fixed point (see PriceScale).
type Tick struct {
	Security Security  `json:"security"`
	Side     TickSide  `json:"side"`
	Price    Price     `json:"price"`
	Size     int64     `json:"size"`
	TickTS   time.Time `json:"tick_ts"`
}
