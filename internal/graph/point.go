// Package graph holds the per-security price/time graph: points, the ordered
// point series, the thread-safe TimeSeriesGraph, flats, Y-line trend lines
// and the recursion ledger used while finalizing trend lines.
package graph

import (
	"fmt"
	"sync"
	"time"

	"putup-system/internal/model"
)

// Kind tags which source produced a point.
type Kind uint8

const (
	KindHistoric Kind = iota + 1
	KindRealTimeBar
	KindBid
	KindAsk
	KindSynthetic

	// range probes, never stored
	kindProbeLow
	kindProbeHigh
)

func (k Kind) String() string {
	switch k {
	case KindHistoric:
		return "HISTORIC"
	case KindRealTimeBar:
		return "RTBAR"
	case KindBid:
		return "BID"
	case KindAsk:
		return "ASK"
	case KindSynthetic:
		return "SYNTHETIC"
	default:
		return "UNKNOWN"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "HISTORIC":
		return KindHistoric, nil
	case "RTBAR":
		return KindRealTimeBar, nil
	case "BID":
		return KindBid, nil
	case "ASK":
		return KindAsk, nil
	case "SYNTHETIC":
		return KindSynthetic, nil
	}
	return 0, fmt.Errorf("unknown point kind %q", s)
}

// rank orders variants that share a timestamp.
func (k Kind) rank() int {
	switch k {
	case kindProbeLow:
		return -1
	case KindSynthetic:
		return 0
	case KindBid:
		return 1
	case KindAsk:
		return 2
	case KindRealTimeBar:
		return 3
	case KindHistoric:
		return 4
	default:
		return 99
	}
}

// quoted reports whether the variant carries its price in Quote.
func (k Kind) quoted() bool {
	switch k {
	case KindBid, KindAsk, KindSynthetic, kindProbeLow, kindProbeHigh:
		return true
	}
	return false
}

// Point is one price/time sample. Fields are set at construction and must
// not change once the point is in a graph; only the attached RecursionCache
// mutates, under the point's own lock. Always handle points by pointer.
type Point struct {
	Kind      Kind
	RequestID int
	Timestamp int64 // epoch milliseconds

	Open  model.Price
	High  model.Price
	Low   model.Price
	Close model.Price
	WAP   model.Price

	Volume  int64
	Count   int
	HasGaps bool

	// Quote is the bid, ask, or carried last price of quote variants.
	Quote model.Price

	mu    sync.Mutex
	cache *RecursionCache
}

// NewBarPoint creates a historic or real-time bar point.
func NewBarPoint(kind Kind, requestID int, ts int64, open, high, low, close, wap model.Price, volume int64, count int, hasGaps bool) *Point {
	return &Point{
		Kind:      kind,
		RequestID: requestID,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		WAP:       wap,
		Volume:    volume,
		Count:     count,
		HasGaps:   hasGaps,
	}
}

// NewQuotePoint creates a bid, ask or synthetic point at a single price.
func NewQuotePoint(kind Kind, requestID int, ts int64, price model.Price, size int64) *Point {
	return &Point{
		Kind:      kind,
		RequestID: requestID,
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		WAP:       price,
		Volume:    size,
		Quote:     price,
	}
}

// NewSyntheticPoint creates a computed point, e.g. a line intersection.
func NewSyntheticPoint(ts int64, price model.Price) *Point {
	return NewQuotePoint(KindSynthetic, 0, ts, price, 0)
}

// FromBar converts an ingestion bar into a point. Date strings resolve in loc.
func FromBar(b *model.Bar, loc *time.Location) (*Point, error) {
	ts, err := b.Timestamp(loc)
	if err != nil {
		return nil, err
	}
	kind := KindHistoric
	if b.RealTime {
		kind = KindRealTimeBar
	}
	return NewBarPoint(kind, b.RequestID, ts,
		model.PriceFromFloat(b.Open),
		model.PriceFromFloat(b.High),
		model.PriceFromFloat(b.Low),
		model.PriceFromFloat(b.Close),
		model.PriceFromFloat(b.WAP),
		b.Volume, b.Count, b.HasGaps), nil
}

// FromTick converts a quote tick into a bid or ask point. Last-trade ticks
// become single-price real-time bars.
func FromTick(t model.Tick, requestID int) *Point {
	kind := KindRealTimeBar
	switch t.Side {
	case model.SideBid:
		kind = KindBid
	case model.SideAsk:
		kind = KindAsk
	}
	return NewQuotePoint(kind, requestID, t.TickTS.UnixMilli(), t.Price, t.Size)
}

func probe(kind Kind, ts int64, price model.Price) *Point {
	return &Point{Kind: kind, Timestamp: ts, Quote: price}
}

// LastPrice is the price the graph reasons about: Close for bars, the quote
// for bid/ask/synthetic points.
func (p *Point) LastPrice() model.Price {
	if p.Kind.quoted() {
		return p.Quote
	}
	return p.Close
}

// Time returns the timestamp in loc.
func (p *Point) Time(loc *time.Location) time.Time {
	return time.UnixMilli(p.Timestamp).In(loc)
}

// Advance returns an independent synthetic copy of p moved forward by d.
// Used to fill one-second gaps when no update arrived.
func (p *Point) Advance(d time.Duration) *Point {
	s := NewQuotePoint(KindSynthetic, p.RequestID, p.Timestamp+d.Milliseconds(), p.LastPrice(), 0)
	s.WAP = p.WAP
	return s
}

// RecursionCache returns the attached cache or nil.
func (p *Point) RecursionCache() *RecursionCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache
}

// AttachCache replaces the attached cache.
func (p *Point) AttachCache(c *RecursionCache) {
	p.mu.Lock()
	p.cache = c
	p.mu.Unlock()
}

// EnsureCache returns the attached cache, creating it on first use.
func (p *Point) EnsureCache() *RecursionCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		p.cache = NewRecursionCache(p)
	}
	return p.cache
}

func (p *Point) String() string {
	return fmt.Sprintf("%s@%d(%s)", p.Kind, p.Timestamp, p.LastPrice())
}

// Ordering is the natural order of points: timestamp, then variant rank.
func Ordering(a, b *Point) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return cmpInt(a.Kind.rank(), b.Kind.rank())
}

// PriceOrdering orders by last price, then by the natural order.
func PriceOrdering(a, b *Point) int {
	pa, pb := a.LastPrice(), b.LastPrice()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	}
	return Ordering(a, b)
}

// SameValueAs is point equality for de-duplication: same timestamp and same
// last price. It deliberately ignores the variant rank that Ordering uses,
// so two points can be ordered apart yet still count as duplicates.
func SameValueAs(a, b *Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Timestamp == b.Timestamp && a.LastPrice() == b.LastPrice()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
