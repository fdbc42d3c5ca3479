package graph

import (
	"math"

	"github.com/google/btree"
)

// Order selects the comparator of a Series.
type Order uint8

const (
	// ByTime orders by timestamp, then variant rank.
	ByTime Order = iota
	// ByPrice orders by last price, then by time.
	ByPrice
)

func (o Order) cmp(a, b *Point) int {
	if o == ByPrice {
		return PriceOrdering(a, b)
	}
	return Ordering(a, b)
}

const btreeDegree = 32

// Series is a navigable ordered set of points. It is not safe for concurrent
// mutation; a Graph hands out independent Series snapshots.
type Series struct {
	order Order
	tree  *btree.BTreeG[*Point]
}

// NewSeries returns a Series ordered by order, seeded with points.
func NewSeries(order Order, points ...*Point) *Series {
	s := &Series{
		order: order,
		tree: btree.NewG(btreeDegree, func(a, b *Point) bool {
			return order.cmp(a, b) < 0
		}),
	}
	for _, p := range points {
		s.Add(p)
	}
	return s
}

// Order returns the comparator in use.
func (s *Series) Order() Order { return s.order }

// Len returns the number of points.
func (s *Series) Len() int { return s.tree.Len() }

// Add inserts p. It returns false when an equal-ordered point exists or when
// another point at the same timestamp has the same last price.
func (s *Series) Add(p *Point) bool {
	if p == nil || s.tree.Has(p) || s.hasSameValue(p) {
		return false
	}
	s.tree.ReplaceOrInsert(p)
	return true
}

func (s *Series) hasSameValue(p *Point) bool {
	found := false
	lo := probe(kindProbeLow, p.Timestamp, p.LastPrice())
	hi := probe(kindProbeHigh, p.Timestamp, p.LastPrice())
	s.tree.AscendRange(lo, hi, func(q *Point) bool {
		if SameValueAs(p, q) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Remove deletes the point ordered equal to p.
func (s *Series) Remove(p *Point) bool {
	_, ok := s.tree.Delete(p)
	return ok
}

// Contains reports whether a point ordered equal to p is present.
func (s *Series) Contains(p *Point) bool {
	return s.tree.Has(p)
}

// First returns the lowest point or nil.
func (s *Series) First() *Point {
	p, _ := s.tree.Min()
	return p
}

// Last returns the highest point or nil.
func (s *Series) Last() *Point {
	p, _ := s.tree.Max()
	return p
}

// Ceiling returns the least point >= p, or nil.
func (s *Series) Ceiling(p *Point) *Point {
	var out *Point
	s.tree.AscendGreaterOrEqual(p, func(q *Point) bool {
		out = q
		return false
	})
	return out
}

// Higher returns the least point > p, or nil.
func (s *Series) Higher(p *Point) *Point {
	var out *Point
	s.tree.AscendGreaterOrEqual(p, func(q *Point) bool {
		if s.order.cmp(q, p) == 0 {
			return true
		}
		out = q
		return false
	})
	return out
}

// Floor returns the greatest point <= p, or nil.
func (s *Series) Floor(p *Point) *Point {
	var out *Point
	s.tree.DescendLessOrEqual(p, func(q *Point) bool {
		out = q
		return false
	})
	return out
}

// Lower returns the greatest point < p, or nil.
func (s *Series) Lower(p *Point) *Point {
	var out *Point
	s.tree.DescendLessOrEqual(p, func(q *Point) bool {
		if s.order.cmp(q, p) == 0 {
			return true
		}
		out = q
		return false
	})
	return out
}

// SubSet returns an independent Series of the points between from and to.
// An inverted range yields an empty Series.
func (s *Series) SubSet(from, to *Point, fromInclusive, toInclusive bool) *Series {
	out := NewSeries(s.order)
	if from == nil || to == nil || s.order.cmp(from, to) > 0 {
		return out
	}
	s.tree.AscendGreaterOrEqual(from, func(q *Point) bool {
		if !fromInclusive && s.order.cmp(q, from) == 0 {
			return true
		}
		c := s.order.cmp(q, to)
		if c > 0 || (c == 0 && !toInclusive) {
			return false
		}
		out.tree.ReplaceOrInsert(q)
		return true
	})
	return out
}

// HeadSet returns the points before to (inclusive if requested).
func (s *Series) HeadSet(to *Point, inclusive bool) *Series {
	first := s.First()
	if first == nil {
		return NewSeries(s.order)
	}
	if s.order.cmp(first, to) > 0 {
		return NewSeries(s.order)
	}
	return s.SubSet(first, to, true, inclusive)
}

// TailSet returns the points after from (inclusive if requested).
func (s *Series) TailSet(from *Point, inclusive bool) *Series {
	last := s.Last()
	if last == nil || s.order.cmp(from, last) > 0 {
		return NewSeries(s.order)
	}
	return s.SubSet(from, last, inclusive, true)
}

// Between returns the time-ordered points with timestamps in [fromMs, toMs].
// Only meaningful for ByTime series.
func (s *Series) Between(fromMs, toMs int64) *Series {
	return s.SubSet(
		probe(kindProbeLow, fromMs, 0),
		probe(kindProbeHigh, toMs, math.MaxInt64),
		true, true)
}

// Ascend walks points in order until fn returns false.
func (s *Series) Ascend(fn func(p *Point) bool) {
	s.tree.Ascend(btree.ItemIteratorG[*Point](fn))
}

// Descend walks points in reverse order until fn returns false.
func (s *Series) Descend(fn func(p *Point) bool) {
	s.tree.Descend(btree.ItemIteratorG[*Point](fn))
}

// DescendFrom walks points <= from in reverse order until fn returns false.
func (s *Series) DescendFrom(from *Point, fn func(p *Point) bool) {
	s.tree.DescendLessOrEqual(from, btree.ItemIteratorG[*Point](fn))
}

// AscendAfter walks points strictly after from until fn returns false.
func (s *Series) AscendAfter(from *Point, fn func(p *Point) bool) {
	s.tree.AscendGreaterOrEqual(from, func(q *Point) bool {
		if s.order.cmp(q, from) == 0 {
			return true
		}
		return fn(q)
	})
}

// Points returns the points in order.
func (s *Series) Points() []*Point {
	out := make([]*Point, 0, s.tree.Len())
	s.tree.Ascend(func(p *Point) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Descending returns the points in reverse order.
func (s *Series) Descending() []*Point {
	out := make([]*Point, 0, s.tree.Len())
	s.tree.Descend(func(p *Point) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Clone returns an independent copy. Points are shared; they are immutable.
func (s *Series) Clone() *Series {
	return &Series{order: s.order, tree: s.tree.Clone()}
}

// Reorder returns a copy of s under a different comparator.
func (s *Series) Reorder(order Order) *Series {
	if order == s.order {
		return s.Clone()
	}
	out := NewSeries(order)
	s.tree.Ascend(func(p *Point) bool {
		out.tree.ReplaceOrInsert(p)
		return true
	})
	return out
}

// Highest returns the point with the greatest last price; ties keep the
// earliest. Lowest keeps the latest on ties.
func (s *Series) Highest() *Point {
	var hi *Point
	s.tree.Ascend(func(p *Point) bool {
		if hi == nil || p.LastPrice() > hi.LastPrice() {
			hi = p
		}
		return true
	})
	return hi
}

// Lowest returns the point with the least last price, latest on ties.
func (s *Series) Lowest() *Point {
	var lo *Point
	s.tree.Ascend(func(p *Point) bool {
		if lo == nil || p.LastPrice() <= lo.LastPrice() {
			lo = p
		}
		return true
	})
	return lo
}
