package graph

import "putup-system/internal/model"

// Flat is a run of time-contiguous points sharing one last price.
type Flat struct {
	points []*Point
}

// NewFlat starts a flat at p.
func NewFlat(p *Point) *Flat {
	return &Flat{points: []*Point{p}}
}

// Append adds p if its price equals the flat's price.
func (f *Flat) Append(p *Point) bool {
	if p == nil || p.LastPrice() != f.Price() {
		return false
	}
	f.points = append(f.points, p)
	return true
}

// Price returns the flat's common price.
func (f *Flat) Price() model.Price { return f.points[0].LastPrice() }

// First returns the earliest point of the run.
func (f *Flat) First() *Point { return f.points[0] }

// Last returns the latest point of the run.
func (f *Flat) Last() *Point { return f.points[len(f.points)-1] }

// Len returns the number of points in the run.
func (f *Flat) Len() int { return len(f.points) }

// Points returns a copy of the run.
func (f *Flat) Points() []*Point {
	return append([]*Point(nil), f.points...)
}

// FlatCollection is the flat partition of one graph snapshot.
type FlatCollection struct {
	series *Series
	flats  []*Flat
}

// DetectFlats scans g for maximal runs of two or more equal-price points.
func DetectFlats(g *Graph) *FlatCollection {
	return DetectSeriesFlats(g.Points())
}

// DetectSeriesFlats is DetectFlats over a time-ordered series.
func DetectSeriesFlats(s *Series) *FlatCollection {
	fc := &FlatCollection{series: s}
	var cur *Flat
	s.Ascend(func(p *Point) bool {
		if cur != nil && cur.Append(p) {
			return true
		}
		if cur != nil && cur.Len() > 1 {
			fc.flats = append(fc.flats, cur)
		}
		cur = NewFlat(p)
		return true
	})
	if cur != nil && cur.Len() > 1 {
		fc.flats = append(fc.flats, cur)
	}
	return fc
}

// Flats returns the flats in time order.
func (fc *FlatCollection) Flats() []*Flat {
	return append([]*Flat(nil), fc.flats...)
}

func (fc *FlatCollection) Len() int { return len(fc.flats) }

// Pairs walks the flats latest first and pairs each with its chronological
// predecessor. Fewer than two flats yield no pairs.
func (fc *FlatCollection) Pairs() []*FlatPair {
	if len(fc.flats) < 2 {
		return nil
	}
	out := make([]*FlatPair, 0, len(fc.flats)-1)
	for i := len(fc.flats) - 1; i > 0; i-- {
		out = append(out, newFlatPair(fc.series, fc.flats[i-1], fc.flats[i]))
	}
	return out
}

// HighestScoringPair returns the pair with the largest score. On ties the
// latest pair wins.
func (fc *FlatCollection) HighestScoringPair() (*FlatPair, bool) {
	var best *FlatPair
	for _, fp := range fc.Pairs() {
		if best == nil || fp.Score() > best.Score() {
			best = fp
		}
	}
	return best, best != nil
}

// FlatPair is two consecutive flats and the price range spanned between them.
type FlatPair struct {
	Earlier *Flat
	Later   *Flat
	score   model.Price
}

func newFlatPair(s *Series, earlier, later *Flat) *FlatPair {
	span := s.SubSet(earlier.First(), later.Last(), true, true)
	var score model.Price
	if hi, lo := span.Highest(), span.Lowest(); hi != nil && lo != nil {
		score = hi.LastPrice() - lo.LastPrice()
	}
	return &FlatPair{Earlier: earlier, Later: later, score: score}
}

// Score is highest minus lowest price from the earlier flat's first point
// to the later flat's last point.
func (fp *FlatPair) Score() model.Price { return fp.score }
