package resolver

import (
	"errors"
	"math"

	"putup-system/internal/graph"
	"putup-system/internal/markethours"
)

// ShallowestLine builds a line from c to each point of later, in time order,
// and returns the one with the smallest |gradient|. The first line found
// wins ties. Lines that cannot be formed are skipped; a missing trading-day
// calendar is returned as an error. A nil line means no candidate existed.
func ShallowestLine(g *graph.Graph, c *graph.Point, later []*graph.Point, cal *markethours.Calendar) (*graph.TrendLine, error) {
	var (
		best    *graph.TrendLine
		bestAbs = math.Inf(1)
	)
	for _, e := range later {
		if e.Timestamp <= c.Timestamp {
			continue
		}
		l, err := graph.NewTrendLine(c, e, g)
		if err != nil {
			continue
		}
		l.SetTradingDays(cal)
		m, err := l.Gradient()
		if errors.Is(err, graph.ErrTradingDaysRequired) {
			return nil, err
		}
		if err != nil {
			continue
		}
		if a := math.Abs(m); a < bestAbs {
			best, bestAbs = l, a
		}
	}
	return best, nil
}

// ShallowestAfter is ShallowestLine over every point of sub strictly after c.
func ShallowestAfter(sub *graph.Graph, c *graph.Point, cal *markethours.Calendar) (*graph.TrendLine, error) {
	var later []*graph.Point
	sub.Points().AscendAfter(c, func(p *graph.Point) bool {
		later = append(later, p)
		return true
	})
	return ShallowestLine(sub, c, later, cal)
}
