package redis

import (
	"putup-system/internal/graph"
	"putup-system/internal/model"
)

// YLine is the published form of one finalized line, by effective
// endpoints.
type YLine struct {
	CTS      int64       `json:"c_ts"`
	CPrice   model.Price `json:"c_price"`
	ETS      int64       `json:"e_ts"`
	EPrice   model.Price `json:"e_price"`
	StandIn  bool        `json:"stand_in"`
	Gradient *float64    `json:"gradient,omitempty"`
}

// YLineSet is the message published after each resolution run.
type YLineSet struct {
	Security   string  `json:"security"`
	ResolvedAt int64   `json:"resolved_at"`
	Lines      []YLine `json:"lines"`
}

// NewYLineSet flattens lines for publication.
func NewYLineSet(sec model.Security, resolvedAt int64, lines []*graph.TrendLine) YLineSet {
	set := YLineSet{Security: sec.Key(), ResolvedAt: resolvedAt, Lines: make([]YLine, 0, len(lines))}
	for _, l := range lines {
		c, e := l.EffectiveC(), l.EffectiveE()
		y := YLine{
			CTS:     c.Timestamp,
			CPrice:  c.LastPrice(),
			ETS:     e.Timestamp,
			EPrice:  e.LastPrice(),
			StandIn: l.StandInC() != nil || l.StandInE() != nil,
		}
		if m, err := l.Gradient(); err == nil {
			y.Gradient = &m
		}
		set.Lines = append(set.Lines, y)
	}
	return set
}

// pointMsg is the stream and pub/sub form of a live point.
type pointMsg struct {
	Security string `json:"security"`
	CSV      string `json:"csv"`
}
