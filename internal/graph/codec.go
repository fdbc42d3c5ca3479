package graph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

// Tuple is one (entity, index, field, value) row of a persisted graph.
type Tuple struct {
	Entity string `json:"entity" db:"entity"`
	Index  int    `json:"index" db:"idx"`
	Field  string `json:"field" db:"field"`
	Value  string `json:"value" db:"value"`
}

const (
	entityGraph     = "graph"
	entityPrevClose = "prev_close"
	entityPoint     = "point"
	entityLine      = "line"
)

// pointFields names the MarshalCSV columns in order.
var pointFields = []string{
	"kind", "request_id", "ts", "open", "high", "low", "close",
	"wap", "volume", "count", "has_gaps", "quote",
}

var errBadTuples = errors.New("graph tuples")

// Encode flattens g into tuples: security and calendar metadata, the
// previous close, every point field by field, and every cached trend line.
// Archived previous-day graphs are not included.
func Encode(g *Graph) []Tuple {
	g.mu.Lock()
	pts := g.points.Points()
	highest, lowest := g.highest, g.lowest
	prevClose := g.prevClose
	cal := g.tradingDays
	lines := append([]*TrendLine(nil), g.lines...)
	g.mu.Unlock()

	sec := g.security
	out := []Tuple{
		{entityGraph, 0, "ticker", sec.Ticker},
		{entityGraph, 0, "market", sec.Market},
		{entityGraph, 0, "class", sec.Class},
		{entityGraph, 0, "type", sec.Type},
		{entityGraph, 0, "exchange", g.exchange.Name},
		{entityGraph, 0, "highest", strconv.Itoa(indexOf(pts, highest))},
		{entityGraph, 0, "lowest", strconv.Itoa(indexOf(pts, lowest))},
	}
	out = append(out, calendarTuples(entityGraph, 0, cal)...)

	if prevClose != nil {
		out = append(out, Tuple{entityPrevClose, 0, "csv", prevClose.MarshalCSV()})
	}
	for i, p := range pts {
		for j, v := range strings.Split(p.MarshalCSV(), ",") {
			out = append(out, Tuple{entityPoint, i, pointFields[j], v})
		}
	}
	for i, l := range lines {
		l.mu.Lock()
		out = append(out,
			Tuple{entityLine, i, "c", l.c.MarshalCSV()},
			Tuple{entityLine, i, "e", l.e.MarshalCSV()},
		)
		if l.standInC != nil {
			out = append(out, Tuple{entityLine, i, "stand_in_c", l.standInC.MarshalCSV()})
		}
		if l.standInE != nil {
			out = append(out, Tuple{entityLine, i, "stand_in_e", l.standInE.MarshalCSV()})
		}
		lineCal := l.tradingDays
		l.mu.Unlock()
		out = append(out, calendarTuples(entityLine, i, lineCal)...)
	}
	return out
}

func indexOf(pts []*Point, p *Point) int {
	if p == nil {
		return -1
	}
	i := sort.Search(len(pts), func(i int) bool { return Ordering(pts[i], p) >= 0 })
	if i < len(pts) && pts[i] == p {
		return i
	}
	return -1
}

func calendarTuples(entity string, idx int, cal *markethours.Calendar) []Tuple {
	if cal == nil {
		return []Tuple{{entity, idx, "has_calendar", "false"}}
	}
	days := cal.Days()
	s := make([]string, len(days))
	for i, d := range days {
		s[i] = strconv.Itoa(d)
	}
	return []Tuple{
		{entity, idx, "has_calendar", "true"},
		{entity, idx, "trading_days", strings.Join(s, ",")},
	}
}

// Decode rebuilds a graph from Encode output. When exchange is nil the
// encoded exchange name is looked up among the built-ins. Trend-line
// endpoints are linked to the identical stored points where present.
func Decode(tuples []Tuple, exchange *markethours.Exchange) (*Graph, error) {
	meta := map[string]string{}
	pointCols := map[int]map[string]string{}
	lineCols := map[int]map[string]string{}
	var prevCSV string

	for _, t := range tuples {
		switch t.Entity {
		case entityGraph:
			meta[t.Field] = t.Value
		case entityPrevClose:
			prevCSV = t.Value
		case entityPoint:
			if pointCols[t.Index] == nil {
				pointCols[t.Index] = map[string]string{}
			}
			pointCols[t.Index][t.Field] = t.Value
		case entityLine:
			if lineCols[t.Index] == nil {
				lineCols[t.Index] = map[string]string{}
			}
			lineCols[t.Index][t.Field] = t.Value
		default:
			return nil, fmt.Errorf("%w: unknown entity %q", errBadTuples, t.Entity)
		}
	}

	if exchange == nil {
		if ex, ok := markethours.Builtin(meta["exchange"]); ok {
			exchange = ex
		}
	}
	g := New(model.Security{
		Ticker: meta["ticker"],
		Market: meta["market"],
		Class:  meta["class"],
		Type:   meta["type"],
	}, exchange)

	cal, err := decodeCalendar(meta)
	if err != nil {
		return nil, err
	}
	g.tradingDays = cal

	if prevCSV != "" {
		p, err := ParsePointCSV(prevCSV)
		if err != nil {
			return nil, fmt.Errorf("%w: previous close: %v", errBadTuples, err)
		}
		g.prevClose = p
	}

	pts := make([]*Point, len(pointCols))
	for i := range pts {
		cols, ok := pointCols[i]
		if !ok {
			return nil, fmt.Errorf("%w: point index %d missing", errBadTuples, i)
		}
		p, err := decodePoint(cols)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", errBadTuples, i, err)
		}
		pts[i] = p
	}
	hi, lo := atoiOr(meta["highest"], -1), atoiOr(meta["lowest"], -1)
	g.restore(pts, hi, lo)

	lineIdx := make([]int, 0, len(lineCols))
	for i := range lineCols {
		lineIdx = append(lineIdx, i)
	}
	sort.Ints(lineIdx)
	for _, i := range lineIdx {
		l, err := decodeLine(g, lineCols[i])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errBadTuples, i, err)
		}
		g.lines = append(g.lines, l)
	}
	return g, nil
}

func decodePoint(cols map[string]string) (*Point, error) {
	vals := make([]string, 0, len(pointFields))
	for _, f := range pointFields {
		v, ok := cols[f]
		if !ok {
			if f == "quote" {
				continue
			}
			return nil, fmt.Errorf("field %s missing", f)
		}
		vals = append(vals, v)
	}
	return ParsePointCSV(strings.Join(vals, ","))
}

func decodeLine(g *Graph, cols map[string]string) (*TrendLine, error) {
	link := func(field string) (*Point, error) {
		s, ok := cols[field]
		if !ok {
			return nil, nil
		}
		p, err := ParsePointCSV(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", field, err)
		}
		if stored := g.Lookup(p); stored != nil {
			return stored, nil
		}
		return p, nil
	}
	c, err := link("c")
	if err != nil {
		return nil, err
	}
	e, err := link("e")
	if err != nil {
		return nil, err
	}
	l, err := NewTrendLine(c, e, g)
	if err != nil {
		return nil, err
	}
	sc, err := link("stand_in_c")
	if err != nil {
		return nil, err
	}
	se, err := link("stand_in_e")
	if err != nil {
		return nil, err
	}
	if sc != nil && !l.SetStandInC(sc) {
		return nil, fmt.Errorf("stand_in_c %s out of range", sc)
	}
	if se != nil && !l.SetStandInE(se) {
		return nil, fmt.Errorf("stand_in_e %s out of range", se)
	}
	cal, err := decodeCalendar(cols)
	if err != nil {
		return nil, err
	}
	l.SetTradingDays(cal)
	return l, nil
}

func decodeCalendar(cols map[string]string) (*markethours.Calendar, error) {
	if cols["has_calendar"] != "true" {
		return nil, nil
	}
	cal := markethours.NewCalendar()
	s := cols["trading_days"]
	if s == "" {
		return cal, nil
	}
	for _, f := range strings.Split(s, ",") {
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: trading day %q", errBadTuples, f)
		}
		cal.Add(d)
	}
	return cal, nil
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
