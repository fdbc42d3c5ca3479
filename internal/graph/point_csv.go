package graph

import (
	"fmt"
	"strconv"
	"strings"

	"putup-system/internal/model"
)

// CSV layout shared by every variant:
//
//	kind,request_id,ts,open,high,low,close,wap,volume,count,has_gaps
//
// Quote variants (bid, ask, synthetic) append one column: quote.
const csvCommonFields = 11

// MarshalCSV renders p as one CSV record. Prices are the raw fixed-point integers.
func (p *Point) MarshalCSV() string {
	fields := make([]string, 0, csvCommonFields+1)
	fields = append(fields,
		p.Kind.String(),
		strconv.Itoa(p.RequestID),
		strconv.FormatInt(p.Timestamp, 10),
		strconv.FormatInt(int64(p.Open), 10),
		strconv.FormatInt(int64(p.High), 10),
		strconv.FormatInt(int64(p.Low), 10),
		strconv.FormatInt(int64(p.Close), 10),
		strconv.FormatInt(int64(p.WAP), 10),
		strconv.FormatInt(p.Volume, 10),
		strconv.Itoa(p.Count),
		strconv.FormatBool(p.HasGaps),
	)
	switch p.Kind {
	case KindBid, KindAsk, KindSynthetic:
		fields = append(fields, strconv.FormatInt(int64(p.Quote), 10))
	}
	return strings.Join(fields, ",")
}

// ParsePointCSV is the inverse of MarshalCSV.
func ParsePointCSV(s string) (*Point, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) < csvCommonFields {
		return nil, fmt.Errorf("point csv: want at least %d fields, got %d", csvCommonFields, len(fields))
	}
	kind, err := ParseKind(fields[0])
	if err != nil {
		return nil, fmt.Errorf("point csv: %w", err)
	}

	var ints [9]int64
	for i := range ints {
		v, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("point csv: field %d: %w", i+1, err)
		}
		ints[i] = v
	}
	gaps, err := strconv.ParseBool(fields[10])
	if err != nil {
		return nil, fmt.Errorf("point csv: has_gaps: %w", err)
	}

	p := &Point{
		Kind:      kind,
		RequestID: int(ints[0]),
		Timestamp: ints[1],
		Open:      model.Price(ints[2]),
		High:      model.Price(ints[3]),
		Low:       model.Price(ints[4]),
		Close:     model.Price(ints[5]),
		WAP:       model.Price(ints[6]),
		Volume:    ints[7],
		Count:     int(ints[8]),
		HasGaps:   gaps,
	}

	switch kind {
	case KindBid, KindAsk, KindSynthetic:
		if len(fields) != csvCommonFields+1 {
			return nil, fmt.Errorf("point csv: %s needs a quote column", kind)
		}
		q, err := strconv.ParseInt(fields[csvCommonFields], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("point csv: quote: %w", err)
		}
		p.Quote = model.Price(q)
	default:
		if len(fields) != csvCommonFields {
			return nil, fmt.Errorf("point csv: %s takes no quote column", kind)
		}
	}
	return p, nil
}
