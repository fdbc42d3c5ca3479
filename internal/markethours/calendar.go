package markethours

import "sort"

// Calendar is an ordered set of trading day codes. A nil *Calendar means
// "no calendar supplied", which is different from an empty one. A Calendar
// is not safe for concurrent mutation.
type Calendar struct {
	days []int
}

// NewCalendar builds a calendar from day codes in any order; duplicates collapse.
func NewCalendar(days ...int) *Calendar {
	c := &Calendar{}
	for _, d := range days {
		c.Add(d)
	}
	return c
}

// BuildCalendar enumerates the trading days of e in [from, to].
func BuildCalendar(e *Exchange, from, to int) *Calendar {
	c := &Calendar{}
	for d := from; d <= to; d = e.NextDay(d) {
		if e.IsTradingDay(d) {
			c.days = append(c.days, d)
		}
	}
	return c
}

// Add inserts a day code keeping the set ordered.
func (c *Calendar) Add(day int) {
	i := sort.SearchInts(c.days, day)
	if i < len(c.days) && c.days[i] == day {
		return
	}
	c.days = append(c.days, 0)
	copy(c.days[i+1:], c.days[i:])
	c.days[i] = day
}

// Contains reports whether day is in the calendar.
func (c *Calendar) Contains(day int) bool {
	if c == nil {
		return false
	}
	i := sort.SearchInts(c.days, day)
	return i < len(c.days) && c.days[i] == day
}

// Between returns the days strictly between from and to.
func (c *Calendar) Between(from, to int) []int {
	if c == nil {
		return nil
	}
	lo := sort.SearchInts(c.days, from+1)
	hi := sort.SearchInts(c.days, to)
	if lo >= hi {
		return nil
	}
	out := make([]int, hi-lo)
	copy(out, c.days[lo:hi])
	return out
}

// Days returns a copy of all day codes in ascending order.
func (c *Calendar) Days() []int {
	if c == nil {
		return nil
	}
	out := make([]int, len(c.days))
	copy(out, c.days)
	return out
}

// Len returns the number of days.
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.days)
}

// Clone returns an independent copy; nil stays nil.
func (c *Calendar) Clone() *Calendar {
	if c == nil {
		return nil
	}
	return &Calendar{days: c.Days()}
}
