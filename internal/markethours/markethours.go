// Package markethours models exchange trading sessions: the fixed daily
// open/close window in the exchange's own time zone, holidays, YYYYMMDD day
// codes, and calendars of trading days used to measure elapsed trading time.
package markethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day in the exchange time zone.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("clock %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("clock %q: bad hour", s)
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 {
		return Clock{}, fmt.Errorf("clock %q: bad minute", s)
	}
	return Clock{Hour: hour, Minute: mins}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Exchange describes one market's regular session.
type Exchange struct {
	Name     string
	Location *time.Location
	OpenAt   Clock
	CloseAt  Clock

	holidays map[int]bool // day codes
}

// NewExchange creates an exchange with the given session and holiday day codes.
func NewExchange(name string, loc *time.Location, openAt, closeAt Clock, holidays ...int) *Exchange {
	e := &Exchange{
		Name:     name,
		Location: loc,
		OpenAt:   openAt,
		CloseAt:  closeAt,
		holidays: make(map[int]bool, len(holidays)),
	}
	for _, d := range holidays {
		e.holidays[d] = true
	}
	return e
}

// AddHoliday marks a day code as closed.
func (e *Exchange) AddHoliday(day int) {
	e.holidays[day] = true
}

// DayCode returns the YYYYMMDD code of the exchange-local date of ms.
func (e *Exchange) DayCode(ms int64) int {
	t := time.UnixMilli(ms).In(e.Location)
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Date returns the exchange-local midnight of a day code.
func (e *Exchange) Date(day int) time.Time {
	return time.Date(day/10000, time.Month(day/100%100), day%100, 0, 0, 0, 0, e.Location)
}

// Open returns the session open of a day code in epoch milliseconds.
func (e *Exchange) Open(day int) int64 {
	d := e.Date(day)
	return time.Date(d.Year(), d.Month(), d.Day(), e.OpenAt.Hour, e.OpenAt.Minute, 0, 0, e.Location).UnixMilli()
}

// Close returns the session close of a day code in epoch milliseconds.
func (e *Exchange) Close(day int) int64 {
	d := e.Date(day)
	return time.Date(d.Year(), d.Month(), d.Day(), e.CloseAt.Hour, e.CloseAt.Minute, 0, 0, e.Location).UnixMilli()
}

// SessionLength returns the length of one full session in milliseconds.
func (e *Exchange) SessionLength(day int) int64 {
	return e.Close(day) - e.Open(day)
}

// WithinTradingHours reports whether ms falls inside [open, close] of its
// own exchange-local date. Weekends and holidays are not consulted here:
// the window is a clock check only.
func (e *Exchange) WithinTradingHours(ms int64) bool {
	day := e.DayCode(ms)
	return ms >= e.Open(day) && ms <= e.Close(day)
}

// IsHoliday returns true if the day code is a configured holiday.
func (e *Exchange) IsHoliday(day int) bool {
	return e.holidays[day]
}

// IsTradingDay returns true if the day code is a weekday and not a holiday.
func (e *Exchange) IsTradingDay(day int) bool {
	wd := e.Date(day).Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !e.IsHoliday(day)
}

// NextDay returns the calendar day after day.
func (e *Exchange) NextDay(day int) int {
	d := e.Date(day).AddDate(0, 0, 1)
	return d.Year()*10000 + int(d.Month())*100 + d.Day()
}

// PrevDay returns the calendar day before day.
func (e *Exchange) PrevDay(day int) int {
	d := e.Date(day).AddDate(0, 0, -1)
	return d.Year()*10000 + int(d.Month())*100 + d.Day()
}

// IsMarketOpen returns true if t is inside the session of a trading day.
func (e *Exchange) IsMarketOpen(t time.Time) bool {
	ms := t.UnixMilli()
	return e.IsTradingDay(e.DayCode(ms)) && e.WithinTradingHours(ms)
}

// StatusString returns a human-readable market status.
func (e *Exchange) StatusString(t time.Time) string {
	if e.IsMarketOpen(t) {
		left := time.Duration(e.Close(e.DayCode(t.UnixMilli()))-t.UnixMilli()) * time.Millisecond
		return fmt.Sprintf("%s open, closes in %s", e.Name, fmtDur(left))
	}
	return fmt.Sprintf("%s closed", e.Name)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
