package markethours

import "time"

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE holidays for 2026.
// Source: NSE India official holiday list.
var nseHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 26},  // Republic Day
	{time.February, 17}, // Mahashivratri (tentative)
	{time.March, 14},    // Holi
	{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
	{time.April, 2},     // Ram Navami (tentative)
	{time.April, 6},     // Mahavir Jayanti
	{time.April, 10},    // Good Friday
	{time.April, 14},    // Dr. Ambedkar Jayanti
	{time.May, 1},       // Maharashtra Day
	{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
	{time.July, 6},      // Muharram (tentative)
	{time.August, 15},   // Independence Day
	{time.August, 16},   // Janmashtami (tentative)
	{time.September, 5}, // Milad-un-Nabi (tentative)
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.October, 20},  // Dussehra
	{time.October, 21},  // Dussehra (tentative)
	{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
	{time.November, 6},  // Diwali Balipratipada (tentative)
	{time.November, 7},  // Bhai Dooj (tentative)
	{time.November, 19}, // Guru Nanak Jayanti
	{time.December, 25}, // Christmas
}

// US full-day closures for 2026 (NYSE/NASDAQ).
var usHolidays2026 = []int{
	20260101, // New Year's Day
	20260119, // Martin Luther King Jr. Day
	20260216, // Washington's Birthday
	20260403, // Good Friday
	20260525, // Memorial Day
	20260619, // Juneteenth
	20260703, // Independence Day (observed)
	20260907, // Labor Day
	20261126, // Thanksgiving
	20261225, // Christmas
}

// NSE returns the National Stock Exchange of India session (09:15–15:30 IST).
func NSE() *Exchange {
	e := NewExchange("NSE", IST, Clock{9, 15}, Clock{15, 30})
	for _, h := range nseHolidays2026 {
		e.AddHoliday(2026*10000 + int(h.month)*100 + h.day)
	}
	return e
}

// NYSE returns the New York session (09:30–16:00 America/New_York).
// Falls back to a fixed EST offset when tzdata is unavailable.
func NYSE() *Exchange {
	return NewExchange("NYSE", newYork(), Clock{9, 30}, Clock{16, 0}, usHolidays2026...)
}

// NASDAQ shares the NYSE session and holidays.
func NASDAQ() *Exchange {
	return NewExchange("NASDAQ", newYork(), Clock{9, 30}, Clock{16, 0}, usHolidays2026...)
}

// LSE returns the London session (08:00–16:30 Europe/London).
func LSE() *Exchange {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		loc = time.UTC
	}
	return NewExchange("LSE", loc, Clock{8, 0}, Clock{16, 30})
}

// Builtin returns a built-in exchange by name.
func Builtin(name string) (*Exchange, bool) {
	switch name {
	case "NSE":
		return NSE(), true
	case "NYSE":
		return NYSE(), true
	case "NASDAQ", "ISLAND", "SMART":
		return NASDAQ(), true
	case "LSE":
		return LSE(), true
	}
	return nil, false
}

func newYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}
