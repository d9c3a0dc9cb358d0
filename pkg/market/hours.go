package market

import "time"

// Hours describes the daily trading window. Weekends are always closed.
// NSE derivatives trade 09:15–15:30 IST; the defaults mirror that.
type Hours struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

func DefaultHours() Hours {
	return Hours{OpenHour: 9, OpenMinute: 15, CloseHour: 15, CloseMinute: 30}
}

// OpenAt reports whether the market is open at t.
func (h Hours) OpenAt(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), h.OpenHour, h.OpenMinute, 0, 0, t.Location())
	close := time.Date(t.Year(), t.Month(), t.Day(), h.CloseHour, h.CloseMinute, 0, 0, t.Location())
	return !t.Before(open) && !t.After(close)
}

// ClosedAt reports whether t is past the close boundary for its day.
// Used by the DAY-order sweep, which must not fire before the close.
func (h Hours) ClosedAt(t time.Time) bool {
	close := time.Date(t.Year(), t.Month(), t.Day(), h.CloseHour, h.CloseMinute, 0, 0, t.Location())
	return t.After(close)
}
