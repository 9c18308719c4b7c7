package calendar

import (
	"errors"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// Window is the Monday-to-Sunday week containing Date.
type Window struct {
	Date      time.Time
	WeekStart time.Time
	WeekEnd   time.Time
	DayNumber int // 1 = Monday .. 7 = Sunday
}

// WindowFor computes the week window for the calendar date of t in t's location.
func WindowFor(t time.Time) Window {
	date := StartOfDay(t)
	day := DayNumber(date)
	start := date.AddDate(0, 0, -(day - 1))
	return Window{
		Date:      date,
		WeekStart: start,
		WeekEnd:   start.AddDate(0, 0, 6),
		DayNumber: day,
	}
}

// DayNumber returns the ISO weekday of t, Monday = 1.
func DayNumber(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func (w Window) DateKey() string      { return FormatDate(w.Date) }
func (w Window) WeekStartKey() string { return FormatDate(w.WeekStart) }
func (w Window) WeekEndKey() string   { return FormatDate(w.WeekEnd) }

// DaysRemaining counts the whole days between today and the start of Sunday.
// Saturday and Sunday both report 0.
func (w Window) DaysRemaining() int {
	return max(0, 6-w.DayNumber)
}
