package models

import "time"

// Window is the time bucket used to pick candidate sets for a new photo.
// Day is midnight of the calendar day in its location. When HasHour is set the
// window narrows to that single hour of the day.
type Window struct {
	Day     time.Time
	Hour    int
	HasHour bool
}

// DayWindow returns the calendar-day window containing t.
func DayWindow(t time.Time) Window {
	y, m, d := t.Date()
	return Window{Day: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

// HourWindow returns the (day, hour) window containing t.
func HourWindow(t time.Time) Window {
	w := DayWindow(t)
	w.Hour = t.Hour()
	w.HasHour = true
	return w
}

// Bounds returns the half-open interval [start, end) covered by the window.
// Bounds are built with time.Date so days that are not 24h long still cover
// exactly one calendar day.
func (w Window) Bounds() (time.Time, time.Time) {
	y, m, d := w.Day.Date()
	loc := w.Day.Location()
	if w.HasHour {
		start := time.Date(y, m, d, w.Hour, 0, 0, 0, loc)
		return start, time.Date(y, m, d, w.Hour+1, 0, 0, 0, loc)
	}
	return time.Date(y, m, d, 0, 0, 0, 0, loc), time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	start, end := w.Bounds()
	return !t.Before(start) && t.Before(end)
}
