package cluster

import (
	"fmt"
	"time"

	"github.com/thebtf/photodedup/pkg/models"
)

// WindowMode selects how candidate sets are bucketed in time.
type WindowMode string

const (
	// WindowHour restricts candidates to sets founded in the same calendar day and hour.
	WindowHour WindowMode = "hour"
	// WindowDay restricts candidates to sets founded in the same calendar day.
	WindowDay WindowMode = "day"
)

// ParseWindowMode converts a configuration string to a WindowMode.
// Empty input yields WindowHour.
func ParseWindowMode(s string) (WindowMode, error) {
	switch WindowMode(s) {
	case "", WindowHour:
		return WindowHour, nil
	case WindowDay:
		return WindowDay, nil
	}
	return "", fmt.Errorf("unknown window mode %q", s)
}

// windowFor derives the candidate window of a photo timestamp in loc.
func windowFor(t time.Time, mode WindowMode, loc *time.Location) models.Window {
	if loc != nil {
		t = t.In(loc)
	}
	if mode == WindowDay {
		return models.DayWindow(t)
	}
	return models.HourWindow(t)
}
