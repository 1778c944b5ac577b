// Package features turns interruption events into the time features the
// analyzer and the classifiers work on.
package features

import (
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/shedcast/pkg/events"
)

// Weekday numbers days Monday=0 through Sunday=6.
type Weekday int

// String returns the English day name.
func (d Weekday) String() string {
	if d < 0 || d > 6 {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	// time.Weekday starts at Sunday.
	return time.Weekday((int(d) + 1) % 7).String()
}

// WeekdayOf converts a time to the Monday=0 convention.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// Record is the feature view of one event.
type Record struct {
	DayOfWeek     Weekday `json:"day_of_week"`
	Hour          int     `json:"hour"`
	DurationHours float64 `json:"duration_hours"`
	Month         int     `json:"month"`
	Stage         int     `json:"stage"`
}

// MalformedEventError reports the first event that could not be converted.
type MalformedEventError struct {
	Index int
	Field string
	Value string
	Err   error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %d: %s %q: %v", e.Index, e.Field, e.Value, e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// ErrNegativeDuration is wrapped by MalformedEventError when end precedes start.
var ErrNegativeDuration = errors.New("end is before start")

// timestampLayouts are tried in order. Layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 timestamp in any of the accepted layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp layout")
}

// Extract converts events to records, one per event and in the same order.
// The first malformed event aborts the whole call.
func Extract(evs []events.Event) ([]Record, error) {
	records := make([]Record, 0, len(evs))

	for i, ev := range evs {
		start, err := ParseTimestamp(ev.Start)
		if err != nil {
			return nil, &MalformedEventError{Index: i, Field: "start", Value: ev.Start, Err: err}
		}
		end, err := ParseTimestamp(ev.End)
		if err != nil {
			return nil, &MalformedEventError{Index: i, Field: "end", Value: ev.End, Err: err}
		}
		if end.Before(start) {
			return nil, &MalformedEventError{Index: i, Field: "end", Value: ev.End, Err: ErrNegativeDuration}
		}

		records = append(records, Record{
			DayOfWeek:     WeekdayOf(start),
			Hour:          start.Hour(),
			DurationHours: end.Sub(start).Hours(),
			Month:         int(start.Month()),
			Stage:         ev.Stage,
		})
	}

	return records, nil
}
