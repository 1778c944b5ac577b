package analysis

import (
	"errors"
	"reflect"
	"testing"

	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/features"
)

func TestAnalyze_Empty(t *testing.T) {
	stats, err := Analyze(nil)
	if err != nil {
		t.Fatalf("Analyze(nil) unexpected error: %v", err)
	}
	if stats != nil {
		t.Errorf("Analyze(nil) = %+v, want nil", stats)
	}

	stats, err = Analyze([]events.Event{})
	if err != nil || stats != nil {
		t.Errorf("Analyze([]) = (%+v, %v), want (nil, nil)", stats, err)
	}
}

func TestAnalyze_WeeklyMondayEvening(t *testing.T) {
	evs := []events.Event{
		{Start: "2024-01-01T17:00", End: "2024-01-01T19:00", Stage: 2},
		{Start: "2024-01-08T17:00", End: "2024-01-08T19:00", Stage: 2},
	}

	stats, err := Analyze(evs)
	if err != nil {
		t.Fatalf("Analyze() unexpected error: %v", err)
	}

	want := &ScheduleStats{
		MostCommonDay:     0,
		MostCommonHour:    17,
		AverageDuration:   2.0,
		TotalDuration:     4.0,
		StageDistribution: map[int]int{2: 2},
		Events:            2,
	}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("Analyze() = %+v, want %+v", stats, want)
	}
	if stats.MostCommonDay.String() != "Monday" {
		t.Errorf("MostCommonDay = %s, want Monday", stats.MostCommonDay)
	}
}

func TestAnalyze_TiesPickSmallest(t *testing.T) {
	evs := []events.Event{
		// Wednesday 20:00
		{Start: "2024-01-03T20:00", End: "2024-01-03T22:00", Stage: 4},
		// Tuesday 06:00
		{Start: "2024-01-02T06:00", End: "2024-01-02T08:30", Stage: 2},
		// Wednesday 06:00
		{Start: "2024-01-10T06:00", End: "2024-01-10T07:00", Stage: 2},
		// Tuesday 20:00
		{Start: "2024-01-09T20:00", End: "2024-01-09T20:30", Stage: 3},
	}

	stats, err := Analyze(evs)
	if err != nil {
		t.Fatalf("Analyze() unexpected error: %v", err)
	}

	if stats.MostCommonDay != features.Weekday(1) {
		t.Errorf("MostCommonDay = %d, want 1 (Tuesday)", stats.MostCommonDay)
	}
	if stats.MostCommonHour != 6 {
		t.Errorf("MostCommonHour = %d, want 6", stats.MostCommonHour)
	}
	if stats.TotalDuration != 6.0 {
		t.Errorf("TotalDuration = %v, want 6", stats.TotalDuration)
	}
	if stats.AverageDuration != 1.5 {
		t.Errorf("AverageDuration = %v, want 1.5", stats.AverageDuration)
	}
	if want := map[int]int{2: 2, 3: 1, 4: 1}; !reflect.DeepEqual(stats.StageDistribution, want) {
		t.Errorf("StageDistribution = %v, want %v", stats.StageDistribution, want)
	}
}

func TestAnalyze_RepeatedSlot(t *testing.T) {
	var evs []events.Event
	for _, day := range []string{"05", "12", "19", "26"} {
		evs = append(evs, events.Event{
			Start: "2024-02-" + day + "T10:00",
			End:   "2024-02-" + day + "T12:00",
			Stage: 1,
		})
	}

	stats, err := Analyze(evs)
	if err != nil {
		t.Fatalf("Analyze() unexpected error: %v", err)
	}
	// 2024-02-05 is a Monday.
	if stats.MostCommonDay != 0 || stats.MostCommonHour != 10 {
		t.Errorf("modal slot = (%s, %d), want (Monday, 10)", stats.MostCommonDay, stats.MostCommonHour)
	}
}

func TestAnalyze_MalformedEvent(t *testing.T) {
	evs := []events.Event{{Start: "2024-01-01T19:00", End: "2024-01-01T17:00", Stage: 2}}

	stats, err := Analyze(evs)
	if stats != nil {
		t.Errorf("Analyze() = %+v, want nil on error", stats)
	}
	var malformed *features.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Errorf("Analyze() error = %v, want *features.MalformedEventError", err)
	}
}
