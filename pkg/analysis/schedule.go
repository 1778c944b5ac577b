// Package analysis computes descriptive statistics over an area's schedule.
package analysis

import (
	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/features"
)

// ScheduleStats summarises a set of interruption events.
type ScheduleStats struct {
	MostCommonDay     features.Weekday `json:"most_common_day"`
	MostCommonHour    int              `json:"most_common_hour"`
	AverageDuration   float64          `json:"average_duration"`
	TotalDuration     float64          `json:"total_duration"`
	StageDistribution map[int]int      `json:"stage_distribution"`
	Events            int              `json:"events"`
}

// Analyze returns statistics for evs, or nil when there are no events.
// Modal day and hour break ties towards the smallest value.
func Analyze(evs []events.Event) (*ScheduleStats, error) {
	if len(evs) == 0 {
		return nil, nil
	}

	records, err := features.Extract(evs)
	if err != nil {
		return nil, err
	}

	var dayCounts [7]int
	var hourCounts [24]int
	stats := &ScheduleStats{
		StageDistribution: make(map[int]int),
		Events:            len(records),
	}

	for _, r := range records {
		dayCounts[r.DayOfWeek]++
		hourCounts[r.Hour]++
		stats.TotalDuration += r.DurationHours
		stats.StageDistribution[r.Stage]++
	}

	stats.MostCommonDay = features.Weekday(mode(dayCounts[:]))
	stats.MostCommonHour = mode(hourCounts[:])
	stats.AverageDuration = stats.TotalDuration / float64(len(records))

	return stats, nil
}

// mode returns the index with the highest count, lowest index on ties.
func mode(counts []int) int {
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return best
}
