package features

import (
	"time"

	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/models"
)

// EveningPeakHour is the hour every prediction is made for. Demand peaks in
// the evening, so stage likelihood is always asked at this hour rather than
// at a caller-chosen one.
const EveningPeakHour = 18

// Builder converts events into classifier training tables.
type Builder struct{}

// NewBuilder creates a new feature builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildSamples extracts features from events and returns the classifier
// inputs together with the raw stage of each row.
func (b *Builder) BuildSamples(evs []events.Event) ([]models.Sample, []int, error) {
	records, err := Extract(evs)
	if err != nil {
		return nil, nil, err
	}

	samples := make([]models.Sample, len(records))
	stages := make([]int, len(records))
	for i, r := range records {
		samples[i] = models.NewSample(int(r.DayOfWeek), r.Hour, r.Month)
		stages[i] = r.Stage
	}
	return samples, stages, nil
}

// PredictionSample returns the classifier input for a target date.
func PredictionSample(date time.Time) models.Sample {
	return models.NewSample(int(WeekdayOf(date)), EveningPeakHour, int(date.Month()))
}
