// Package models provides the stage classifiers Shedcast trains and the
// TrainedModel record that the model store persists.
//
// A classifier maps a feature tuple (day-of-week, hour, month) to a dense
// class code. Raw interruption stages are translated to and from those codes
// by a LabelEncoder that is always stored next to the classifier.
package models

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"time"
)

// Feature positions inside a Sample.
const (
	FeatureDayOfWeek = iota
	FeatureHour
	FeatureMonth

	NumFeatures
)

// Sample is one classifier input row: [day_of_week, hour, month].
type Sample [NumFeatures]float64

// NewSample builds a Sample from its integer components.
func NewSample(dayOfWeek, hour, month int) Sample {
	return Sample{float64(dayOfWeek), float64(hour), float64(month)}
}

// Classifier is a supervised model over Samples with integer class codes.
//
// Implementations must be safe for concurrent Predict calls once Fit has
// returned; Fit itself is not expected to run concurrently with anything.
type Classifier interface {
	// Kind identifies the implementation in serialized blobs.
	Kind() string

	// Fit trains the classifier. labels[i] is the class code of samples[i].
	Fit(ctx context.Context, samples []Sample, labels []int) error

	// Predict returns the class code for a single sample.
	Predict(sample Sample) (int, error)

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// ErrNotFitted is returned by Predict on a classifier that has not been trained.
var ErrNotFitted = errors.New("classifier has not been fitted")

// TrainedModel is the unit the model store keeps, one per scope.
type TrainedModel struct {
	Scope           string
	ID              string
	TrainedAt       time.Time
	Samples         int
	HoldoutAccuracy float64
	Classifier      Classifier
	Encoder         *LabelEncoder
}

// Validate checks the invariants every stored model must satisfy.
func (m TrainedModel) Validate() error {
	if m.Scope == "" {
		return errors.New("model scope cannot be empty")
	}
	if m.Classifier == nil {
		return fmt.Errorf("model %q: classifier is nil", m.Scope)
	}
	if m.Encoder == nil || m.Encoder.Len() == 0 {
		return fmt.Errorf("model %q: label encoding is empty", m.Scope)
	}
	return nil
}

// PredictStage runs the classifier and decodes the result to a raw stage.
func (m TrainedModel) PredictStage(sample Sample) (int, error) {
	code, err := m.Classifier.Predict(sample)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	stage, err := m.Encoder.Decode(code)
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	return stage, nil
}

// New creates an untrained classifier of the given kind.
func New(kind string, opts ForestOptions) (Classifier, error) {
	switch kind {
	case KindForest:
		return NewForestClassifier(opts), nil
	case KindFrequency:
		return NewFrequencyClassifier(), nil
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", kind)
	}
}

func validateTrainingSet(samples []Sample, labels []int) (int, error) {
	if len(samples) == 0 {
		return 0, errors.New("training set cannot be empty")
	}
	if len(samples) != len(labels) {
		return 0, fmt.Errorf("got %d samples but %d labels", len(samples), len(labels))
	}

	numClasses := 0
	for i, l := range labels {
		if l < 0 {
			return 0, fmt.Errorf("label %d at index %d is negative", l, i)
		}
		if l+1 > numClasses {
			numClasses = l + 1
		}
	}
	return numClasses, nil
}

// argmax returns the index of the largest value; ties go to the lowest index.
func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
