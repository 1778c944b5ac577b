// Package forecast trains stage classifiers and serves predictions from them.
//
// The pipeline is train-then-serve:
//
//	areas → pool events → features → label encoding → split → fit → store
//	date  → (weekday, 18, month) → area model | national model → stage
//
// A Trainer writes one TrainedModel per scope into a storage.ModelStore and a
// Predictor reads from the same store. Neither keeps model state of its own.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/features"
	"github.com/HatiCode/shedcast/pkg/models"
	"github.com/HatiCode/shedcast/pkg/storage"
)

// ErrInsufficientData is returned when training is asked to run on zero events.
// No model is written in that case.
var ErrInsufficientData = errors.New("insufficient data: no events to train on")

// DefaultTestFraction is the share of samples held out for evaluation.
const DefaultTestFraction = 0.2

// TrainerConfig selects the classifier and the evaluation split.
type TrainerConfig struct {
	// Classifier is the classifier kind (default models.KindForest).
	Classifier string

	// Forest configures forest classifiers.
	Forest models.ForestOptions

	// TestFraction is the held-out share in [0, 1) (default 0.2).
	TestFraction float64

	// Seed drives the train/holdout shuffle. Zero picks a random seed.
	Seed uint64
}

// TrainResult describes a completed training run.
type TrainResult struct {
	Scope           string        `json:"scope"`
	ModelID         string        `json:"model_id"`
	Classifier      string        `json:"classifier"`
	Samples         int           `json:"samples"`
	TrainSize       int           `json:"train_size"`
	HoldoutSize     int           `json:"holdout_size"`
	HoldoutAccuracy float64       `json:"holdout_accuracy"`
	Classes         []int         `json:"classes"`
	TrainedAt       time.Time     `json:"trained_at"`
	Duration        time.Duration `json:"-"`
}

// CycleSummary describes one training cycle over every area of a source.
type CycleSummary struct {
	At         time.Time     `json:"at"`
	Areas      int           `json:"areas"`
	National   *TrainResult  `json:"national,omitempty"`
	AreaModels []TrainResult `json:"area_models,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

// Trainer fits classifiers on pooled area events and saves them by scope.
type Trainer struct {
	store        storage.ModelStore
	builder      *features.Builder
	kind         string
	forest       models.ForestOptions
	testFraction float64
	logger       *slog.Logger
	now          func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTrainer creates a Trainer that writes to store.
func NewTrainer(store storage.ModelStore, cfg TrainerConfig, logger *slog.Logger) (*Trainer, error) {
	if store == nil {
		return nil, errors.New("model store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Classifier == "" {
		cfg.Classifier = models.KindForest
	}
	if _, err := models.New(cfg.Classifier, cfg.Forest); err != nil {
		return nil, err
	}

	if cfg.TestFraction == 0 {
		cfg.TestFraction = DefaultTestFraction
	}
	if cfg.TestFraction < 0 || cfg.TestFraction >= 1 {
		return nil, fmt.Errorf("test fraction %v out of range [0, 1)", cfg.TestFraction)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Trainer{
		store:        store,
		builder:      features.NewBuilder(),
		kind:         cfg.Classifier,
		forest:       cfg.Forest,
		testFraction: cfg.TestFraction,
		logger:       logger,
		now:          time.Now,
		rng:          rand.New(rand.NewPCG(seed, seed>>1|1)),
	}, nil
}

// TrainNational pools every area and trains the national model.
func (t *Trainer) TrainNational(ctx context.Context, areas []events.AreaSchedule) (TrainResult, error) {
	return t.Train(ctx, storage.NationalScope, areas)
}

// TrainArea trains a model scoped to a single area.
func (t *Trainer) TrainArea(ctx context.Context, area events.AreaSchedule) (TrainResult, error) {
	if area.AreaID == "" {
		return TrainResult{}, errors.New("area id is required")
	}
	return t.Train(ctx, area.AreaID, []events.AreaSchedule{area})
}

// Train pools the events of all areas, fits a classifier from
// (day-of-week, hour, month) to stage and saves it under scope.
//
// Returns ErrInsufficientData when the pooled event set is empty and a
// *features.MalformedEventError when any event cannot be converted.
func (t *Trainer) Train(ctx context.Context, scope string, areas []events.AreaSchedule) (TrainResult, error) {
	start := time.Now()

	if err := storage.ValidateScope(scope); err != nil {
		return TrainResult{}, err
	}

	pooled := events.Pool(areas)
	if len(pooled) == 0 {
		return TrainResult{}, ErrInsufficientData
	}

	samples, stages, err := t.builder.BuildSamples(pooled)
	if err != nil {
		return TrainResult{}, fmt.Errorf("build features: %w", err)
	}

	encoder, labels := models.FitLabelEncoder(stages)
	trainIdx, holdoutIdx := t.split(len(samples))

	clf, err := models.New(t.kind, t.forest)
	if err != nil {
		return TrainResult{}, err
	}
	if err := clf.Fit(ctx, pick(samples, trainIdx), pick(labels, trainIdx)); err != nil {
		return TrainResult{}, fmt.Errorf("fit %s classifier: %w", clf.Kind(), err)
	}

	accuracy, err := holdoutAccuracy(clf, pick(samples, holdoutIdx), pick(labels, holdoutIdx))
	if err != nil {
		return TrainResult{}, fmt.Errorf("evaluate holdout: %w", err)
	}

	model := models.TrainedModel{
		Scope:           scope,
		ID:              uuid.NewString(),
		TrainedAt:       t.now().UTC(),
		Samples:         len(samples),
		HoldoutAccuracy: accuracy,
		Classifier:      clf,
		Encoder:         encoder,
	}
	if err := t.store.Save(ctx, model); err != nil {
		return TrainResult{}, fmt.Errorf("save model: %w", err)
	}

	result := TrainResult{
		Scope:           scope,
		ModelID:         model.ID,
		Classifier:      clf.Kind(),
		Samples:         len(samples),
		TrainSize:       len(trainIdx),
		HoldoutSize:     len(holdoutIdx),
		HoldoutAccuracy: accuracy,
		Classes:         encoder.Classes(),
		TrainedAt:       model.TrainedAt,
		Duration:        time.Since(start),
	}

	t.logger.Info("trained model",
		"scope", scope,
		"model_id", result.ModelID,
		"classifier", result.Classifier,
		"areas", len(areas),
		"samples", result.Samples,
		"holdout", result.HoldoutSize,
		"holdout_accuracy", result.HoldoutAccuracy,
		"classes", result.Classes,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// split shuffles row indices and holds out floor(n * testFraction) of them.
// At least one row is always kept for training.
func (t *Trainer) split(n int) (train, holdout []int) {
	t.rngMu.Lock()
	perm := t.rng.Perm(n)
	t.rngMu.Unlock()

	h := int(float64(n) * t.testFraction)
	if h >= n {
		h = n - 1
	}
	return perm[h:], perm[:h]
}

func pick[T any](rows []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// holdoutAccuracy returns the share of correctly predicted rows, 0 for none.
func holdoutAccuracy(clf models.Classifier, samples []models.Sample, labels []int) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	correct := 0
	for i, s := range samples {
		got, err := clf.Predict(s)
		if err != nil {
			return 0, err
		}
		if got == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)), nil
}
