package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/shedcast/pkg/features"
	"github.com/HatiCode/shedcast/pkg/models"
	"github.com/HatiCode/shedcast/pkg/storage"
)

// DateLayout is the calendar date format used in predictions.
const DateLayout = "2006-01-02"

// Prediction is a stage forecast for one date.
type Prediction struct {
	Date           string `json:"date"`
	PredictedStage int    `json:"predicted_stage"`
	// Scope is "national" or the area identifier whose model answered.
	Scope   string `json:"scope"`
	ModelID string `json:"model_id,omitempty"`
	// Fallback is set when an area was requested but the national model answered.
	Fallback bool `json:"fallback,omitempty"`
}

// Predictor answers stage queries from the models in a store.
type Predictor struct {
	store  storage.ModelStore
	logger *slog.Logger
	now    func() time.Time
}

// NewPredictor creates a Predictor reading from store.
func NewPredictor(store storage.ModelStore, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Predict returns the stage forecast for target at the evening peak hour.
//
// When areaID is set, the area's model is tried first; without one the
// national model answers. found is false when neither model exists yet,
// which is an expected state rather than an error.
func (p *Predictor) Predict(ctx context.Context, target time.Time, areaID string) (Prediction, bool, error) {
	sample := features.PredictionSample(target)

	if areaID != "" {
		if err := storage.ValidateScope(areaID); err != nil {
			return Prediction{}, false, err
		}
		model, found, err := p.store.Load(ctx, areaID)
		if err != nil {
			return Prediction{}, false, fmt.Errorf("load area model %q: %w", areaID, err)
		}
		if found {
			return p.predictWith(model, sample, target, false)
		}
		p.logger.Debug("no area model, falling back to national", "area_id", areaID)
	}

	model, found, err := p.store.Load(ctx, storage.NationalScope)
	if err != nil {
		return Prediction{}, false, fmt.Errorf("load national model: %w", err)
	}
	if !found {
		return Prediction{}, false, nil
	}
	return p.predictWith(model, sample, target, areaID != "")
}

// PredictDaysAhead predicts for the date daysAhead days from now.
func (p *Predictor) PredictDaysAhead(ctx context.Context, areaID string, daysAhead int) (Prediction, bool, error) {
	if daysAhead < 0 {
		return Prediction{}, false, errors.New("days ahead cannot be negative")
	}
	return p.Predict(ctx, p.now().AddDate(0, 0, daysAhead), areaID)
}

func (p *Predictor) predictWith(model models.TrainedModel, sample models.Sample, target time.Time, fallback bool) (Prediction, bool, error) {
	stage, err := model.PredictStage(sample)
	if err != nil {
		return Prediction{}, false, fmt.Errorf("model %q: %w", model.Scope, err)
	}

	return Prediction{
		Date:           target.Format(DateLayout),
		PredictedStage: stage,
		Scope:          model.Scope,
		ModelID:        model.ID,
		Fallback:       fallback,
	}, true, nil
}
