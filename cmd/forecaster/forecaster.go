// Package main implements the core training loop orchestration.
//
// This file contains the Forecaster type which orchestrates the training cycle:
//
//	fetch areas → train national model → train area models (optional)
//
// The Forecaster runs continuously via Run(), executing Tick() at regular intervals.
// Each tick retrains every model from the latest schedules; the Predictor
// behind the HTTP and gRPC APIs picks up the new models from the shared store.
//
// The loop is instrumented with Prometheus metrics tracking fetch and training
// durations, model quality, and any errors encountered during execution.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/shedcast/cmd/forecaster/metrics"
	"github.com/HatiCode/shedcast/pkg/adapters"
	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/forecast"
)

// Forecaster orchestrates the training loop: fetch → train → store.
type Forecaster struct {
	source     adapters.Source
	trainer    *forecast.Trainer
	trainAreas bool
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// mu serializes cycles started by the loop and by the API.
	mu sync.Mutex

	lastMu sync.RWMutex
	last   *forecast.CycleSummary
}

// New creates a new Forecaster.
func New(
	source adapters.Source,
	trainer *forecast.Trainer,
	trainAreas bool,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}

	return &Forecaster{
		source:     source,
		trainer:    trainer,
		trainAreas: trainAreas,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run executes the training loop at regular intervals.
// Blocks until context is canceled.
func (f *Forecaster) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting training loop", "interval", interval, "source", f.source.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.logTickError(f.tickOnce(ctx), "initial training tick failed")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("training loop stopped")
			return ctx.Err()
		case <-ticker.C:
			f.logTickError(f.tickOnce(ctx), "training tick failed")
		}
	}
}

func (f *Forecaster) tickOnce(ctx context.Context) error {
	_, err := f.Tick(ctx)
	return err
}

// logTickError keeps an empty upstream at warn level; it is expected before
// the first schedules are published.
func (f *Forecaster) logTickError(err error, msg string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, forecast.ErrInsufficientData):
		f.logger.Warn(msg, "error", err)
	default:
		f.logger.Error(msg, "error", err)
	}
}

// Tick performs one training cycle and returns its summary.
// Exported for the API and for testing.
func (f *Forecaster) Tick(ctx context.Context) (forecast.CycleSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	summary := forecast.CycleSummary{At: start.UTC()}
	f.logger.Debug("starting training tick")

	areas, err := f.fetch(ctx)
	if err != nil {
		f.recordError("source", "fetch_failed")
		return summary, fmt.Errorf("fetch areas: %w", err)
	}
	summary.Areas = len(areas)

	national, err := f.train(ctx, "", areas)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
		f.setLast(summary)
		return summary, fmt.Errorf("train national model: %w", err)
	}
	summary.National = &national

	if f.trainAreas {
		for _, area := range areas {
			if len(area.Events) == 0 {
				f.logger.Debug("skipping area without events", "area_id", area.AreaID)
				continue
			}
			result, err := f.train(ctx, area.AreaID, []events.AreaSchedule{area})
			if err != nil {
				f.logger.Warn("area training failed", "area_id", area.AreaID, "error", err)
				summary.Errors = append(summary.Errors, fmt.Sprintf("area %s: %v", area.AreaID, err))
				continue
			}
			summary.AreaModels = append(summary.AreaModels, result)
		}
	}

	f.setLast(summary)

	f.logger.Info("training tick complete",
		"areas", summary.Areas,
		"national_samples", national.Samples,
		"national_accuracy", national.HoldoutAccuracy,
		"area_models", len(summary.AreaModels),
		"errors", len(summary.Errors),
		"total_ms", time.Since(start).Milliseconds(),
	)

	return summary, nil
}

// TrainArea fetches one area and retrains its model outside the loop.
func (f *Forecaster) TrainArea(ctx context.Context, areaID string) (forecast.TrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fetchStart := time.Now()
	area, err := f.source.Schedule(ctx, areaID)
	if err != nil {
		f.recordError("source", "fetch_failed")
		return forecast.TrainResult{}, fmt.Errorf("fetch area %s: %w", areaID, err)
	}
	if f.metrics != nil {
		f.metrics.RecordFetch(time.Since(fetchStart).Seconds())
	}

	return f.train(ctx, areaID, []events.AreaSchedule{area})
}

// LastCycle returns the summary of the most recent cycle, if any ran.
func (f *Forecaster) LastCycle() (forecast.CycleSummary, bool) {
	f.lastMu.RLock()
	defer f.lastMu.RUnlock()

	if f.last == nil {
		return forecast.CycleSummary{}, false
	}
	return *f.last, true
}

func (f *Forecaster) setLast(summary forecast.CycleSummary) {
	f.lastMu.Lock()
	f.last = &summary
	f.lastMu.Unlock()
}

// fetch retrieves every area from the source.
func (f *Forecaster) fetch(ctx context.Context) ([]events.AreaSchedule, error) {
	start := time.Now()

	areas, err := f.source.Areas(ctx)
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.RecordFetch(duration.Seconds())
	}

	f.logger.Info("fetched schedules",
		"source", f.source.Name(),
		"areas", len(areas),
		"events", len(events.Pool(areas)),
		"duration_ms", duration.Milliseconds(),
	)

	return areas, nil
}

// train fits one model. An empty areaID selects the national model.
func (f *Forecaster) train(ctx context.Context, areaID string, areas []events.AreaSchedule) (forecast.TrainResult, error) {
	var (
		result forecast.TrainResult
		err    error
	)
	if areaID == "" {
		result, err = f.trainer.TrainNational(ctx, areas)
	} else {
		result, err = f.trainer.TrainArea(ctx, areas[0])
	}

	if err != nil {
		if errors.Is(err, forecast.ErrInsufficientData) {
			f.recordError("trainer", "insufficient_data")
		} else {
			f.recordError("trainer", "train_failed")
		}
		return forecast.TrainResult{}, err
	}

	if f.metrics != nil {
		f.metrics.RecordTrain(result.Scope, result.Duration.Seconds(), result.Samples, result.HoldoutAccuracy)
	}
	return result, nil
}

func (f *Forecaster) recordError(component, reason string) {
	if f.metrics != nil {
		f.metrics.RecordError(component, reason)
	}
}
