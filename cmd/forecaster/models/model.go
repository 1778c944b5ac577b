// Package models maps forecaster configuration onto classifier settings.
package models

import (
	"log/slog"

	"github.com/HatiCode/shedcast/cmd/forecaster/config"
	"github.com/HatiCode/shedcast/pkg/forecast"
	"github.com/HatiCode/shedcast/pkg/models"
)

// TrainerConfig builds the trainer settings from the main config.
func TrainerConfig(cfg *config.Config, logger *slog.Logger) forecast.TrainerConfig {
	tc := forecast.TrainerConfig{
		Classifier:   cfg.Model,
		TestFraction: cfg.TestFraction,
		Seed:         cfg.Seed,
	}

	switch cfg.Model {
	case models.KindForest:
		tc.Forest = models.ForestOptions{
			Trees:    cfg.ForestTrees,
			MaxDepth: cfg.ForestMaxDepth,
			Seed:     cfg.Seed,
		}
		logger.Info("initializing random forest classifier",
			"trees", cfg.ForestTrees,
			"max_depth", cfg.ForestMaxDepth,
			"test_fraction", cfg.TestFraction,
		)

	case models.KindFrequency:
		logger.Info("initializing frequency classifier", "test_fraction", cfg.TestFraction)
	}

	return tc
}
