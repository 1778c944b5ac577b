// Package storage provides trained model storage implementations.
//
// Every backend keeps exactly one model per scope. Save replaces the model
// for its scope wholesale, and a concurrent Load observes either the old or
// the new model, never a mix of both.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/HatiCode/shedcast/pkg/models"
)

// NationalScope is the scope of the model trained on every area.
const NationalScope = "national"

// ModelStore persists trained models keyed by scope.
type ModelStore interface {
	// Save stores model under model.Scope, replacing any previous model.
	Save(ctx context.Context, model models.TrainedModel) error

	// Load returns the model for scope. found is false when none was saved.
	Load(ctx context.Context, scope string) (model models.TrainedModel, found bool, err error)
}

var scopeRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,251}[a-zA-Z0-9])?$`)

// ValidateScope checks that scope is usable as a file name and a key suffix.
func ValidateScope(scope string) error {
	if scope == "" {
		return fmt.Errorf("scope cannot be empty")
	}
	if !scopeRegex.MatchString(scope) {
		return fmt.Errorf("invalid scope %q: only alphanumeric, dots, hyphens, and underscores allowed", scope)
	}
	return nil
}
