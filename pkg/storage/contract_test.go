package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HatiCode/shedcast/pkg/models"
)

// testModel returns a model for scope that predicts stage for every input.
func testModel(t *testing.T, scope string, stage int) models.TrainedModel {
	t.Helper()

	enc, labels := models.FitLabelEncoder([]int{stage, stage})
	clf := models.NewFrequencyClassifier()
	samples := []models.Sample{models.NewSample(0, 18, 1), models.NewSample(3, 7, 6)}
	if err := clf.Fit(context.Background(), samples, labels); err != nil {
		t.Fatalf("Fit() unexpected error: %v", err)
	}

	return models.TrainedModel{
		Scope:      scope,
		ID:         fmt.Sprintf("%s-stage-%d", scope, stage),
		TrainedAt:  time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC),
		Samples:    len(samples),
		Classifier: clf,
		Encoder:    enc,
	}
}

func predictedStage(t *testing.T, m models.TrainedModel) int {
	t.Helper()
	stage, err := m.PredictStage(models.NewSample(2, 18, 4))
	if err != nil {
		t.Fatalf("PredictStage() unexpected error: %v", err)
	}
	return stage
}

// testStoreContract runs the behaviour every ModelStore must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) ModelStore) {
	t.Run("load missing scope", func(t *testing.T) {
		store := newStore(t)
		model, found, err := store.Load(context.Background(), "nowhere")
		if err != nil {
			t.Fatalf("Load() unexpected error: %v", err)
		}
		if found {
			t.Error("Load() found = true for a scope that was never saved")
		}
		if model.Classifier != nil || model.Encoder != nil {
			t.Error("Load() returned a non-zero model for a missing scope")
		}
	})

	t.Run("save then load", func(t *testing.T) {
		store := newStore(t)
		if err := store.Save(context.Background(), testModel(t, NationalScope, 4)); err != nil {
			t.Fatalf("Save() unexpected error: %v", err)
		}

		got, found, err := store.Load(context.Background(), NationalScope)
		if err != nil || !found {
			t.Fatalf("Load() = (found %v, err %v), want found", found, err)
		}
		if got.ID != "national-stage-4" {
			t.Errorf("ID = %q, want %q", got.ID, "national-stage-4")
		}
		if stage := predictedStage(t, got); stage != 4 {
			t.Errorf("predicted stage = %d, want 4", stage)
		}
	})

	t.Run("latest write wins", func(t *testing.T) {
		store := newStore(t)
		for _, stage := range []int{1, 2, 6} {
			if err := store.Save(context.Background(), testModel(t, "area-7", stage)); err != nil {
				t.Fatalf("Save(stage %d) unexpected error: %v", stage, err)
			}
		}

		got, found, err := store.Load(context.Background(), "area-7")
		if err != nil || !found {
			t.Fatalf("Load() = (found %v, err %v), want found", found, err)
		}
		if stage := predictedStage(t, got); stage != 6 {
			t.Errorf("predicted stage = %d, want 6", stage)
		}
	})

	t.Run("scopes are independent", func(t *testing.T) {
		store := newStore(t)
		scopes := map[string]int{NationalScope: 2, "capetown-9-kenilworth": 3, "eskde-10-fourways": 5}
		for scope, stage := range scopes {
			if err := store.Save(context.Background(), testModel(t, scope, stage)); err != nil {
				t.Fatalf("Save(%s) unexpected error: %v", scope, err)
			}
		}
		for scope, stage := range scopes {
			got, found, err := store.Load(context.Background(), scope)
			if err != nil || !found {
				t.Fatalf("Load(%s) = (found %v, err %v)", scope, found, err)
			}
			if got.Scope != scope {
				t.Errorf("Load(%s).Scope = %q", scope, got.Scope)
			}
			if s := predictedStage(t, got); s != stage {
				t.Errorf("Load(%s) predicted stage = %d, want %d", scope, s, stage)
			}
		}
	})

	t.Run("rejects invalid models", func(t *testing.T) {
		store := newStore(t)
		valid := testModel(t, NationalScope, 1)

		noEncoder := valid
		noEncoder.Encoder = nil
		noClassifier := valid
		noClassifier.Classifier = nil
		badScope := valid
		badScope.Scope = "../etc/passwd"
		noScope := valid
		noScope.Scope = ""

		for name, m := range map[string]models.TrainedModel{
			"no encoder":    noEncoder,
			"no classifier": noClassifier,
			"bad scope":     badScope,
			"no scope":      noScope,
		} {
			if err := store.Save(context.Background(), m); err == nil {
				t.Errorf("Save(%s) expected error, got nil", name)
			}
		}

		if _, found, _ := store.Load(context.Background(), NationalScope); found {
			t.Error("an invalid Save left a model behind")
		}
	})

	t.Run("concurrent save and load", func(t *testing.T) {
		store := newStore(t)
		if err := store.Save(context.Background(), testModel(t, NationalScope, 1)); err != nil {
			t.Fatalf("Save() unexpected error: %v", err)
		}

		candidates := []models.TrainedModel{testModel(t, NationalScope, 1), testModel(t, NationalScope, 2)}
		wantStage := map[string]int{candidates[0].ID: 1, candidates[1].ID: 2}

		var wg sync.WaitGroup
		errs := make(chan error, 100)

		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				if err := store.Save(context.Background(), candidates[i%2]); err != nil {
					errs <- err
				}
			}(i)
			go func() {
				defer wg.Done()
				got, found, err := store.Load(context.Background(), NationalScope)
				if err != nil {
					errs <- err
					return
				}
				if !found {
					errs <- fmt.Errorf("model disappeared during concurrent saves")
					return
				}
				// A torn read would pair one model's id with another's classifier.
				stage, err := got.PredictStage(models.NewSample(2, 18, 4))
				if err != nil {
					errs <- err
					return
				}
				if want, ok := wantStage[got.ID]; !ok || stage != want {
					errs <- fmt.Errorf("loaded model %q predicts stage %d", got.ID, stage)
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("concurrent operation failed: %v", err)
		}
	})
}
