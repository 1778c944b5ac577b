package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/features"
	"github.com/HatiCode/shedcast/pkg/models"
	"github.com/HatiCode/shedcast/pkg/storage"
)

// weeklySchedule returns one 18:00 event per day of 2025 with stage tuesday
// on Tuesdays and stage other on every other day.
func weeklySchedule(areaID string, tuesday, other int) events.AreaSchedule {
	day := time.Date(2025, time.January, 1, 18, 0, 0, 0, time.UTC)
	var evs []events.Event
	for day.Year() == 2025 {
		stage := other
		if day.Weekday() == time.Tuesday {
			stage = tuesday
		}
		evs = append(evs, events.Event{
			Start: day.Format("2006-01-02T15:04:05"),
			End:   day.Add(2 * time.Hour).Format("2006-01-02T15:04:05"),
			Stage: stage,
		})
		day = day.AddDate(0, 0, 1)
	}
	return events.AreaSchedule{AreaID: areaID, Events: evs}
}

func newTestTrainer(t *testing.T, store storage.ModelStore, kind string) *Trainer {
	t.Helper()
	trainer, err := NewTrainer(store, TrainerConfig{
		Classifier: kind,
		Forest:     models.ForestOptions{Trees: 20, Seed: 7},
		Seed:       11,
	}, nil)
	if err != nil {
		t.Fatalf("NewTrainer() unexpected error: %v", err)
	}
	return trainer
}

func TestNewTrainer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		store   storage.ModelStore
		cfg     TrainerConfig
		wantErr bool
	}{
		{"defaults", storage.NewMemoryStore(), TrainerConfig{}, false},
		{"frequency", storage.NewMemoryStore(), TrainerConfig{Classifier: models.KindFrequency}, false},
		{"nil store", nil, TrainerConfig{}, true},
		{"unknown classifier", storage.NewMemoryStore(), TrainerConfig{Classifier: "svm"}, true},
		{"negative fraction", storage.NewMemoryStore(), TrainerConfig{TestFraction: -0.1}, true},
		{"fraction of one", storage.NewMemoryStore(), TrainerConfig{TestFraction: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrainer(tt.store, tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTrainer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrain_EmptyPool(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindFrequency)

	inputs := [][]events.AreaSchedule{
		nil,
		{},
		{{AreaID: "a"}, {AreaID: "b", Events: []events.Event{}}},
	}
	for _, areas := range inputs {
		_, err := trainer.TrainNational(context.Background(), areas)
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("TrainNational(%v) error = %v, want ErrInsufficientData", areas, err)
		}
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d models after failed training, want 0", store.Len())
	}
}

func TestTrain_MalformedEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindFrequency)

	areas := []events.AreaSchedule{{
		AreaID: "a",
		Events: []events.Event{
			{Start: "2025-03-03T17:00:00", End: "2025-03-03T19:00:00", Stage: 2},
			{Start: "yesterday", End: "2025-03-04T19:00:00", Stage: 2},
		},
	}}

	_, err := trainer.TrainNational(context.Background(), areas)
	var malformed *features.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("TrainNational() error = %v, want MalformedEventError", err)
	}
	if malformed.Index != 1 {
		t.Errorf("malformed index = %d, want 1", malformed.Index)
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d models after failed training, want 0", store.Len())
	}
}

func TestTrain_SingleEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindForest)

	areas := []events.AreaSchedule{{
		AreaID: "a",
		Events: []events.Event{{Start: "2025-06-10T18:00:00", End: "2025-06-10T20:00:00", Stage: 3}},
	}}

	result, err := trainer.TrainNational(context.Background(), areas)
	if err != nil {
		t.Fatalf("TrainNational() unexpected error: %v", err)
	}
	if result.TrainSize != 1 || result.HoldoutSize != 0 {
		t.Errorf("split = %d/%d, want 1/0", result.TrainSize, result.HoldoutSize)
	}

	pred, found, err := NewPredictor(store, nil).Predict(context.Background(), time.Date(2025, time.December, 25, 0, 0, 0, 0, time.UTC), "")
	if err != nil || !found {
		t.Fatalf("Predict() = (found %v, err %v), want found", found, err)
	}
	if pred.PredictedStage != 3 {
		t.Errorf("PredictedStage = %d, want 3 for single-class model", pred.PredictedStage)
	}
}

func TestTrain_Result(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindForest)
	fixed := time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC)
	trainer.now = func() time.Time { return fixed }

	areas := []events.AreaSchedule{weeklySchedule("a", 4, 2), weeklySchedule("b", 4, 2)}
	result, err := trainer.TrainNational(context.Background(), areas)
	if err != nil {
		t.Fatalf("TrainNational() unexpected error: %v", err)
	}

	if result.Scope != storage.NationalScope {
		t.Errorf("Scope = %q, want %q", result.Scope, storage.NationalScope)
	}
	if result.Samples != 730 {
		t.Errorf("Samples = %d, want 730", result.Samples)
	}
	if result.HoldoutSize != 146 || result.TrainSize != 584 {
		t.Errorf("split = %d/%d, want 584/146", result.TrainSize, result.HoldoutSize)
	}
	if result.HoldoutAccuracy < 0.95 {
		t.Errorf("HoldoutAccuracy = %v, want >= 0.95 on a deterministic pattern", result.HoldoutAccuracy)
	}
	if len(result.Classes) != 2 || result.Classes[0] != 2 || result.Classes[1] != 4 {
		t.Errorf("Classes = %v, want [2 4] in first-seen order", result.Classes)
	}
	if !result.TrainedAt.Equal(fixed) {
		t.Errorf("TrainedAt = %v, want %v", result.TrainedAt, fixed)
	}

	model, found, err := store.Load(context.Background(), storage.NationalScope)
	if err != nil || !found {
		t.Fatalf("Load() = (found %v, err %v), want found", found, err)
	}
	if model.ID != result.ModelID {
		t.Errorf("stored ID = %q, want %q", model.ID, result.ModelID)
	}
}

func TestTrain_RetrainReplacesModel(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindFrequency)
	ctx := context.Background()

	first, err := trainer.TrainNational(ctx, []events.AreaSchedule{weeklySchedule("a", 4, 2)})
	if err != nil {
		t.Fatalf("TrainNational() unexpected error: %v", err)
	}
	second, err := trainer.TrainNational(ctx, []events.AreaSchedule{weeklySchedule("a", 6, 1)})
	if err != nil {
		t.Fatalf("TrainNational() unexpected error: %v", err)
	}
	if first.ModelID == second.ModelID {
		t.Error("retraining should assign a new model id")
	}

	tuesday := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)
	pred, _, err := NewPredictor(store, nil).Predict(ctx, tuesday, "")
	if err != nil {
		t.Fatalf("Predict() unexpected error: %v", err)
	}
	if pred.PredictedStage != 6 || pred.ModelID != second.ModelID {
		t.Errorf("Predict() = %+v, want stage 6 from model %s", pred, second.ModelID)
	}
}

func TestTrainArea(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindFrequency)

	if _, err := trainer.TrainArea(context.Background(), events.AreaSchedule{}); err == nil {
		t.Error("TrainArea() expected error for missing area id")
	}

	result, err := trainer.TrainArea(context.Background(), weeklySchedule("capetown-9", 5, 1))
	if err != nil {
		t.Fatalf("TrainArea() unexpected error: %v", err)
	}
	if result.Scope != "capetown-9" {
		t.Errorf("Scope = %q, want capetown-9", result.Scope)
	}
	if _, found, _ := store.Load(context.Background(), storage.NationalScope); found {
		t.Error("TrainArea() must not write the national model")
	}
}

func TestPredict_NoModel(t *testing.T) {
	predictor := NewPredictor(storage.NewMemoryStore(), nil)

	for _, areaID := range []string{"", "capetown-9"} {
		pred, found, err := predictor.Predict(context.Background(), time.Now(), areaID)
		if err != nil {
			t.Errorf("Predict(%q) unexpected error: %v", areaID, err)
		}
		if found {
			t.Errorf("Predict(%q) found = true with empty store, prediction %+v", areaID, pred)
		}
	}
}

func TestPredict_Pattern(t *testing.T) {
	for _, kind := range []string{models.KindForest, models.KindFrequency} {
		t.Run(kind, func(t *testing.T) {
			store := storage.NewMemoryStore()
			trainer := newTestTrainer(t, store, kind)
			if _, err := trainer.TrainNational(context.Background(), []events.AreaSchedule{weeklySchedule("a", 4, 2)}); err != nil {
				t.Fatalf("TrainNational() unexpected error: %v", err)
			}

			predictor := NewPredictor(store, nil)
			tests := []struct {
				date time.Time
				want int
			}{
				{time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC), 4},  // Tuesday
				{time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC), 2},  // Wednesday
				{time.Date(2026, time.July, 14, 9, 30, 0, 0, time.UTC), 4}, // Tuesday, hour ignored
				{time.Date(2026, time.July, 19, 0, 0, 0, 0, time.UTC), 2},  // Sunday
			}
			for _, tt := range tests {
				pred, found, err := predictor.Predict(context.Background(), tt.date, "")
				if err != nil || !found {
					t.Fatalf("Predict(%v) = (found %v, err %v)", tt.date, found, err)
				}
				if pred.PredictedStage != tt.want {
					t.Errorf("Predict(%v) stage = %d, want %d", tt.date, pred.PredictedStage, tt.want)
				}
				if pred.Date != tt.date.Format(DateLayout) {
					t.Errorf("Predict(%v) date = %q, want %q", tt.date, pred.Date, tt.date.Format(DateLayout))
				}
				if pred.Scope != storage.NationalScope {
					t.Errorf("Predict(%v) scope = %q, want national", tt.date, pred.Scope)
				}
			}
		})
	}
}

func TestPredict_AreaFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindFrequency)
	ctx := context.Background()

	if _, err := trainer.TrainNational(ctx, []events.AreaSchedule{weeklySchedule("a", 4, 2)}); err != nil {
		t.Fatalf("TrainNational() unexpected error: %v", err)
	}
	if _, err := trainer.TrainArea(ctx, weeklySchedule("b", 6, 6)); err != nil {
		t.Fatalf("TrainArea() unexpected error: %v", err)
	}

	predictor := NewPredictor(store, nil)
	tuesday := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		areaID       string
		wantStage    int
		wantScope    string
		wantFallback bool
	}{
		{"b", 6, "b", false},
		{"unknown-area", 4, storage.NationalScope, true},
		{"", 4, storage.NationalScope, false},
	}
	for _, tt := range tests {
		pred, found, err := predictor.Predict(ctx, tuesday, tt.areaID)
		if err != nil || !found {
			t.Fatalf("Predict(%q) = (found %v, err %v)", tt.areaID, found, err)
		}
		if pred.PredictedStage != tt.wantStage || pred.Scope != tt.wantScope || pred.Fallback != tt.wantFallback {
			t.Errorf("Predict(%q) = %+v, want stage %d scope %q fallback %v",
				tt.areaID, pred, tt.wantStage, tt.wantScope, tt.wantFallback)
		}
	}
}

func TestPredict_InvalidArea(t *testing.T) {
	predictor := NewPredictor(storage.NewMemoryStore(), nil)
	if _, _, err := predictor.Predict(context.Background(), time.Now(), "../etc"); err == nil {
		t.Error("Predict() expected error for invalid area id")
	}
}

func TestPredictDaysAhead(t *testing.T) {
	store := storage.NewMemoryStore()
	trainer := newTestTrainer(t, store, models.KindFrequency)
	if _, err := trainer.TrainNational(context.Background(), []events.AreaSchedule{weeklySchedule("a", 4, 2)}); err != nil {
		t.Fatalf("TrainNational() unexpected error: %v", err)
	}

	predictor := NewPredictor(store, nil)
	// Sunday; two days ahead is a Tuesday.
	predictor.now = func() time.Time { return time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC) }

	tests := []struct {
		days      int
		wantDate  string
		wantStage int
		wantErr   bool
	}{
		{0, "2026-03-01", 2, false},
		{2, "2026-03-03", 4, false},
		{9, "2026-03-10", 4, false},
		{-1, "", 0, true},
	}
	for _, tt := range tests {
		pred, _, err := predictor.PredictDaysAhead(context.Background(), "", tt.days)
		if (err != nil) != tt.wantErr {
			t.Fatalf("PredictDaysAhead(%d) error = %v, wantErr %v", tt.days, err, tt.wantErr)
		}
		if tt.wantErr {
			continue
		}
		if pred.Date != tt.wantDate || pred.PredictedStage != tt.wantStage {
			t.Errorf("PredictDaysAhead(%d) = %+v, want date %s stage %d", tt.days, pred, tt.wantDate, tt.wantStage)
		}
	}
}
