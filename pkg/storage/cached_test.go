package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HatiCode/shedcast/pkg/models"
)

// countingStore records backend traffic and can be told to fail saves.
type countingStore struct {
	*MemoryStore
	loads    atomic.Int32
	saves    atomic.Int32
	failSave bool
}

func (c *countingStore) Load(ctx context.Context, scope string) (models.TrainedModel, bool, error) {
	c.loads.Add(1)
	return c.MemoryStore.Load(ctx, scope)
}

func (c *countingStore) Save(ctx context.Context, m models.TrainedModel) error {
	c.saves.Add(1)
	if c.failSave {
		return errors.New("disk full")
	}
	return c.MemoryStore.Save(ctx, m)
}

func TestCachedStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) ModelStore {
		backend, err := NewFileStore(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("NewFileStore() unexpected error: %v", err)
		}
		return NewCachedStore(backend, time.Minute)
	})
}

func TestCachedStore_LoadsBackendOnce(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	if err := backend.MemoryStore.Save(context.Background(), testModel(t, NationalScope, 2)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	store := NewCachedStore(backend, time.Minute)
	for i := 0; i < 5; i++ {
		if _, found, err := store.Load(context.Background(), NationalScope); err != nil || !found {
			t.Fatalf("Load() = (found %v, err %v)", found, err)
		}
	}

	if n := backend.loads.Load(); n != 1 {
		t.Errorf("backend loads = %d, want 1", n)
	}
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(backend, time.Minute)

	if _, found, _ := store.Load(context.Background(), NationalScope); found {
		t.Fatal("Load() found model in empty store")
	}

	// Another instance writes straight to the shared backend.
	if err := backend.MemoryStore.Save(context.Background(), testModel(t, NationalScope, 5)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	got, found, err := store.Load(context.Background(), NationalScope)
	if err != nil || !found {
		t.Fatalf("Load() = (found %v, err %v), want found", found, err)
	}
	if stage := predictedStage(t, got); stage != 5 {
		t.Errorf("predicted stage = %d, want 5", stage)
	}
}

func TestCachedStore_SaveReplacesCachedEntry(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(backend, time.Minute)

	if err := store.Save(context.Background(), testModel(t, NationalScope, 1)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if err := store.Save(context.Background(), testModel(t, NationalScope, 4)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	got, _, _ := store.Load(context.Background(), NationalScope)
	if stage := predictedStage(t, got); stage != 4 {
		t.Errorf("predicted stage = %d, want 4", stage)
	}
	if n := backend.loads.Load(); n != 0 {
		t.Errorf("backend loads = %d, want 0 after write-through", n)
	}
}

func TestCachedStore_FailedSaveDropsEntry(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(backend, time.Minute)

	if err := store.Save(context.Background(), testModel(t, NationalScope, 1)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	backend.failSave = true
	if err := store.Save(context.Background(), testModel(t, NationalScope, 3)); err == nil {
		t.Fatal("Save() expected backend error")
	}

	// The backend still holds the first model, and Load must read it back.
	got, found, err := store.Load(context.Background(), NationalScope)
	if err != nil || !found {
		t.Fatalf("Load() = (found %v, err %v), want found", found, err)
	}
	if stage := predictedStage(t, got); stage != 1 {
		t.Errorf("predicted stage = %d, want 1", stage)
	}
	if n := backend.loads.Load(); n != 1 {
		t.Errorf("backend loads = %d, want 1", n)
	}
}

func TestCachedStore_Invalidate(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(backend, time.Minute)

	if err := store.Save(context.Background(), testModel(t, "area-3", 2)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	store.Invalidate("area-3")

	if _, found, _ := store.Load(context.Background(), "area-3"); !found {
		t.Fatal("Load() after Invalidate() should fall through to the backend")
	}
	if n := backend.loads.Load(); n != 1 {
		t.Errorf("backend loads = %d, want 1", n)
	}
}

func TestCachedStore_PingWithoutBackendSupport(t *testing.T) {
	store := NewCachedStore(NewMemoryStore(), 0)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() unexpected error: %v", err)
	}
}

// fakeClock is a manually advanced clock for cache expiry tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCachedStore_SharedBackendAcrossInstances(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	writer := NewCachedStore(shared, 30*time.Second)
	reader := NewCachedStore(shared, 30*time.Second)
	writer.now, reader.now = clock.Now, clock.Now

	if err := writer.Save(ctx, testModel(t, NationalScope, 1)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	got, _, err := reader.Load(ctx, NationalScope)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if stage := predictedStage(t, got); stage != 1 {
		t.Fatalf("reader stage = %d, want 1", stage)
	}

	// The writer retrains. Within the window the reader may still serve its
	// cached copy; once the window passes it must see the new model.
	if err := writer.Save(ctx, testModel(t, NationalScope, 6)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	clock.Advance(30 * time.Second)

	got, found, err := reader.Load(ctx, NationalScope)
	if err != nil || !found {
		t.Fatalf("Load() = (found %v, err %v), want found", found, err)
	}
	if stage := predictedStage(t, got); stage != 6 {
		t.Errorf("reader stage after retrain = %d, want 6", stage)
	}
}

func TestCachedStore_ExpiredEntryReloads(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	if err := backend.MemoryStore.Save(ctx, testModel(t, "area-7", 2)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewCachedStore(backend, time.Minute)
	store.now = clock.Now

	store.Load(ctx, "area-7")
	clock.Advance(59 * time.Second)
	store.Load(ctx, "area-7")
	if n := backend.loads.Load(); n != 1 {
		t.Fatalf("backend loads within window = %d, want 1", n)
	}

	clock.Advance(time.Second)
	store.Load(ctx, "area-7")
	if n := backend.loads.Load(); n != 2 {
		t.Errorf("backend loads after expiry = %d, want 2", n)
	}

	// A model deleted from the backend disappears once the entry expires.
	backend.Delete("area-7")
	clock.Advance(time.Minute)
	if _, found, err := store.Load(ctx, "area-7"); err != nil || found {
		t.Errorf("Load() after backend delete = (found %v, err %v), want not found", found, err)
	}
}

// blockingStore holds every Save until release is closed.
type blockingStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, m models.TrainedModel) error {
	close(b.entered)
	<-b.release
	return b.MemoryStore.Save(ctx, m)
}

func TestCachedStore_SlowSaveDoesNotBlockReads(t *testing.T) {
	ctx := context.Background()
	backend := &blockingStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	if err := backend.MemoryStore.Save(ctx, testModel(t, NationalScope, 2)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	store := NewCachedStore(backend, time.Minute)
	if _, found, err := store.Load(ctx, NationalScope); err != nil || !found {
		t.Fatalf("Load() = (found %v, err %v), want found", found, err)
	}

	saved := make(chan error, 1)
	go func() { saved <- store.Save(ctx, testModel(t, "area-1", 4)) }()
	<-backend.entered

	loaded := make(chan bool, 1)
	go func() {
		_, found, _ := store.Load(ctx, NationalScope)
		loaded <- found
	}()

	select {
	case found := <-loaded:
		if !found {
			t.Error("cached Load() during slow Save should find the model")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cached Load() blocked behind a backend Save")
	}

	close(backend.release)
	if err := <-saved; err != nil {
		t.Errorf("Save() unexpected error: %v", err)
	}
}
