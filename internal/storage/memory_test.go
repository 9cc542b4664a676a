package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/linklab/link-decision-transformer/internal/model"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveDataset(context.Background(), model.Dataset{Name: "d"})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestMemoryStoreStatsAreCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	stats := model.StateStats{Dataset: "d", Mean: []float64{1}, Std: []float64{2}}
	if err := store.SaveStateStats(ctx, stats); err != nil {
		t.Fatalf("save stats: %v", err)
	}
	stats.Mean[0] = 100

	loaded, _, err := store.GetStateStats(ctx, "d")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if loaded.Mean[0] != 1 {
		t.Fatalf("stored stats aliased caller slice: %+v", loaded)
	}
}
