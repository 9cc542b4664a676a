package storage

import (
	"context"
	"testing"

	"github.com/linklab/link-decision-transformer/internal/model"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.GetDataset(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing dataset, got ok=%t err=%v", ok, err)
	}

	dataset := model.Dataset{
		VersionedRecord: CurrentVersion(),
		Name:            "hopper-medium-v2",
		Trajectories: []model.TrajectoryRecord{{
			Observations: [][]float64{{1, 2}, {3, 4}},
			Actions:      [][]float64{{0.5}, {-0.5}},
			Rewards:      []float64{1, 2},
		}},
	}
	if err := store.SaveDataset(ctx, dataset); err != nil {
		t.Fatalf("save dataset: %v", err)
	}
	loaded, ok, err := store.GetDataset(ctx, dataset.Name)
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if !ok {
		t.Fatalf("expected dataset %s", dataset.Name)
	}
	if len(loaded.Trajectories) != 1 || loaded.Trajectories[0].Observations[1][1] != 4 {
		t.Fatalf("unexpected dataset loaded: %+v", loaded)
	}

	stats := model.StateStats{
		VersionedRecord: CurrentVersion(),
		Dataset:         dataset.Name,
		Mean:            []float64{2, 3},
		Std:             []float64{1.000001, 1.000001},
		Epsilon:         1e-6,
	}
	if err := store.SaveStateStats(ctx, stats); err != nil {
		t.Fatalf("save stats: %v", err)
	}
	loadedStats, ok, err := store.GetStateStats(ctx, dataset.Name)
	if err != nil || !ok {
		t.Fatalf("get stats: ok=%t err=%v", ok, err)
	}
	if loadedStats.Mean[1] != 3 || loadedStats.Std[0] != 1.000001 {
		t.Fatalf("unexpected stats loaded: %+v", loadedStats)
	}

	older := model.EvaluationReport{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-a",
		Environment:     "fixed-horizon",
		AvgScore:        4,
		Episodes:        []model.EpisodeResult{{Episode: 0, Return: 4, Length: 4, Outcome: model.OutcomeTerminated}},
		CreatedAtUTC:    "2026-01-01T00:00:00Z",
	}
	newer := older
	newer.RunID = "run-b"
	newer.AvgScore = 5
	newer.CreatedAtUTC = "2026-02-01T00:00:00Z"
	for _, report := range []model.EvaluationReport{older, newer} {
		if err := store.SaveEvaluation(ctx, report); err != nil {
			t.Fatalf("save evaluation %s: %v", report.RunID, err)
		}
	}

	got, ok, err := store.GetEvaluation(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get evaluation: ok=%t err=%v", ok, err)
	}
	if got.AvgScore != 4 || len(got.Episodes) != 1 {
		t.Fatalf("unexpected evaluation: %+v", got)
	}

	reports, err := store.ListEvaluations(ctx)
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if len(reports) != 2 || reports[0].RunID != "run-b" || reports[1].RunID != "run-a" {
		t.Fatalf("expected newest first, got %+v", reports)
	}

	// Upsert replaces in place.
	older.AvgScore = 9
	if err := store.SaveEvaluation(ctx, older); err != nil {
		t.Fatalf("overwrite evaluation: %v", err)
	}
	got, _, err = store.GetEvaluation(ctx, "run-a")
	if err != nil || got.AvgScore != 9 {
		t.Fatalf("expected overwritten evaluation, got %+v err=%v", got, err)
	}

	if err := store.SaveEvaluation(ctx, model.EvaluationReport{VersionedRecord: CurrentVersion()}); err == nil {
		t.Fatal("expected missing run id error")
	}
}
