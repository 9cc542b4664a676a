package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/linklab/link-decision-transformer/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store persists raw datasets, their normalization statistics and
// evaluation reports. Getters report absence with ok=false, not an error.
type Store interface {
	Init(ctx context.Context) error
	SaveDataset(ctx context.Context, dataset model.Dataset) error
	GetDataset(ctx context.Context, name string) (model.Dataset, bool, error)
	SaveStateStats(ctx context.Context, stats model.StateStats) error
	GetStateStats(ctx context.Context, dataset string) (model.StateStats, bool, error)
	SaveEvaluation(ctx context.Context, report model.EvaluationReport) error
	GetEvaluation(ctx context.Context, runID string) (model.EvaluationReport, bool, error)
	// ListEvaluations returns every stored report, newest first.
	ListEvaluations(ctx context.Context) ([]model.EvaluationReport, error)
}

func sortNewestFirst(reports []model.EvaluationReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].CreatedAtUTC == reports[j].CreatedAtUTC {
			return reports[i].RunID > reports[j].RunID
		}
		return reports[i].CreatedAtUTC > reports[j].CreatedAtUTC
	})
}
