package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/linklab/link-decision-transformer/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	datasets    map[string]model.Dataset
	stats       map[string]model.StateStats
	evaluations map[string]model.EvaluationReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.datasets = make(map[string]model.Dataset)
	s.stats = make(map[string]model.StateStats)
	s.evaluations = make(map[string]model.EvaluationReport)
	return nil
}

func (s *MemoryStore) SaveDataset(_ context.Context, dataset model.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if dataset.Name == "" {
		return errors.New("dataset record requires a name")
	}
	s.datasets[dataset.Name] = dataset
	return nil
}

func (s *MemoryStore) GetDataset(_ context.Context, name string) (model.Dataset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Dataset{}, false, ErrNotInitialized
	}
	dataset, ok := s.datasets[name]
	return dataset, ok, nil
}

func (s *MemoryStore) SaveStateStats(_ context.Context, stats model.StateStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if stats.Dataset == "" {
		return errors.New("state stats record requires a dataset name")
	}
	s.stats[stats.Dataset] = cloneStats(stats)
	return nil
}

func (s *MemoryStore) GetStateStats(_ context.Context, dataset string) (model.StateStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.StateStats{}, false, ErrNotInitialized
	}
	stats, ok := s.stats[dataset]
	if !ok {
		return model.StateStats{}, false, nil
	}
	return cloneStats(stats), true, nil
}

func (s *MemoryStore) SaveEvaluation(_ context.Context, report model.EvaluationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if report.RunID == "" {
		return errors.New("evaluation record requires a run id")
	}
	report.Episodes = append([]model.EpisodeResult(nil), report.Episodes...)
	s.evaluations[report.RunID] = report
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, runID string) (model.EvaluationReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.EvaluationReport{}, false, ErrNotInitialized
	}
	report, ok := s.evaluations[runID]
	return report, ok, nil
}

func (s *MemoryStore) ListEvaluations(_ context.Context) ([]model.EvaluationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	reports := make([]model.EvaluationReport, 0, len(s.evaluations))
	for _, report := range s.evaluations {
		reports = append(reports, report)
	}
	sortNewestFirst(reports)
	return reports, nil
}

func cloneStats(stats model.StateStats) model.StateStats {
	stats.Mean = append([]float64(nil), stats.Mean...)
	stats.Std = append([]float64(nil), stats.Std...)
	return stats
}
