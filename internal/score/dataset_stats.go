package score

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/linklab/link-decision-transformer/internal/model"
	"github.com/linklab/link-decision-transformer/internal/scapeid"
)

// UnknownDatasetError reports a dataset with no precomputed state statistics.
type UnknownDatasetError struct {
	Dataset string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("no reference state statistics for dataset %q", e.Dataset)
}

// DatasetStatsTable holds precomputed per-feature state statistics keyed by
// offline dataset (environment plus quality), so an evaluation can normalize
// observations without importing the dataset itself.
type DatasetStatsTable struct {
	stats map[string]model.StateStats
}

// NewDatasetStatsTable canonicalizes keys through scapeid.DatasetKey and
// rejects ragged or non-positive std vectors.
func NewDatasetStatsTable(entries map[string]model.StateStats) (*DatasetStatsTable, error) {
	t := &DatasetStatsTable{stats: make(map[string]model.StateStats, len(entries))}
	for name, st := range entries {
		key := scapeid.DatasetKey(name)
		if key == "" {
			return nil, fmt.Errorf("dataset stats require a dataset name")
		}
		if len(st.Mean) == 0 || len(st.Mean) != len(st.Std) {
			return nil, fmt.Errorf("dataset stats for %s: mean has %d features, std has %d", key, len(st.Mean), len(st.Std))
		}
		for i, s := range st.Std {
			if s <= 0 {
				return nil, fmt.Errorf("dataset stats for %s: std[%d]=%g must be positive", key, i, s)
			}
		}
		st.Dataset = key
		st.Mean = append([]float64(nil), st.Mean...)
		st.Std = append([]float64(nil), st.Std...)
		t.stats[key] = st
	}
	return t, nil
}

// LoadDatasetStatsTable reads a JSON object of the form
// {"hopper-medium-v2": {"mean": [...], "std": [...]}}.
func LoadDatasetStatsTable(r io.Reader) (*DatasetStatsTable, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var raw map[string]struct {
		Mean    []float64 `json:"mean"`
		Std     []float64 `json:"std"`
		Epsilon float64   `json:"epsilon,omitempty"`
	}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset stats: %w", err)
	}
	entries := make(map[string]model.StateStats, len(raw))
	for name, v := range raw {
		entries[name] = model.StateStats{Mean: v.Mean, Std: v.Std, Epsilon: v.Epsilon}
	}
	return NewDatasetStatsTable(entries)
}

func LoadDatasetStatsFile(path string) (*DatasetStatsTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDatasetStatsTable(f)
}

// Lookup returns a copy of the statistics for dataset.
func (t *DatasetStatsTable) Lookup(dataset string) (model.StateStats, error) {
	if t == nil {
		return model.StateStats{}, &UnknownDatasetError{Dataset: dataset}
	}
	st, ok := t.stats[scapeid.DatasetKey(dataset)]
	if !ok {
		return model.StateStats{}, &UnknownDatasetError{Dataset: dataset}
	}
	st.Mean = append([]float64(nil), st.Mean...)
	st.Std = append([]float64(nil), st.Std...)
	return st, nil
}

func (t *DatasetStatsTable) Datasets() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.stats))
	for name := range t.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
