package dataset

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linklab/link-decision-transformer/internal/model"
)

func sampleRecords() []model.TrajectoryRecord {
	return []model.TrajectoryRecord{
		{
			Observations: [][]float64{{1, 10}, {2, 20}, {3, 30}},
			Actions:      [][]float64{{0.1}, {0.2}, {0.3}},
			Rewards:      []float64{1, 1, 1},
		},
		{
			Observations: [][]float64{{4, -5}, {5, 0}, {6, 5}, {7, 10}, {8, 15}},
			Actions:      [][]float64{{1}, {2}, {3}, {4}, {5}},
			Rewards:      []float64{0, 1, 0, 2, 0},
		},
	}
}

func TestNewComputesReturnsToGo(t *testing.T) {
	store, err := New(sampleRecords(), Options{RTGScale: 1})
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	first, err := store.Get(0)
	require.NoError(t, err)
	require.Equal(t, []float64{3, 2, 1}, first.ReturnsToGo)

	second, err := store.Get(1)
	require.NoError(t, err)
	require.Equal(t, []float64{3, 3, 2, 2, 0}, second.ReturnsToGo)
}

func TestNewScalesReturnsToGo(t *testing.T) {
	store, err := New(sampleRecords(), Options{RTGScale: 2})
	require.NoError(t, err)
	first, err := store.Get(0)
	require.NoError(t, err)
	require.Equal(t, []float64{1.5, 1, 0.5}, first.ReturnsToGo)
}

func TestNewNormalizesToZeroMeanUnitStd(t *testing.T) {
	store, err := New(sampleRecords(), Options{})
	require.NoError(t, err)

	stats := store.StateStats()
	require.Len(t, stats.Mean, 2)
	require.InDelta(t, 4.5, stats.Mean[0], 1e-9)

	var sum, sumSq [2]float64
	count := 0
	for i := 0; i < store.Len(); i++ {
		traj, err := store.Get(i)
		require.NoError(t, err)
		for _, obs := range traj.Observations {
			for j, v := range obs {
				sum[j] += v
				sumSq[j] += v * v
			}
			count++
		}
	}
	for j := 0; j < 2; j++ {
		mean := sum[j] / float64(count)
		std := math.Sqrt(sumSq[j]/float64(count) - mean*mean)
		require.InDelta(t, 0, mean, 1e-9, "feature %d mean", j)
		require.InDelta(t, 1, std, 1e-5, "feature %d std", j)
	}
}

func TestNewConstantFeatureUsesEpsilonFloor(t *testing.T) {
	records := []model.TrajectoryRecord{{
		Observations: [][]float64{{5}, {5}},
		Actions:      [][]float64{{0}, {0}},
		Rewards:      []float64{1, 0},
	}}
	store, err := New(records, Options{})
	require.NoError(t, err)
	stats := store.StateStats()
	require.Equal(t, DefaultStdEpsilon, stats.Std[0])

	traj, err := store.Get(0)
	require.NoError(t, err)
	require.Equal(t, 0.0, traj.Observations[0][0])
}

func TestNewDoesNotMutateInputRecords(t *testing.T) {
	records := sampleRecords()
	_, err := New(records, Options{})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 10}, records[0].Observations[0])
}

func TestStateStatsReturnsCopy(t *testing.T) {
	store, err := New(sampleRecords(), Options{})
	require.NoError(t, err)
	stats := store.StateStats()
	stats.Mean[0] = 1000
	require.NotEqual(t, 1000.0, store.StateStats().Mean[0])
}

func TestSummaryTracksLengths(t *testing.T) {
	store, err := New(sampleRecords(), Options{Name: "toy"})
	require.NoError(t, err)
	summary := store.Summary()
	require.Equal(t, model.DatasetSummary{
		Name:         "toy",
		Trajectories: 2,
		TotalSteps:   8,
		MinLen:       3,
		MaxLen:       5,
		StateDim:     2,
		ActionDim:    1,
	}, summary)
}

func TestNewRejectsMalformedRecords(t *testing.T) {
	cases := map[string]model.TrajectoryRecord{
		"missing observations": {Actions: [][]float64{{0}}, Rewards: []float64{1}},
		"missing actions":      {Observations: [][]float64{{0}}, Rewards: []float64{1}},
		"missing rewards":      {Observations: [][]float64{{0}}, Actions: [][]float64{{0}}},
		"length mismatch": {
			Observations: [][]float64{{0}, {1}},
			Actions:      [][]float64{{0}},
			Rewards:      []float64{1, 1},
		},
		"ragged state": {
			Observations: [][]float64{{0, 1}, {1}},
			Actions:      [][]float64{{0}, {0}},
			Rewards:      []float64{1, 1},
		},
		"empty": {
			Observations: [][]float64{},
			Actions:      [][]float64{},
			Rewards:      []float64{},
		},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New([]model.TrajectoryRecord{rec}, Options{})
			var formatErr *DatasetFormatError
			require.True(t, errors.As(err, &formatErr), "got %v", err)
			require.Equal(t, 0, formatErr.Index)
		})
	}
}

func TestNewRejectsEmptyDataset(t *testing.T) {
	_, err := New(nil, Options{})
	var formatErr *DatasetFormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestLoadDecodesJSON(t *testing.T) {
	src := `[
		{"observations": [[0, 1], [2, 3]], "actions": [[1], [0]], "rewards": [1, 2]},
		{"observations": [[4, 5]], "actions": [1], "rewards": [5]}
	]`
	store, err := Load(strings.NewReader(src), Options{Name: "json"})
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	second, err := store.Get(1)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1}}, second.Actions)
	require.Equal(t, []float64{5}, second.ReturnsToGo)
}

func TestLoadMissingFieldIsFormatError(t *testing.T) {
	src := `[{"observations": [[0]], "rewards": [1]}]`
	_, err := Load(strings.NewReader(src), Options{})
	var formatErr *DatasetFormatError
	require.ErrorAs(t, err, &formatErr)
	require.Equal(t, "actions", formatErr.Field)
}

func TestLoadInvalidJSONIsFormatError(t *testing.T) {
	_, err := Load(strings.NewReader(`{"not": "an array"}`), Options{})
	var formatErr *DatasetFormatError
	require.ErrorAs(t, err, &formatErr)
	require.Equal(t, -1, formatErr.Index)
}

func TestGetOutOfRange(t *testing.T) {
	store, err := New(sampleRecords(), Options{})
	require.NoError(t, err)
	_, err = store.Get(2)
	require.Error(t, err)
	_, err = store.Get(-1)
	require.Error(t, err)
}
