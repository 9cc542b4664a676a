package dataset

import (
	"encoding/json"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/linklab/link-decision-transformer/internal/model"
)

const DefaultStdEpsilon = 1e-6

type Options struct {
	Name string
	// RTGScale divides every return-to-go; zero means 1.
	RTGScale float64
	// Epsilon is added to every per-feature std; zero means DefaultStdEpsilon.
	Epsilon float64
}

func (o Options) withDefaults() (Options, error) {
	if o.RTGScale == 0 {
		o.RTGScale = 1
	}
	if o.RTGScale < 0 {
		return Options{}, fmt.Errorf("rtg scale must be positive, got %g", o.RTGScale)
	}
	if o.Epsilon == 0 {
		o.Epsilon = DefaultStdEpsilon
	}
	if o.Epsilon < 0 {
		return Options{}, fmt.Errorf("std epsilon must be positive, got %g", o.Epsilon)
	}
	return o, nil
}

// Trajectory is one episode after load: observations normalized with the
// owning store's statistics and returns-to-go already scaled.
type Trajectory struct {
	Observations [][]float64
	Actions      [][]float64
	Rewards      []float64
	ReturnsToGo  []float64
}

func (t Trajectory) Len() int {
	return len(t.Rewards)
}

// Store owns a fixed set of trajectories. It is read-only once constructed and
// safe for concurrent readers.
type Store struct {
	name         string
	trajectories []Trajectory
	stats        model.StateStats
	summary      model.DatasetSummary
}

// Load decodes a JSON array of trajectory records and builds a Store from it.
func Load(r io.Reader, opts Options) (*Store, error) {
	records, err := DecodeRecords(r)
	if err != nil {
		return nil, err
	}
	return New(records, opts)
}

// New validates records, computes state statistics over the raw observations,
// normalizes a private copy of them and computes returns-to-go.
func New(records []model.TrajectoryRecord, opts Options) (*Store, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &DatasetFormatError{Index: -1, Reason: "no trajectories"}
	}
	stateDim, actionDim, err := validateRecords(records)
	if err != nil {
		return nil, err
	}

	s := &Store{
		name:         opts.Name,
		trajectories: make([]Trajectory, len(records)),
		summary: model.DatasetSummary{
			Name:         opts.Name,
			Trajectories: len(records),
			MinLen:       records[0].Len(),
			StateDim:     stateDim,
			ActionDim:    actionDim,
		},
	}

	for i, rec := range records {
		rtg, err := DiscountCumsum(rec.Rewards, 1.0)
		if err != nil {
			return nil, &DatasetFormatError{Index: i, Field: "rewards", Err: err}
		}
		for t := range rtg {
			rtg[t] /= opts.RTGScale
		}
		s.trajectories[i] = Trajectory{
			Observations: cloneMatrix(rec.Observations),
			Actions:      cloneMatrix(rec.Actions),
			Rewards:      append([]float64(nil), rec.Rewards...),
			ReturnsToGo:  rtg,
		}

		n := rec.Len()
		s.summary.TotalSteps += n
		s.summary.MinLen = min(s.summary.MinLen, n)
		s.summary.MaxLen = max(s.summary.MaxLen, n)
	}

	s.stats = computeStateStats(s.trajectories, s.summary.TotalSteps, stateDim, opts.Epsilon)
	s.stats.Dataset = opts.Name
	for i := range s.trajectories {
		for _, obs := range s.trajectories[i].Observations {
			s.stats.Normalize(obs, obs)
		}
	}
	return s, nil
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Len() int {
	return len(s.trajectories)
}

func (s *Store) Get(index int) (Trajectory, error) {
	if index < 0 || index >= len(s.trajectories) {
		return Trajectory{}, fmt.Errorf("trajectory index %d out of range [0, %d)", index, len(s.trajectories))
	}
	return s.trajectories[index], nil
}

// StateStats returns a copy of the statistics used to normalize observations.
func (s *Store) StateStats() model.StateStats {
	out := s.stats
	out.Mean = append([]float64(nil), s.stats.Mean...)
	out.Std = append([]float64(nil), s.stats.Std...)
	return out
}

func (s *Store) Summary() model.DatasetSummary {
	return s.summary
}

// Window extracts one training window from the trajectory at index.
func (s *Store) Window(index, contextLen int, discreteAction bool, rng Rand) (Window, error) {
	traj, err := s.Get(index)
	if err != nil {
		return Window{}, err
	}
	return Extract(traj, contextLen, discreteAction, rng)
}

func computeStateStats(trajectories []Trajectory, totalSteps, stateDim int, epsilon float64) model.StateStats {
	samples := mat.NewDense(totalSteps, stateDim, nil)
	row := 0
	for _, traj := range trajectories {
		for _, obs := range traj.Observations {
			samples.SetRow(row, obs)
			row++
		}
	}

	mean := make([]float64, stateDim)
	std := make([]float64, stateDim)
	col := make([]float64, totalSteps)
	for j := 0; j < stateDim; j++ {
		mat.Col(col, j, samples)
		mean[j], std[j] = stat.PopMeanStdDev(col, nil)
		std[j] += epsilon
	}
	return model.StateStats{Mean: mean, Std: std, Epsilon: epsilon}
}

func validateRecords(records []model.TrajectoryRecord) (stateDim, actionDim int, err error) {
	stateDim, actionDim = -1, -1
	for i, rec := range records {
		if rec.Observations == nil {
			return 0, 0, formatError(i, "observations", "missing")
		}
		if rec.Actions == nil {
			return 0, 0, formatError(i, "actions", "missing")
		}
		if rec.Rewards == nil {
			return 0, 0, formatError(i, "rewards", "missing")
		}
		n := len(rec.Rewards)
		if n == 0 {
			return 0, 0, formatError(i, "rewards", "empty trajectory")
		}
		if len(rec.Observations) != n {
			return 0, 0, formatError(i, "observations", fmt.Sprintf("length %d does not match rewards length %d", len(rec.Observations), n))
		}
		if len(rec.Actions) != n {
			return 0, 0, formatError(i, "actions", fmt.Sprintf("length %d does not match rewards length %d", len(rec.Actions), n))
		}
		for t, obs := range rec.Observations {
			if stateDim < 0 {
				stateDim = len(obs)
			}
			if len(obs) == 0 || len(obs) != stateDim {
				return 0, 0, formatError(i, "observations", fmt.Sprintf("step %d has %d features, want %d", t, len(obs), stateDim))
			}
		}
		for t, act := range rec.Actions {
			if actionDim < 0 {
				actionDim = len(act)
			}
			if len(act) == 0 || len(act) != actionDim {
				return 0, 0, formatError(i, "actions", fmt.Sprintf("step %d has %d components, want %d", t, len(act), actionDim))
			}
		}
	}
	return stateDim, actionDim, nil
}

type rawRecord struct {
	Observations *[][]float64   `json:"observations"`
	Actions      json.RawMessage `json:"actions"`
	Rewards      *[]float64      `json:"rewards"`
}

// DecodeRecords reads a JSON array of trajectory records. Discrete datasets may
// store actions as a flat list; those are widened to one column.
func DecodeRecords(r io.Reader) ([]model.TrajectoryRecord, error) {
	var raw []rawRecord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &DatasetFormatError{Index: -1, Reason: "decode records", Err: err}
	}

	records := make([]model.TrajectoryRecord, len(raw))
	for i, rec := range raw {
		if rec.Observations == nil {
			return nil, formatError(i, "observations", "missing")
		}
		if rec.Rewards == nil {
			return nil, formatError(i, "rewards", "missing")
		}
		actions, err := decodeActions(rec.Actions)
		if err != nil {
			return nil, &DatasetFormatError{Index: i, Field: "actions", Err: err}
		}
		if actions == nil {
			return nil, formatError(i, "actions", "missing")
		}
		records[i] = model.TrajectoryRecord{
			Observations: *rec.Observations,
			Actions:      actions,
			Rewards:      *rec.Rewards,
		}
	}
	return records, nil
}

func decodeActions(data json.RawMessage) ([][]float64, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var matrix [][]float64
	if err := json.Unmarshal(data, &matrix); err == nil {
		return matrix, nil
	}
	var flat []float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	matrix = make([][]float64, len(flat))
	for i, v := range flat {
		matrix[i] = []float64{v}
	}
	return matrix, nil
}

func cloneMatrix(in [][]float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, row := range in {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
