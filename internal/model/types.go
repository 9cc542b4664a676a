package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// TrajectoryRecord is one persisted episode as it appears in a dataset file.
// Actions are steps x action-dim; discrete datasets use a single column.
type TrajectoryRecord struct {
	Observations [][]float64 `json:"observations"`
	Actions      [][]float64 `json:"actions"`
	Rewards      []float64   `json:"rewards"`
}

func (r TrajectoryRecord) Len() int {
	return len(r.Rewards)
}

type Dataset struct {
	VersionedRecord
	Name         string             `json:"name"`
	Trajectories []TrajectoryRecord `json:"trajectories"`
}

// StateStats is the per-feature normalization computed over a dataset's raw
// observations. Training windows and evaluation rollouts must share one value.
type StateStats struct {
	VersionedRecord
	Dataset string    `json:"dataset,omitempty"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
	Epsilon float64   `json:"epsilon"`
}

func (s StateStats) Dim() int {
	return len(s.Mean)
}

// Normalize writes (state - mean) / std into dst, allocating when dst is short.
func (s StateStats) Normalize(dst, state []float64) []float64 {
	if cap(dst) < len(state) {
		dst = make([]float64, len(state))
	}
	dst = dst[:len(state)]
	for i, v := range state {
		dst[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return dst
}

// IdentityStats returns zero mean and unit std for dim features.
func IdentityStats(dim int) StateStats {
	mean := make([]float64, dim)
	std := make([]float64, dim)
	for i := range std {
		std[i] = 1
	}
	return StateStats{Mean: mean, Std: std}
}

type DatasetSummary struct {
	Name         string `json:"name"`
	Trajectories int    `json:"trajectories"`
	TotalSteps   int    `json:"total_steps"`
	MinLen       int    `json:"min_len"`
	MaxLen       int    `json:"max_len"`
	StateDim     int    `json:"state_dim"`
	ActionDim    int    `json:"action_dim"`
}

type EpisodeOutcome string

const (
	OutcomeTerminated EpisodeOutcome = "terminated"
	OutcomeTruncated  EpisodeOutcome = "truncated"
	OutcomeTimedOut   EpisodeOutcome = "timed_out"
)

type EpisodeResult struct {
	Episode int            `json:"episode"`
	Return  float64        `json:"return"`
	Length  int            `json:"length"`
	Outcome EpisodeOutcome `json:"outcome"`
}

type EvaluationReport struct {
	VersionedRecord
	RunID            string          `json:"run_id"`
	Environment      string          `json:"environment"`
	Dataset          string          `json:"dataset,omitempty"`
	ContextLen       int             `json:"context_len"`
	TargetReturn     float64         `json:"target_return"`
	ReturnScale      float64         `json:"return_scale"`
	AvgScore         float64         `json:"avg_score"`
	AvgEpisodeLength float64         `json:"avg_episode_length"`
	NormalizedScore  *float64        `json:"normalized_score,omitempty"`
	Episodes         []EpisodeResult `json:"episodes"`
	CreatedAtUTC     string          `json:"created_at_utc,omitempty"`
}
