package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/linklab/link-decision-transformer/internal/model"
)

// EpisodeSummary aggregates the per-episode returns and lengths of one run.
type EpisodeSummary struct {
	Episodes   int     `json:"episodes"`
	ReturnMean float64 `json:"return_mean"`
	ReturnStd  float64 `json:"return_std"`
	ReturnMin  float64 `json:"return_min"`
	ReturnMax  float64 `json:"return_max"`
	LengthMean float64 `json:"length_mean"`
	Terminated int     `json:"terminated"`
	Truncated  int     `json:"truncated"`
	TimedOut   int     `json:"timed_out"`
}

func SummarizeEpisodes(episodes []model.EpisodeResult) EpisodeSummary {
	summary := EpisodeSummary{Episodes: len(episodes)}
	if len(episodes) == 0 {
		return summary
	}

	returns := make([]float64, len(episodes))
	lengths := make([]float64, len(episodes))
	for i, ep := range episodes {
		returns[i] = ep.Return
		lengths[i] = float64(ep.Length)
		switch ep.Outcome {
		case model.OutcomeTerminated:
			summary.Terminated++
		case model.OutcomeTruncated:
			summary.Truncated++
		case model.OutcomeTimedOut:
			summary.TimedOut++
		}
	}

	summary.ReturnMean, summary.ReturnStd = stat.PopMeanStdDev(returns, nil)
	summary.ReturnMin = floats.Min(returns)
	summary.ReturnMax = floats.Max(returns)
	summary.LengthMean = stat.Mean(lengths, nil)
	return summary
}
