package scape

import (
	"context"

	"github.com/linklab/link-decision-transformer/internal/rollout"
)

const defaultHorizon = 4

// FixedHorizon ignores its actions, pays a constant reward and terminates
// after exactly Horizon steps. State is the step counter.
type FixedHorizon struct {
	Horizon int
	Reward  float64

	steps int
}

func NewFixedHorizon(horizon int, reward float64) *FixedHorizon {
	return &FixedHorizon{Horizon: horizon, Reward: reward}
}

func (e *FixedHorizon) Reset(ctx context.Context) ([]float64, rollout.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	e.steps = 0
	return []float64{0}, rollout.Info{}, nil
}

func (e *FixedHorizon) Step(ctx context.Context, _ []float64) (rollout.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return rollout.StepResult{}, err
	}
	e.steps++
	return rollout.StepResult{
		State:      []float64{float64(e.steps)},
		Reward:     e.Reward,
		Terminated: e.steps >= e.Horizon,
	}, nil
}
