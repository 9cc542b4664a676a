package rollout

import "context"

type Info map[string]any

type StepResult struct {
	State      []float64
	Reward     float64
	Terminated bool
	Truncated  bool
	Info       Info
}

// Environment is a live interaction loop with reset/step semantics.
type Environment interface {
	Reset(ctx context.Context) ([]float64, Info, error)
	Step(ctx context.Context, action []float64) (StepResult, error)
}

// EnvFactory builds an independent environment instance per episode worker.
type EnvFactory func() (Environment, error)

// PolicyInput is a batch-of-one context window. All slices share one length.
type PolicyInput struct {
	Timesteps   []int
	States      [][]float64
	Actions     [][]float64
	ReturnsToGo []float64
}

func (in PolicyInput) Len() int {
	return len(in.Timesteps)
}

// Policy predicts one action per window position. Implementations must not
// retain the input slices; they are views into the rollout buffer.
type Policy interface {
	PredictActions(ctx context.Context, in PolicyInput) ([][]float64, error)
}

type PolicyFunc func(ctx context.Context, in PolicyInput) ([][]float64, error)

func (f PolicyFunc) PredictActions(ctx context.Context, in PolicyInput) ([][]float64, error) {
	return f(ctx, in)
}
