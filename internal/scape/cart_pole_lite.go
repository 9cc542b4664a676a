package scape

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/linklab/link-decision-transformer/internal/rollout"
)

const (
	cartPoleLiteMaxSteps = 60
	cartPoleLiteBound    = 2.0
)

// CartPoleLite is a simplified 1D balancing control task. State is
// [position, velocity]; the single continuous action is a force in [-1, 1].
type CartPoleLite struct {
	rng   *rand.Rand
	x, v  float64
	steps int
}

func NewCartPoleLite(rng *rand.Rand) *CartPoleLite {
	return &CartPoleLite{rng: rng}
}

func (e *CartPoleLite) Reset(ctx context.Context) ([]float64, rollout.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	e.x = e.rng.Float64()*2.4 - 1.2
	e.v = 0
	e.steps = 0
	return []float64{e.x, e.v}, rollout.Info{"start": e.x}, nil
}

func (e *CartPoleLite) Step(ctx context.Context, action []float64) (rollout.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return rollout.StepResult{}, err
	}
	if len(action) != 1 {
		return rollout.StepResult{}, fmt.Errorf("cart-pole-lite requires one action component, got %d", len(action))
	}

	var reward float64
	e.x, e.v, reward = cartPoleLiteStep(e.x, e.v, action[0])
	e.steps++
	return rollout.StepResult{
		State:      []float64{e.x, e.v},
		Reward:     reward,
		Terminated: math.Abs(e.x) > cartPoleLiteBound,
		Truncated:  e.steps >= cartPoleLiteMaxSteps,
	}, nil
}

func cartPoleLiteStep(x, v, force float64) (nextX, nextV, reward float64) {
	const (
		dt       = 0.1
		kPos     = 0.45
		kVel     = 0.15
		forceK   = 1.25
		maxForce = 1.0
	)
	if force > maxForce {
		force = maxForce
	}
	if force < -maxForce {
		force = -maxForce
	}

	acc := forceK*force - kPos*x - kVel*v
	v = v + acc*dt
	x = x + v*dt
	reward = 1.0 - math.Min(1.0, math.Abs(x)/2.0)
	return x, v, reward
}
