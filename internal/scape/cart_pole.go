package scape

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/linklab/link-decision-transformer/internal/rollout"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	poleLength     = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * poleLength
	forceMag       = 10.0
	tau            = 0.02

	xThreshold       = 2.4
	thetaThreshold   = 12.0 * math.Pi / 180.0
	cartPoleMaxSteps = 500
)

// CartPole is the classic pole balancing task with a discrete action: the
// first action component is rounded, 0 pushes left and anything else right.
// Every surviving step pays 1.
type CartPole struct {
	rng                    *rand.Rand
	x, xDot, theta, thetaD float64
	steps                  int
}

func NewCartPole(rng *rand.Rand) *CartPole {
	return &CartPole{rng: rng}
}

func (e *CartPole) Reset(ctx context.Context) ([]float64, rollout.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	e.x = e.rng.Float64()*0.1 - 0.05
	e.xDot = e.rng.Float64()*0.1 - 0.05
	e.theta = e.rng.Float64()*0.1 - 0.05
	e.thetaD = e.rng.Float64()*0.1 - 0.05
	e.steps = 0
	return e.state(), rollout.Info{}, nil
}

func (e *CartPole) Step(ctx context.Context, action []float64) (rollout.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return rollout.StepResult{}, err
	}
	if len(action) != 1 {
		return rollout.StepResult{}, fmt.Errorf("cart-pole requires one action component, got %d", len(action))
	}

	force := forceMag
	if math.Round(action[0]) == 0 {
		force = -forceMag
	}

	cosTheta := math.Cos(e.theta)
	sinTheta := math.Sin(e.theta)
	temp := (force + poleMassLength*e.thetaD*e.thetaD*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (poleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.x += tau * e.xDot
	e.xDot += tau * xAcc
	e.theta += tau * e.thetaD
	e.thetaD += tau * thetaAcc
	e.steps++

	failed := e.x < -xThreshold || e.x > xThreshold || e.theta < -thetaThreshold || e.theta > thetaThreshold
	return rollout.StepResult{
		State:      e.state(),
		Reward:     1.0,
		Terminated: failed,
		Truncated:  !failed && e.steps >= cartPoleMaxSteps,
	}, nil
}

func (e *CartPole) state() []float64 {
	return []float64{e.x, e.xDot, e.theta, e.thetaD}
}
