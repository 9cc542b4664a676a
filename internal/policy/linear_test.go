package policy

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linklab/link-decision-transformer/internal/rollout"
)

func input(states [][]float64, rtg []float64) rollout.PolicyInput {
	ts := make([]int, len(states))
	actions := make([][]float64, len(states))
	for i := range states {
		ts[i] = i
		actions[i] = []float64{0}
	}
	return rollout.PolicyInput{Timesteps: ts, States: states, Actions: actions, ReturnsToGo: rtg}
}

func TestLinearContinuous(t *testing.T) {
	p, err := NewLinear(LinearSpec{
		Weights:    [][]float64{{2, -1}},
		Bias:       []float64{0.5},
		RTGWeights: []float64{0.1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, p.StateDim())
	require.Equal(t, 1, p.ActionDim())

	got, err := p.PredictActions(context.Background(), input([][]float64{{1, 1}, {0, 3}}, []float64{10, 0}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.InDelta(t, 2-1+0.5+1, got[0][0], 1e-12)
	require.InDelta(t, -3+0.5, got[1][0], 1e-12)
}

func TestLinearActivation(t *testing.T) {
	p, err := NewLinear(LinearSpec{Weights: [][]float64{{5}}, Activation: "clip"})
	require.NoError(t, err)
	got, err := p.PredictActions(context.Background(), input([][]float64{{1}, {-1}}, []float64{0, 0}))
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1}, {-1}}, got)

	_, err = NewLinear(LinearSpec{Weights: [][]float64{{1}}, Activation: "softsign"})
	require.ErrorIs(t, err, ErrActivationNotFound)
}

func TestLinearDiscrete(t *testing.T) {
	threshold, err := NewLinear(LinearSpec{Weights: [][]float64{{1}}, Discrete: true})
	require.NoError(t, err)
	got, err := threshold.PredictActions(context.Background(), input([][]float64{{0.3}, {-0.3}}, []float64{0, 0}))
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1}, {0}}, got)

	argmax, err := NewLinear(LinearSpec{Weights: [][]float64{{1, 0}, {0, 1}, {-1, -1}}, Discrete: true})
	require.NoError(t, err)
	require.Equal(t, 1, argmax.ActionDim())
	got, err = argmax.PredictActions(context.Background(), input([][]float64{{2, 1}, {1, 2}, {-3, -3}}, []float64{0, 0, 0}))
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0}, {1}, {2}}, got)
}

func TestLinearRejectsBadShapes(t *testing.T) {
	_, err := NewLinear(LinearSpec{})
	require.Error(t, err)
	_, err = NewLinear(LinearSpec{Weights: [][]float64{{1, 2}, {1}}})
	require.Error(t, err)
	_, err = NewLinear(LinearSpec{Weights: [][]float64{{1}}, Bias: []float64{1, 2}})
	require.Error(t, err)

	p, err := NewLinear(LinearSpec{Weights: [][]float64{{1, 2}}})
	require.NoError(t, err)
	_, err = p.PredictActions(context.Background(), input([][]float64{{1}}, []float64{0}))
	require.Error(t, err)
}

func TestLoadLinear(t *testing.T) {
	p, err := LoadLinear(strings.NewReader(`{"weights": [[-1.2, -0.6]], "activation": "tanh"}`))
	require.NoError(t, err)
	got, err := p.PredictActions(context.Background(), input([][]float64{{1, 0}}, []float64{0}))
	require.NoError(t, err)
	require.InDelta(t, math.Tanh(-1.2), got[0][0], 1e-12)

	_, err = LoadLinear(strings.NewReader(`{"weights": [[1]], "layers": 3}`))
	require.Error(t, err)
}

func TestListActivations(t *testing.T) {
	require.Equal(t, []string{"clip", "identity", "relu", "sigmoid", "tanh"}, ListActivations())
	require.ErrorIs(t, RegisterActivation("tanh", math.Tanh), ErrActivationExists)
}
