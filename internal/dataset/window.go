package dataset

import (
	"errors"
	"fmt"
)

// Rand is the random source used to draw window offsets. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Window is one fixed-length training sample. Exactly one of Actions and
// DiscreteActions is set, depending on the extraction mode.
type Window struct {
	// Start is the offset into the source trajectory.
	Start           int
	Timesteps       []int
	States          [][]float64
	Actions         [][]float64
	DiscreteActions [][]int
	ReturnsToGo     []float64
	// Mask is 1 where the window holds trajectory content and 0 on padding.
	Mask []int
}

func (w Window) Len() int {
	return len(w.Timesteps)
}

// Valid returns the number of unpadded positions.
func (w Window) Valid() int {
	n := 0
	for _, m := range w.Mask {
		n += m
	}
	return n
}

// Extract slices contextLen steps out of traj. Long trajectories get a uniform
// random offset in [0, L-contextLen] and absolute timesteps. Short ones start
// at 0 and are zero-padded on the right, with timesteps 0..contextLen-1.
func Extract(traj Trajectory, contextLen int, discreteAction bool, rng Rand) (Window, error) {
	if contextLen <= 0 {
		return Window{}, fmt.Errorf("context length must be positive, got %d", contextLen)
	}
	n := traj.Len()
	if n == 0 {
		return Window{}, errors.New("cannot extract window from empty trajectory")
	}

	start, valid := 0, n
	if n >= contextLen {
		if n > contextLen {
			if rng == nil {
				return Window{}, errors.New("random source is required to sample a window offset")
			}
			start = rng.Intn(n - contextLen + 1)
		}
		valid = contextLen
	}

	w := Window{
		Start:       start,
		Timesteps:   make([]int, contextLen),
		States:      make([][]float64, contextLen),
		ReturnsToGo: make([]float64, contextLen),
		Mask:        make([]int, contextLen),
	}
	stateDim := len(traj.Observations[0])
	actionDim := len(traj.Actions[0])
	if discreteAction {
		w.DiscreteActions = make([][]int, contextLen)
	} else {
		w.Actions = make([][]float64, contextLen)
	}

	for i := 0; i < contextLen; i++ {
		if n >= contextLen {
			w.Timesteps[i] = start + i
		} else {
			w.Timesteps[i] = i
		}

		if i >= valid {
			w.States[i] = make([]float64, stateDim)
			if discreteAction {
				w.DiscreteActions[i] = make([]int, actionDim)
			} else {
				w.Actions[i] = make([]float64, actionDim)
			}
			continue
		}

		src := start + i
		w.Mask[i] = 1
		w.States[i] = append([]float64(nil), traj.Observations[src]...)
		w.ReturnsToGo[i] = traj.ReturnsToGo[src]
		if discreteAction {
			w.DiscreteActions[i] = truncateAction(traj.Actions[src])
		} else {
			w.Actions[i] = append([]float64(nil), traj.Actions[src]...)
		}
	}
	return w, nil
}

func truncateAction(action []float64) []int {
	out := make([]int, len(action))
	for i, v := range action {
		out[i] = int(v)
	}
	return out
}
