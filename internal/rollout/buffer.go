package rollout

import "fmt"

// Buffer is a fixed-capacity record of one episode in progress. Positions
// [0, Len()) hold written states and returns-to-go; every position past the
// cursor is a zero placeholder.
type Buffer struct {
	stateDim  int
	actionDim int

	timesteps []int
	states    [][]float64
	actions   [][]float64
	rtg       []float64

	n int
}

func NewBuffer(capacity, stateDim, actionDim int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	if stateDim <= 0 || actionDim <= 0 {
		return nil, fmt.Errorf("buffer dims must be positive, got state=%d action=%d", stateDim, actionDim)
	}

	b := &Buffer{
		stateDim:  stateDim,
		actionDim: actionDim,
		timesteps: make([]int, capacity),
		states:    make([][]float64, capacity),
		actions:   make([][]float64, capacity),
		rtg:       make([]float64, capacity),
	}
	stateBacking := make([]float64, capacity*stateDim)
	actionBacking := make([]float64, capacity*actionDim)
	for i := 0; i < capacity; i++ {
		b.timesteps[i] = i
		b.states[i] = stateBacking[i*stateDim : (i+1)*stateDim : (i+1)*stateDim]
		b.actions[i] = actionBacking[i*actionDim : (i+1)*actionDim : (i+1)*actionDim]
	}
	return b, nil
}

func (b *Buffer) Len() int {
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.rtg)
}

func (b *Buffer) StateDim() int {
	return b.stateDim
}

func (b *Buffer) ActionDim() int {
	return b.actionDim
}

// Append writes a normalized state and its return-to-go at the cursor and
// advances it. The action slot stays zero until SetAction.
func (b *Buffer) Append(state []float64, rtg float64) (int, error) {
	if b.n >= b.Cap() {
		return 0, fmt.Errorf("buffer full at %d positions", b.Cap())
	}
	if len(state) != b.stateDim {
		return 0, fmt.Errorf("state has %d features, buffer expects %d", len(state), b.stateDim)
	}
	t := b.n
	copy(b.states[t], state)
	b.rtg[t] = rtg
	b.n++
	return t, nil
}

func (b *Buffer) SetAction(t int, action []float64) error {
	if t < 0 || t >= b.n {
		return fmt.Errorf("action position %d outside written range [0, %d)", t, b.n)
	}
	if len(action) != b.actionDim {
		return fmt.Errorf("action has %d components, buffer expects %d", len(action), b.actionDim)
	}
	copy(b.actions[t], action)
	return nil
}

// View returns positions [start, end) as a policy input. The slices alias the
// buffer.
func (b *Buffer) View(start, end int) (PolicyInput, error) {
	if start < 0 || end > b.Cap() || start >= end {
		return PolicyInput{}, fmt.Errorf("invalid buffer view [%d, %d) for capacity %d", start, end, b.Cap())
	}
	return PolicyInput{
		Timesteps:   b.timesteps[start:end:end],
		States:      b.states[start:end:end],
		Actions:     b.actions[start:end:end],
		ReturnsToGo: b.rtg[start:end:end],
	}, nil
}

// Reset zeroes every written position and rewinds the cursor.
func (b *Buffer) Reset() {
	for t := 0; t < b.n; t++ {
		clear(b.states[t])
		clear(b.actions[t])
		b.rtg[t] = 0
	}
	b.n = 0
}

// contextWindow picks the slice presented to the policy at step t and the
// index inside it whose prediction is executed.
func contextWindow(t, contextLen, capacity int) (start, end, pos int) {
	if t < contextLen {
		return 0, min(contextLen, capacity), t
	}
	return t - contextLen + 1, t + 1, contextLen - 1
}
