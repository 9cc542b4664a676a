package rollout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndView(t *testing.T) {
	buf, err := NewBuffer(4, 2, 1)
	require.NoError(t, err)
	require.Equal(t, 0, buf.Len())
	require.Equal(t, 4, buf.Cap())

	pos, err := buf.Append([]float64{1, 2}, 9)
	require.NoError(t, err)
	require.Equal(t, 0, pos)
	require.NoError(t, buf.SetAction(0, []float64{0.5}))

	view, err := buf.View(0, 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, view.Timesteps)
	require.Equal(t, [][]float64{{1, 2}, {0, 0}, {0, 0}}, view.States)
	require.Equal(t, [][]float64{{0.5}, {0}, {0}}, view.Actions)
	require.Equal(t, []float64{9, 0, 0}, view.ReturnsToGo)
}

func TestBufferRejectsOutOfRangeWrites(t *testing.T) {
	buf, err := NewBuffer(1, 1, 1)
	require.NoError(t, err)

	require.Error(t, buf.SetAction(0, []float64{1}), "nothing written yet")
	_, err = buf.Append([]float64{1, 2}, 0)
	require.Error(t, err, "wrong state width")

	_, err = buf.Append([]float64{1}, 0)
	require.NoError(t, err)
	_, err = buf.Append([]float64{1}, 0)
	require.Error(t, err, "buffer full")
	require.Error(t, buf.SetAction(0, []float64{1, 2}), "wrong action width")
}

func TestBufferResetClearsWrittenPositions(t *testing.T) {
	buf, err := NewBuffer(3, 1, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := buf.Append([]float64{float64(i + 1)}, 1)
		require.NoError(t, err)
		require.NoError(t, buf.SetAction(i, []float64{1}))
	}
	buf.Reset()
	require.Equal(t, 0, buf.Len())

	view, err := buf.View(0, 3)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0}, {0}, {0}}, view.States)
	require.Equal(t, [][]float64{{0}, {0}, {0}}, view.Actions)
	require.Equal(t, []float64{0, 0, 0}, view.ReturnsToGo)
}

func TestBufferViewBounds(t *testing.T) {
	buf, err := NewBuffer(3, 1, 1)
	require.NoError(t, err)
	_, err = buf.View(0, 4)
	require.Error(t, err)
	_, err = buf.View(2, 2)
	require.Error(t, err)
}

func TestContextWindow(t *testing.T) {
	cases := []struct {
		t, contextLen, capacity int
		start, end, pos         int
	}{
		{0, 3, 10, 0, 3, 0},
		{2, 3, 10, 0, 3, 2},
		{3, 3, 10, 1, 4, 2},
		{9, 3, 10, 7, 10, 2},
		{1, 8, 4, 0, 4, 1},
	}
	for _, tc := range cases {
		start, end, pos := contextWindow(tc.t, tc.contextLen, tc.capacity)
		require.Equal(t, [3]int{tc.start, tc.end, tc.pos}, [3]int{start, end, pos}, "t=%d", tc.t)
	}
}

func TestNewBufferValidation(t *testing.T) {
	_, err := NewBuffer(0, 1, 1)
	require.Error(t, err)
	_, err = NewBuffer(1, 0, 1)
	require.Error(t, err)
}
