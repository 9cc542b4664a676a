package rollout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linklab/link-decision-transformer/internal/model"
)

// scriptedEnv emits state [step] and a constant reward, terminating or
// truncating after a fixed number of steps when configured.
type scriptedEnv struct {
	reward      float64
	terminateAt int
	truncateAt  int
	resetErr    error
	stepErr     error
	failAtStep  int
	stateWidth  int

	steps   int
	actions [][]float64
}

func (e *scriptedEnv) Reset(context.Context) ([]float64, Info, error) {
	if e.resetErr != nil {
		return nil, nil, e.resetErr
	}
	e.steps = 0
	e.actions = nil
	return e.state(), Info{}, nil
}

func (e *scriptedEnv) Step(_ context.Context, action []float64) (StepResult, error) {
	if e.stepErr != nil && e.steps == e.failAtStep {
		return StepResult{}, e.stepErr
	}
	e.actions = append(e.actions, append([]float64(nil), action...))
	e.steps++
	return StepResult{
		State:      e.state(),
		Reward:     e.reward,
		Terminated: e.terminateAt > 0 && e.steps >= e.terminateAt,
		Truncated:  e.truncateAt > 0 && e.steps >= e.truncateAt,
	}, nil
}

func (e *scriptedEnv) state() []float64 {
	width := e.stateWidth
	if width == 0 {
		width = 1
	}
	out := make([]float64, width)
	out[0] = float64(e.steps)
	return out
}

// recordingPolicy predicts timestep+0.5 at every position and keeps a deep
// copy of each input.
type recordingPolicy struct {
	inputs []PolicyInput
}

func (p *recordingPolicy) PredictActions(_ context.Context, in PolicyInput) ([][]float64, error) {
	p.inputs = append(p.inputs, copyInput(in))
	out := make([][]float64, in.Len())
	for i, ts := range in.Timesteps {
		out[i] = []float64{float64(ts) + 0.5}
	}
	return out, nil
}

func copyInput(in PolicyInput) PolicyInput {
	out := PolicyInput{
		Timesteps:   append([]int(nil), in.Timesteps...),
		ReturnsToGo: append([]float64(nil), in.ReturnsToGo...),
	}
	for _, s := range in.States {
		out.States = append(out.States, append([]float64(nil), s...))
	}
	for _, a := range in.Actions {
		out.Actions = append(out.Actions, append([]float64(nil), a...))
	}
	return out
}

func baseConfig() Config {
	return Config{
		ContextLen:   3,
		TargetReturn: 10,
		ReturnScale:  1,
		NumEpisodes:  1,
		MaxSteps:     6,
		ActionDim:    1,
	}
}

func TestEvaluateFixedLengthEpisode(t *testing.T) {
	env := &scriptedEnv{reward: 1, terminateAt: 4}
	cfg := baseConfig()
	cfg.MaxSteps = 20

	res, err := Evaluate(context.Background(), &recordingPolicy{}, env, cfg)
	require.NoError(t, err)
	require.Equal(t, 4.0, res.AvgEpisodeLength)
	require.Equal(t, 4.0, res.AvgScore)
	require.Equal(t, model.OutcomeTerminated, res.Episodes[0].Outcome)
}

func TestEvaluateAveragesOverEpisodes(t *testing.T) {
	env := &scriptedEnv{reward: 0.5, terminateAt: 4}
	cfg := baseConfig()
	cfg.NumEpisodes = 3
	cfg.MaxSteps = 20

	res, err := Evaluate(context.Background(), &recordingPolicy{}, env, cfg)
	require.NoError(t, err)
	require.Len(t, res.Episodes, 3)
	require.Equal(t, 2.0, res.AvgScore)
	require.Equal(t, 4.0, res.AvgEpisodeLength)
}

func TestEvaluateContextSelection(t *testing.T) {
	env := &scriptedEnv{reward: 1}
	policy := &recordingPolicy{}
	cfg := baseConfig()

	res, err := Evaluate(context.Background(), policy, env, cfg)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeTimedOut, res.Episodes[0].Outcome)
	require.Equal(t, 6, res.Episodes[0].Length)
	require.Len(t, policy.inputs, 6)

	// Early steps see the leading window and act on position t.
	for step := 0; step < 3; step++ {
		require.Equal(t, []int{0, 1, 2}, policy.inputs[step].Timesteps)
	}
	// Later steps see the trailing window ending at t.
	require.Equal(t, []int{1, 2, 3}, policy.inputs[3].Timesteps)
	require.Equal(t, []int{3, 4, 5}, policy.inputs[5].Timesteps)

	// Executed actions come from position t in both regimes.
	for step, action := range env.actions {
		require.Equal(t, []float64{float64(step) + 0.5}, action)
	}
}

func TestEvaluateFeedsBackOwnActions(t *testing.T) {
	env := &scriptedEnv{reward: 1}
	policy := &recordingPolicy{}

	_, err := Evaluate(context.Background(), policy, env, baseConfig())
	require.NoError(t, err)

	// At t=1 only action 0 has been executed; later slots are placeholders.
	require.Equal(t, [][]float64{{0.5}, {0}, {0}}, policy.inputs[1].Actions)
	// At t=4 the window is [2,5): actions 2 and 3 executed, 4 pending.
	require.Equal(t, [][]float64{{2.5}, {3.5}, {0}}, policy.inputs[4].Actions)
}

func TestEvaluateReturnToGoAndNormalization(t *testing.T) {
	env := &scriptedEnv{reward: 2}
	policy := &recordingPolicy{}
	cfg := baseConfig()
	cfg.ReturnScale = 2
	cfg.Stats = &model.StateStats{Mean: []float64{1}, Std: []float64{2}}

	_, err := Evaluate(context.Background(), policy, env, cfg)
	require.NoError(t, err)

	require.Equal(t, []float64{5, 4, 3}, policy.inputs[2].ReturnsToGo)
	require.Equal(t, [][]float64{{-0.5}, {0}, {0.5}}, policy.inputs[2].States)
	require.Equal(t, []float64{2, 1, 0}, policy.inputs[5].ReturnsToGo)
}

func TestEvaluateTruncation(t *testing.T) {
	env := &scriptedEnv{reward: 1, truncateAt: 2}
	res, err := Evaluate(context.Background(), &recordingPolicy{}, env, baseConfig())
	require.NoError(t, err)
	require.Equal(t, model.OutcomeTruncated, res.Episodes[0].Outcome)
	require.Equal(t, 2, res.Episodes[0].Length)
}

func TestEvaluateContextLongerThanEpisodeBudget(t *testing.T) {
	env := &scriptedEnv{reward: 1}
	policy := &recordingPolicy{}
	cfg := baseConfig()
	cfg.ContextLen = 10
	cfg.MaxSteps = 4

	res, err := Evaluate(context.Background(), policy, env, cfg)
	require.NoError(t, err)
	require.Equal(t, 4, res.Episodes[0].Length)
	require.Equal(t, []int{0, 1, 2, 3}, policy.inputs[3].Timesteps)
}

var errBoom = errors.New("boom")

func TestEvaluatePropagatesResetFailure(t *testing.T) {
	env := &scriptedEnv{resetErr: errBoom}
	_, err := Evaluate(context.Background(), &recordingPolicy{}, env, baseConfig())

	var envErr *EnvironmentInteractionError
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, "reset", envErr.Op)
	require.ErrorIs(t, err, errBoom)
}

func TestEvaluatePropagatesStepFailure(t *testing.T) {
	env := &scriptedEnv{reward: 1, stepErr: errBoom, failAtStep: 2}
	_, err := Evaluate(context.Background(), &recordingPolicy{}, env, baseConfig())

	var envErr *EnvironmentInteractionError
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, "step", envErr.Op)
	require.Equal(t, 2, envErr.Step)
	require.ErrorIs(t, err, errBoom)
}

func TestEvaluateRejectsMisshapenPolicyOutput(t *testing.T) {
	cases := map[string]PolicyFunc{
		"short window": func(_ context.Context, in PolicyInput) ([][]float64, error) {
			return make([][]float64, in.Len()-1), nil
		},
		"wide action": func(_ context.Context, in PolicyInput) ([][]float64, error) {
			out := make([][]float64, in.Len())
			for i := range out {
				out[i] = []float64{0, 0}
			}
			return out, nil
		},
	}
	for name, policy := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Evaluate(context.Background(), policy, &scriptedEnv{reward: 1}, baseConfig())
			var contractErr *ContractViolationError
			require.ErrorAs(t, err, &contractErr)
		})
	}
}

func TestEvaluateRejectsStatsDimensionMismatch(t *testing.T) {
	cfg := baseConfig()
	cfg.Stats = &model.StateStats{Mean: []float64{0, 0}, Std: []float64{1, 1}}
	_, err := Evaluate(context.Background(), &recordingPolicy{}, &scriptedEnv{reward: 1}, cfg)
	var contractErr *ContractViolationError
	require.ErrorAs(t, err, &contractErr)
}

func TestEvaluatePolicyErrorIsWrapped(t *testing.T) {
	policy := PolicyFunc(func(context.Context, PolicyInput) ([][]float64, error) {
		return nil, errBoom
	})
	_, err := Evaluate(context.Background(), policy, &scriptedEnv{reward: 1}, baseConfig())
	require.ErrorIs(t, err, errBoom)
}

func TestEvaluateDiscreteActionUsesSingleColumn(t *testing.T) {
	env := &scriptedEnv{reward: 1, terminateAt: 2}
	cfg := baseConfig()
	cfg.DiscreteAction = true
	cfg.ActionDim = 0

	res, err := Evaluate(context.Background(), &recordingPolicy{}, env, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, res.Episodes[0].Length)
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, &recordingPolicy{}, &scriptedEnv{reward: 1}, baseConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateConfigValidation(t *testing.T) {
	mutate := []func(*Config){
		func(c *Config) { c.ContextLen = 0 },
		func(c *Config) { c.ReturnScale = 0 },
		func(c *Config) { c.NumEpisodes = 0 },
		func(c *Config) { c.MaxSteps = 0 },
		func(c *Config) { c.ActionDim = 0 },
		func(c *Config) { c.Stats = &model.StateStats{Mean: []float64{0}} },
	}
	for i, m := range mutate {
		cfg := baseConfig()
		m(&cfg)
		_, err := Evaluate(context.Background(), &recordingPolicy{}, &scriptedEnv{reward: 1}, cfg)
		require.Error(t, err, "case %d", i)
	}
}

type stepPolicy struct{}

func (stepPolicy) PredictActions(_ context.Context, in PolicyInput) ([][]float64, error) {
	out := make([][]float64, in.Len())
	for i := range out {
		out[i] = []float64{1}
	}
	return out, nil
}

func TestEvaluateParallelMatchesSequential(t *testing.T) {
	cfg := baseConfig()
	cfg.NumEpisodes = 8
	cfg.MaxSteps = 20

	var built atomic.Int32
	factory := func() (Environment, error) {
		built.Add(1)
		return &scriptedEnv{reward: 1.5, terminateAt: 5}, nil
	}

	parallel, err := EvaluateParallel(context.Background(), stepPolicy{}, factory, cfg, 3)
	require.NoError(t, err)
	sequential, err := Evaluate(context.Background(), stepPolicy{}, &scriptedEnv{reward: 1.5, terminateAt: 5}, cfg)
	require.NoError(t, err)

	require.Equal(t, sequential.AvgScore, parallel.AvgScore)
	require.Equal(t, sequential.AvgEpisodeLength, parallel.AvgEpisodeLength)
	require.Equal(t, int32(3), built.Load())
	for i, ep := range parallel.Episodes {
		require.Equal(t, i, ep.Episode)
	}
}

func TestEvaluateParallelPropagatesFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.NumEpisodes = 6
	factory := func() (Environment, error) {
		return &scriptedEnv{reward: 1, stepErr: errBoom, failAtStep: 1}, nil
	}
	_, err := EvaluateParallel(context.Background(), stepPolicy{}, factory, cfg, 2)
	require.ErrorIs(t, err, errBoom)
}

func TestEvaluateParallelFactoryFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.NumEpisodes = 4
	factory := func() (Environment, error) { return nil, errBoom }
	_, err := EvaluateParallel(context.Background(), stepPolicy{}, factory, cfg, 2)
	require.ErrorIs(t, err, errBoom)
}
