package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/linklab/link-decision-transformer/internal/model"
)

type Config struct {
	ContextLen   int
	TargetReturn float64
	ReturnScale  float64
	NumEpisodes  int
	MaxSteps     int
	// ActionDim is the policy output width; discrete evaluation forces 1.
	ActionDim      int
	DiscreteAction bool
	// Stats normalizes every observed state. Nil means zero mean and unit std.
	Stats *model.StateStats
}

func (c Config) validate() error {
	if c.ContextLen <= 0 {
		return fmt.Errorf("context length must be positive, got %d", c.ContextLen)
	}
	if c.ReturnScale <= 0 {
		return fmt.Errorf("return scale must be positive, got %g", c.ReturnScale)
	}
	if c.NumEpisodes <= 0 {
		return fmt.Errorf("episode count must be positive, got %d", c.NumEpisodes)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", c.MaxSteps)
	}
	if !c.DiscreteAction && c.ActionDim <= 0 {
		return fmt.Errorf("action dim must be positive, got %d", c.ActionDim)
	}
	if c.Stats != nil && len(c.Stats.Mean) != len(c.Stats.Std) {
		return fmt.Errorf("state stats mean/std length mismatch: %d vs %d", len(c.Stats.Mean), len(c.Stats.Std))
	}
	return nil
}

func (c Config) actionDim() int {
	if c.DiscreteAction {
		return 1
	}
	return c.ActionDim
}

type Result struct {
	AvgScore         float64
	AvgEpisodeLength float64
	Episodes         []model.EpisodeResult
}

// Evaluate runs cfg.NumEpisodes episodes one after another on env.
func Evaluate(ctx context.Context, policy Policy, env Environment, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	if policy == nil || env == nil {
		return Result{}, errors.New("policy and environment are required")
	}

	episodes := make([]model.EpisodeResult, cfg.NumEpisodes)
	var buf *Buffer
	for ep := 0; ep < cfg.NumEpisodes; ep++ {
		res, err := runEpisode(ctx, policy, env, cfg, ep, &buf)
		if err != nil {
			return Result{}, err
		}
		episodes[ep] = res
	}
	return aggregate(ctx, episodes), nil
}

// EvaluateParallel spreads episodes over workers. Each worker builds its own
// environment and buffer; policy must be safe for concurrent use.
func EvaluateParallel(ctx context.Context, policy Policy, newEnv EnvFactory, cfg Config, workers int) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	if policy == nil || newEnv == nil {
		return Result{}, errors.New("policy and environment factory are required")
	}
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, cfg.NumEpisodes)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	episodes := make([]model.EpisodeResult, cfg.NumEpisodes)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := newEnv()
			if err != nil {
				fail(fmt.Errorf("build environment: %w", err))
				for range jobs {
				}
				return
			}
			var buf *Buffer
			for ep := range jobs {
				if ctx.Err() != nil {
					continue
				}
				res, err := runEpisode(ctx, policy, env, cfg, ep, &buf)
				if err != nil {
					fail(err)
					continue
				}
				episodes[ep] = res
			}
		}()
	}

feed:
	for ep := 0; ep < cfg.NumEpisodes; ep++ {
		select {
		case jobs <- ep:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return Result{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return aggregate(ctx, episodes), nil
}

func aggregate(ctx context.Context, episodes []model.EpisodeResult) Result {
	var totalReward float64
	var totalSteps int
	for _, ep := range episodes {
		totalReward += ep.Return
		totalSteps += ep.Length
	}
	n := float64(len(episodes))
	res := Result{
		AvgScore:         totalReward / n,
		AvgEpisodeLength: float64(totalSteps) / n,
		Episodes:         episodes,
	}
	zerolog.Ctx(ctx).Info().
		Int("episodes", len(episodes)).
		Float64("avg_score", res.AvgScore).
		Float64("avg_episode_length", res.AvgEpisodeLength).
		Msg("evaluation complete")
	return res
}

// runEpisode drives one episode from reset to termination, truncation or the
// step budget. bufp caches the buffer between episodes of one worker.
func runEpisode(ctx context.Context, policy Policy, env Environment, cfg Config, episode int, bufp **Buffer) (model.EpisodeResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "evaluator").Int("episode", episode).Logger()

	state, _, err := env.Reset(ctx)
	if err != nil {
		return model.EpisodeResult{}, &EnvironmentInteractionError{Episode: episode, Op: "reset", Err: err}
	}

	stats := model.IdentityStats(len(state))
	if cfg.Stats != nil {
		stats = *cfg.Stats
	}
	stateDim := stats.Dim()
	if stateDim == 0 || len(state) != stateDim {
		return model.EpisodeResult{}, &ContractViolationError{
			Episode: episode,
			Detail:  fmt.Sprintf("reset state has %d features, normalization expects %d", len(state), stateDim),
		}
	}

	actionDim := cfg.actionDim()
	buf := *bufp
	if buf == nil || buf.Cap() != cfg.MaxSteps || buf.StateDim() != stateDim || buf.ActionDim() != actionDim {
		buf, err = NewBuffer(cfg.MaxSteps, stateDim, actionDim)
		if err != nil {
			return model.EpisodeResult{}, err
		}
		*bufp = buf
	} else {
		buf.Reset()
	}

	result := model.EpisodeResult{Episode: episode, Outcome: model.OutcomeTimedOut}
	runningRTG := cfg.TargetReturn / cfg.ReturnScale
	lastReward := 0.0
	normalized := make([]float64, stateDim)

	for t := 0; t < cfg.MaxSteps; t++ {
		if err := ctx.Err(); err != nil {
			return model.EpisodeResult{}, err
		}
		if len(state) != stateDim {
			return model.EpisodeResult{}, &ContractViolationError{
				Episode: episode,
				Step:    t,
				Detail:  fmt.Sprintf("state has %d features, normalization expects %d", len(state), stateDim),
			}
		}

		runningRTG -= lastReward / cfg.ReturnScale
		if _, err := buf.Append(stats.Normalize(normalized, state), runningRTG); err != nil {
			return model.EpisodeResult{}, err
		}

		start, end, pos := contextWindow(t, cfg.ContextLen, buf.Cap())
		in, err := buf.View(start, end)
		if err != nil {
			return model.EpisodeResult{}, err
		}
		preds, err := policy.PredictActions(ctx, in)
		if err != nil {
			return model.EpisodeResult{}, fmt.Errorf("episode %d step %d: policy: %w", episode, t, err)
		}
		if err := checkPredictions(preds, in.Len(), actionDim); err != nil {
			return model.EpisodeResult{}, &ContractViolationError{Episode: episode, Step: t, Detail: err.Error()}
		}
		action := append([]float64(nil), preds[pos]...)

		step, err := env.Step(ctx, action)
		if err != nil {
			return model.EpisodeResult{}, &EnvironmentInteractionError{Episode: episode, Step: t, Op: "step", Err: err}
		}
		if err := buf.SetAction(t, action); err != nil {
			return model.EpisodeResult{}, err
		}

		result.Return += step.Reward
		result.Length++
		lastReward = step.Reward
		state = step.State

		if step.Terminated {
			result.Outcome = model.OutcomeTerminated
			break
		}
		if step.Truncated {
			result.Outcome = model.OutcomeTruncated
			break
		}
	}

	logger.Debug().
		Float64("return", result.Return).
		Int("length", result.Length).
		Str("outcome", string(result.Outcome)).
		Msg("episode finished")
	return result, nil
}

func checkPredictions(preds [][]float64, windowLen, actionDim int) error {
	if len(preds) != windowLen {
		return fmt.Errorf("policy returned %d predictions for a window of %d", len(preds), windowLen)
	}
	for i, p := range preds {
		if len(p) != actionDim {
			return fmt.Errorf("prediction %d has %d components, want %d", i, len(p), actionDim)
		}
	}
	return nil
}
