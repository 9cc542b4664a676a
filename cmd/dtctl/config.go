package main

import (
	"encoding/json"
	"os"

	"github.com/linklab/link-decision-transformer/internal/rollout"
	"github.com/linklab/link-decision-transformer/pkg/dt"
)

// evaluateOptions mirrors the evaluate flags; integer fields are int64
// because the CLI's integer flags are.
type evaluateOptions struct {
	Environment  string
	Dataset      string
	PolicyPath   string
	ContextLen   int64
	TargetReturn float64
	ReturnScale  float64
	NumEpisodes  int64
	MaxSteps     int64
	Seed         int64
	Workers      int64
	ScoreEnv     string
	DatasetStats string
}

func defaultEvaluateOptions() evaluateOptions {
	return evaluateOptions{
		Environment:  "cart-pole-lite",
		ContextLen:   20,
		TargetReturn: 60,
		ReturnScale:  1,
		NumEpisodes:  10,
		Workers:      1,
	}
}

func (o evaluateOptions) request(p rollout.Policy) dt.EvaluateRequest {
	return dt.EvaluateRequest{
		Environment:  o.Environment,
		Dataset:      o.Dataset,
		Policy:       p,
		PolicyPath:   o.PolicyPath,
		ContextLen:   int(o.ContextLen),
		TargetReturn: o.TargetReturn,
		ReturnScale:  o.ReturnScale,
		NumEpisodes:  int(o.NumEpisodes),
		MaxSteps:     int(o.MaxSteps),
		Seed:         o.Seed,
		Workers:      int(o.Workers),
		ScoreEnv:     o.ScoreEnv,
	}
}

// applyEvaluateConfig fills opts from a JSON run config, skipping every
// field whose flag was set explicitly.
func applyEvaluateConfig(path string, opts *evaluateOptions, isSet func(string) bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	str := func(flag, key string, dst *string) {
		if isSet(flag) {
			return
		}
		if v, ok := asString(raw[key]); ok {
			*dst = v
		}
	}
	i64 := func(flag, key string, dst *int64) {
		if isSet(flag) {
			return
		}
		if v, ok := asInt64(raw[key]); ok {
			*dst = v
		}
	}
	f64 := func(flag, key string, dst *float64) {
		if isSet(flag) {
			return
		}
		if v, ok := asFloat64(raw[key]); ok {
			*dst = v
		}
	}

	str("env", "environment", &opts.Environment)
	str("dataset", "dataset", &opts.Dataset)
	str("policy", "policy_path", &opts.PolicyPath)
	str("score-env", "score_env", &opts.ScoreEnv)
	str("dataset-stats", "dataset_stats", &opts.DatasetStats)
	i64("context-len", "context_len", &opts.ContextLen)
	f64("target-return", "target_return", &opts.TargetReturn)
	f64("return-scale", "return_scale", &opts.ReturnScale)
	i64("episodes", "num_episodes", &opts.NumEpisodes)
	i64("max-steps", "max_steps", &opts.MaxSteps)
	i64("seed", "seed", &opts.Seed)
	i64("workers", "workers", &opts.Workers)
	return nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
