package scapeid

import (
	"regexp"
	"strings"
)

var versionSuffix = regexp.MustCompile(`-v\d+$`)

// datasetQualities are the offline dataset flavours appended to environment
// names, longest first so "medium-replay" wins over "medium".
var datasetQualities = []string{
	"medium-expert",
	"medium-replay",
	"full-replay",
	"expert",
	"medium",
	"random",
}

// Normalize canonicalizes environment names and dataset aliases, e.g.
// "HalfCheetah-Medium-v2" and "half_cheetah" both become "halfcheetah".
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalEnvName(candidate); ok {
			return canonical
		}
	}
	return normalized
}

// Quality returns the dataset quality suffix of name, or "" when absent.
func Quality(name string) string {
	base := versionSuffix.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "")
	base = strings.ReplaceAll(base, "_", "-")
	for _, q := range datasetQualities {
		if strings.HasSuffix(base, "-"+q) {
			return q
		}
	}
	return ""
}

func aliasCandidates(normalized string) []string {
	candidates := []string{normalized}

	trimmed := versionSuffix.ReplaceAllString(normalized, "")
	if trimmed != normalized {
		candidates = append(candidates, trimmed)
	}
	for _, q := range datasetQualities {
		if base, ok := strings.CutSuffix(trimmed, "-"+q); ok && base != "" {
			candidates = append(candidates, base)
			break
		}
	}
	return candidates
}

func canonicalEnvName(alias string) (string, bool) {
	switch strings.ReplaceAll(alias, "-", "") {
	case "halfcheetah", "cheetah":
		return "halfcheetah", true
	case "hopper":
		return "hopper", true
	case "walker2d", "walker":
		return "walker2d", true
	case "cartpolelite":
		return "cart-pole-lite", true
	case "cartpole":
		return "cart-pole", true
	case "fixedhorizon", "stub":
		return "fixed-horizon", true
	default:
		return "", false
	}
}

// DatasetKey identifies an offline dataset by canonical environment and
// quality, e.g. "Hopper-Medium-v2" and "hopper_medium" both become
// "hopper-medium". Names without a quality suffix reduce to Normalize.
func DatasetKey(name string) string {
	env := Normalize(name)
	if env == "" {
		return ""
	}
	if q := Quality(name); q != "" && !strings.HasSuffix(env, "-"+q) {
		return env + "-" + q
	}
	return env
}
