package scapeid

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"halfcheetah":             "halfcheetah",
		"HalfCheetah-Medium-v2":   "halfcheetah",
		"half_cheetah":            "halfcheetah",
		"hopper-medium-replay-v2": "hopper",
		"Hopper-v3":               "hopper",
		"walker2d-expert-v2":      "walker2d",
		"walker2d_medium_expert":  "walker2d",
		"CartPole-v1":             "cart-pole",
		"cart_pole_lite":          "cart-pole-lite",
		"fixed horizon":           "fixed-horizon",
		"custom_env":              "custom-env",
		"custom-env-v0":           "custom-env-v0",
		"":                        "",
	}

	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("normalize(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestQuality(t *testing.T) {
	cases := map[string]string{
		"hopper-medium-replay-v2": "medium-replay",
		"halfcheetah-medium-v2":   "medium",
		"walker2d_medium_expert":  "medium-expert",
		"hopper-expert-v2":        "expert",
		"hopper":                  "",
		"halfcheetah-full-replay": "full-replay",
		"  Walker2d-Random-v2  ":  "random",
	}
	for in, want := range cases {
		if got := Quality(in); got != want {
			t.Fatalf("quality(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestDatasetKey(t *testing.T) {
	cases := map[string]string{
		"Hopper-Medium-v2":       "hopper-medium",
		"hopper_medium":          "hopper-medium",
		"walker2d_medium_expert": "walker2d-medium-expert",
		"halfcheetah-v3":         "halfcheetah",
		"toy-medium":             "toy-medium",
		"custom-env-v0":          "custom-env-v0",
		"":                       "",
	}
	for in, want := range cases {
		if got := DatasetKey(in); got != want {
			t.Fatalf("DatasetKey(%q)=%q want %q", in, got, want)
		}
	}
}
