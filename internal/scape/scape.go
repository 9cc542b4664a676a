package scape

import (
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/linklab/link-decision-transformer/internal/rollout"
	"github.com/linklab/link-decision-transformer/internal/scapeid"
)

// Spec describes the observation and action shapes of a built-in environment.
type Spec struct {
	Name           string
	StateDim       int
	ActionDim      int
	DiscreteAction bool
	MaxSteps       int
}

type constructor struct {
	spec Spec
	new  func(rng *rand.Rand) rollout.Environment
}

var registry = map[string]constructor{
	"cart-pole-lite": {
		spec: Spec{Name: "cart-pole-lite", StateDim: 2, ActionDim: 1, MaxSteps: cartPoleLiteMaxSteps},
		new:  func(rng *rand.Rand) rollout.Environment { return NewCartPoleLite(rng) },
	},
	"cart-pole": {
		spec: Spec{Name: "cart-pole", StateDim: 4, ActionDim: 1, DiscreteAction: true, MaxSteps: cartPoleMaxSteps},
		new:  func(rng *rand.Rand) rollout.Environment { return NewCartPole(rng) },
	},
	"fixed-horizon": {
		spec: Spec{Name: "fixed-horizon", StateDim: 1, ActionDim: 1, MaxSteps: defaultHorizon},
		new:  func(*rand.Rand) rollout.Environment { return NewFixedHorizon(defaultHorizon, 1) },
	},
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Spec, error) {
	c, ok := registry[scapeid.Normalize(name)]
	if !ok {
		return Spec{}, fmt.Errorf("unsupported environment: %s", name)
	}
	return c.spec, nil
}

func New(name string, seed int64) (rollout.Environment, error) {
	c, ok := registry[scapeid.Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported environment: %s", name)
	}
	return c.new(rand.New(rand.NewSource(seed))), nil
}

// Factory returns an EnvFactory whose k-th environment is seeded with seed+k.
func Factory(name string, seed int64) (rollout.EnvFactory, error) {
	if _, err := Lookup(name); err != nil {
		return nil, err
	}
	var next atomic.Int64
	return func() (rollout.Environment, error) {
		return New(name, seed+next.Add(1)-1)
	}, nil
}
