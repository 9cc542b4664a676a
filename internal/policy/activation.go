package policy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

type ActivationFunc func(x float64) float64

var activations = struct {
	mu sync.RWMutex
	m  map[string]ActivationFunc
}{
	m: make(map[string]ActivationFunc),
}

func init() {
	registerBuiltIns()
}

func registerBuiltIns() {
	MustRegisterActivation("identity", func(x float64) float64 { return x })
	MustRegisterActivation("relu", func(x float64) float64 {
		if x < 0 {
			return 0
		}
		return x
	})
	MustRegisterActivation("tanh", math.Tanh)
	MustRegisterActivation("sigmoid", func(x float64) float64 {
		return 1.0 / (1.0 + math.Exp(-x))
	})
	// clip keeps continuous forces inside the usual [-1, 1] actuator range.
	MustRegisterActivation("clip", func(x float64) float64 {
		return math.Max(-1, math.Min(1, x))
	})
}

func RegisterActivation(name string, fn ActivationFunc) error {
	if name == "" {
		return errors.New("activation name is required")
	}
	if fn == nil {
		return errors.New("activation function is required")
	}

	activations.mu.Lock()
	defer activations.mu.Unlock()

	if _, exists := activations.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, name)
	}
	activations.m[name] = fn
	return nil
}

func MustRegisterActivation(name string, fn ActivationFunc) {
	if err := RegisterActivation(name, fn); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (ActivationFunc, error) {
	activations.mu.RLock()
	fn, ok := activations.m[name]
	activations.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return fn, nil
}

func ListActivations() []string {
	activations.mu.RLock()
	defer activations.mu.RUnlock()

	names := make([]string, 0, len(activations.m))
	for name := range activations.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
