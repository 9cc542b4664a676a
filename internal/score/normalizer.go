package score

import (
	"fmt"
	"sort"

	"github.com/linklab/link-decision-transformer/internal/scapeid"
)

type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type UnknownEnvironmentError struct {
	Env string
}

func (e *UnknownEnvironmentError) Error() string {
	return fmt.Sprintf("no reference score bounds for environment %q", e.Env)
}

// ReferenceTable maps canonical environment names to raw-return bounds.
type ReferenceTable struct {
	bounds map[string]Bounds
}

// NewReferenceTable canonicalizes keys through scapeid and rejects degenerate bounds.
func NewReferenceTable(entries map[string]Bounds) (*ReferenceTable, error) {
	t := &ReferenceTable{bounds: make(map[string]Bounds, len(entries))}
	for name, b := range entries {
		key := scapeid.Normalize(name)
		if key == "" {
			return nil, fmt.Errorf("reference bounds require an environment name")
		}
		if b.Max == b.Min {
			return nil, fmt.Errorf("reference bounds for %s have equal min and max %g", key, b.Min)
		}
		t.bounds[key] = b
	}
	return t, nil
}

// DefaultReferenceTable holds the D4RL locomotion random/expert returns.
func DefaultReferenceTable() *ReferenceTable {
	t, err := NewReferenceTable(map[string]Bounds{
		"halfcheetah": {Min: -280.178953, Max: 12135.0},
		"walker2d":    {Min: 1.629008, Max: 4592.3},
		"hopper":      {Min: -20.272305, Max: 3234.3},
	})
	if err != nil {
		panic(err)
	}
	return t
}

func (t *ReferenceTable) Lookup(env string) (Bounds, error) {
	b, ok := t.bounds[scapeid.Normalize(env)]
	if !ok {
		return Bounds{}, &UnknownEnvironmentError{Env: env}
	}
	return b, nil
}

func (t *ReferenceTable) Environments() []string {
	names := make([]string, 0, len(t.bounds))
	for name := range t.bounds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize maps a raw episode return onto [min, max] -> [0, 1].
func (t *ReferenceTable) Normalize(raw float64, env string) (float64, error) {
	b, err := t.Lookup(env)
	if err != nil {
		return 0, err
	}
	return (raw - b.Min) / (b.Max - b.Min), nil
}
