// Package policy provides callable policies that need no learned sequence
// model: a per-position linear map from (state, return-to-go) to action.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/linklab/link-decision-transformer/internal/rollout"
)

// LinearSpec is the JSON form of a linear policy.
//
// Weights has one row per output and one column per state feature. In
// discrete mode a single output is thresholded at zero and several outputs
// are reduced by argmax; either way the policy emits one action id.
type LinearSpec struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias,omitempty"`
	RTGWeights []float64   `json:"rtg_weights,omitempty"`
	Activation string      `json:"activation,omitempty"`
	Discrete   bool        `json:"discrete,omitempty"`
}

type Linear struct {
	spec       LinearSpec
	weights    *mat.Dense
	activation ActivationFunc
	stateDim   int
	outputs    int
}

var _ rollout.Policy = (*Linear)(nil)

func NewLinear(spec LinearSpec) (*Linear, error) {
	outputs := len(spec.Weights)
	if outputs == 0 {
		return nil, errors.New("linear policy requires at least one weight row")
	}
	stateDim := len(spec.Weights[0])
	if stateDim == 0 {
		return nil, errors.New("linear policy weight rows must not be empty")
	}
	flat := make([]float64, 0, outputs*stateDim)
	for i, row := range spec.Weights {
		if len(row) != stateDim {
			return nil, fmt.Errorf("weight row %d has %d columns, want %d", i, len(row), stateDim)
		}
		flat = append(flat, row...)
	}
	if spec.Bias != nil && len(spec.Bias) != outputs {
		return nil, fmt.Errorf("bias length %d does not match %d outputs", len(spec.Bias), outputs)
	}
	if spec.RTGWeights != nil && len(spec.RTGWeights) != outputs {
		return nil, fmt.Errorf("rtg_weights length %d does not match %d outputs", len(spec.RTGWeights), outputs)
	}
	if spec.Activation == "" {
		spec.Activation = "identity"
	}
	fn, err := GetActivation(spec.Activation)
	if err != nil {
		return nil, err
	}

	return &Linear{
		spec:       spec,
		weights:    mat.NewDense(outputs, stateDim, flat),
		activation: fn,
		stateDim:   stateDim,
		outputs:    outputs,
	}, nil
}

func LoadLinear(r io.Reader) (*Linear, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var spec LinearSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode linear policy: %w", err)
	}
	return NewLinear(spec)
}

func LoadLinearFile(path string) (*Linear, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadLinear(f)
}

func (p *Linear) StateDim() int {
	return p.stateDim
}

// ActionDim is the width of every predicted action row.
func (p *Linear) ActionDim() int {
	if p.spec.Discrete {
		return 1
	}
	return p.outputs
}

func (p *Linear) PredictActions(ctx context.Context, in rollout.PolicyInput) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float64, in.Len())
	logits := mat.NewVecDense(p.outputs, nil)
	for i, state := range in.States {
		if len(state) != p.stateDim {
			return nil, fmt.Errorf("position %d: state width %d, want %d", i, len(state), p.stateDim)
		}
		logits.MulVec(p.weights, mat.NewVecDense(p.stateDim, state))
		for j := 0; j < p.outputs; j++ {
			v := logits.AtVec(j)
			if p.spec.Bias != nil {
				v += p.spec.Bias[j]
			}
			if p.spec.RTGWeights != nil {
				v += p.spec.RTGWeights[j] * in.ReturnsToGo[i]
			}
			logits.SetVec(j, p.activation(v))
		}
		out[i] = p.action(logits)
	}
	return out, nil
}

func (p *Linear) action(logits *mat.VecDense) []float64 {
	if !p.spec.Discrete {
		row := make([]float64, p.outputs)
		for j := range row {
			row[j] = logits.AtVec(j)
		}
		return row
	}
	if p.outputs == 1 {
		if logits.AtVec(0) > 0 {
			return []float64{1}
		}
		return []float64{0}
	}
	best := 0
	for j := 1; j < p.outputs; j++ {
		if logits.AtVec(j) > logits.AtVec(best) {
			best = j
		}
	}
	return []float64{float64(best)}
}
