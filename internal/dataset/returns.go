package dataset

import "errors"

var ErrEmptyRewards = errors.New("reward sequence is empty")

// DiscountCumsum returns g with g[L-1] = r[L-1] and g[t] = r[t] + gamma*g[t+1].
func DiscountCumsum(rewards []float64, gamma float64) ([]float64, error) {
	if len(rewards) == 0 {
		return nil, ErrEmptyRewards
	}
	out := make([]float64, len(rewards))
	last := len(rewards) - 1
	out[last] = rewards[last]
	for t := last - 1; t >= 0; t-- {
		out[t] = rewards[t] + gamma*out[t+1]
	}
	return out, nil
}
