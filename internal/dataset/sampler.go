package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/mroth/weightedrand/v2"
)

// Sampler draws training windows, picking trajectories with probability
// proportional to their length.
type Sampler struct {
	store          *Store
	contextLen     int
	discreteAction bool
	chooser        *weightedrand.Chooser[int, int]
}

func NewSampler(store *Store, contextLen int, discreteAction bool) (*Sampler, error) {
	if store == nil || store.Len() == 0 {
		return nil, fmt.Errorf("sampler requires a non-empty store")
	}
	if contextLen <= 0 {
		return nil, fmt.Errorf("context length must be positive, got %d", contextLen)
	}

	choices := make([]weightedrand.Choice[int, int], 0, store.Len())
	for i, traj := range store.trajectories {
		choices = append(choices, weightedrand.NewChoice(i, traj.Len()))
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return nil, fmt.Errorf("build trajectory chooser: %w", err)
	}
	return &Sampler{
		store:          store,
		contextLen:     contextLen,
		discreteAction: discreteAction,
		chooser:        chooser,
	}, nil
}

func (s *Sampler) ContextLen() int {
	return s.contextLen
}

// Sample draws one window. rng must not be shared with other goroutines.
func (s *Sampler) Sample(rng *rand.Rand) (Window, error) {
	index := s.chooser.PickSource(rng)
	return s.store.Window(index, s.contextLen, s.discreteAction, rng)
}

func (s *Sampler) Batch(rng *rand.Rand, size int) ([]Window, error) {
	if size < 0 {
		return nil, fmt.Errorf("batch size must be non-negative, got %d", size)
	}
	out := make([]Window, size)
	for i := range out {
		w, err := s.Sample(rng)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// ParallelBatch fills size windows using workers goroutines. Worker k owns its
// own rng seeded with seed+k and fills positions k, k+workers, ... so the
// result depends only on seed and workers.
func (s *Sampler) ParallelBatch(ctx context.Context, seed int64, size, workers int) ([]Window, error) {
	if size < 0 {
		return nil, fmt.Errorf("batch size must be non-negative, got %d", size)
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > size {
		workers = max(size, 1)
	}

	out := make([]Window, size)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for k := 0; k < workers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(k)))
			for i := k; i < size; i += workers {
				if err := ctx.Err(); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				w, err := s.Sample(rng)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				out[i] = w
			}
		}(k)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
