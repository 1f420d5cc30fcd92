package cascade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunBatch simulates independent requests in parallel using at most workers
// goroutines. Results are returned in request order. The first failure
// cancels the remaining runs.
func (s *Simulator) RunBatch(ctx context.Context, reqs []Request, workers int) ([]*Timeline, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]*Timeline, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			tl, err := s.Simulate(gctx, reqs[i])
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			out[i] = tl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
