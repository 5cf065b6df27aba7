package pricing

import (
	"context"
	"sync"
)

// EstimateMany prices inputs on a bounded worker pool, preserving order.
// Inputs not reached before ctx ends get a comparables-free fallback estimate.
func (e *Engine) EstimateMany(ctx context.Context, ins []Input) []PriceEstimate {
	out := make([]PriceEstimate, len(ins))
	if len(ins) == 0 {
		return out
	}
	done := make([]bool, len(ins))

	workerN := min(e.workers, len(ins))
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				out[i] = e.Estimate(ctx, ins[i])
				done[i] = true
			}
		}()
	}

feed:
	for i := range ins {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i, ok := range done {
		if !ok {
			out[i] = e.fallback(ins[i])
		}
	}
	return out
}

func (e *Engine) fallback(in Input) PriceEstimate {
	return e.aggregate(e.regions.Resolve(in.Region), in, nil)
}
