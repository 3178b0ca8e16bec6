package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// settled is the outcome of one fan-out unit. Exactly one of Value/Err is
// meaningful; Index preserves the input position so callers can correlate.
type settled[T any] struct {
	Index int
	Value T
	Err   error
}

// settleAll runs fn over every input concurrently and waits for all of
// them. One unit's failure never cancels its siblings; the caller decides
// what a failed slot degrades to. Results come back in input order.
func settleAll[In, Out any](ctx context.Context, inputs []In, fn func(ctx context.Context, index int, input In) (Out, error)) []settled[Out] {
	results := make([]settled[Out], len(inputs))

	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input In) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = settled[Out]{Index: i, Err: fmt.Errorf("panic in concurrent unit: %v", r)}
				}
			}()

			value, err := fn(ctx, i, input)
			results[i] = settled[Out]{Index: i, Value: value, Err: err}
		}(i, input)
	}
	wg.Wait()

	return results
}

// countFailures tallies failed slots for stage metadata.
func countFailures[T any](results []settled[T]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
