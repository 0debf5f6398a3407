package linalg

import (
	"runtime"
	"sync"
)

// Policy selects how the engine walks independent tiles.
type Policy int

const (
	// Sequential runs tile tasks one after the other on the calling
	// goroutine.
	Sequential Policy = iota
	// Parallel fans tile tasks out over a bounded pool of goroutines.
	// Tasks own disjoint tiles, and the evaluators are safe for
	// concurrent use, so no further synchronization is needed.
	Parallel
)

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the dispatch policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithWorkers bounds the number of concurrent tile tasks under the
// Parallel policy. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// run executes fn for every index in [0, n), honoring the dispatch policy.
// The first error wins; remaining tasks still run to completion, which is
// harmless since tasks own disjoint tiles.
func (e *Engine) run(n int, fn func(i int) error) error {
	if e.policy == Sequential || n < 2 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	sem := make(chan struct{}, workers)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(i); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}
