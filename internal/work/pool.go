// Package work bounds concurrent heavy processing across sessions.
package work

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool caps how many utterance-processing jobs run at once. Sessions
// still perceive their own work as synchronous; the pool only makes
// them queue when the whole service is saturated.
type Pool struct {
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	size int
}

// NewPool creates a Pool with the given number of slots
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Do runs fn once a slot is free and returns fn's error. The context
// cancels the wait for a slot, never fn itself.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot: %w", err)
	}
	p.wg.Add(1)
	defer func() {
		p.sem.Release(1)
		p.wg.Done()
	}()
	return fn()
}

// Drain blocks until all in-flight work finishes. Callers must stop
// submitting before draining.
func (p *Pool) Drain() {
	p.wg.Wait()
}

// Size returns the slot count
func (p *Pool) Size() int {
	return p.size
}
