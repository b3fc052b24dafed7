// Package workpool bounds how many CPU and memory heavy jobs (Argon2id,
// PBKDF2) run at once.
package workpool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most Size jobs concurrently. Waiting for a slot honours
// the context; a job that has started always runs to completion.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New returns a pool of size slots; size < 1 means runtime.NumCPU().
func New(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int {
	return p.size
}

// Do waits for a free slot and runs fn in the calling goroutine.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	defer p.sem.Release(1)

	return fn()
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
