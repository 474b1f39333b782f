// Package workerpool runs independent tasks on a fixed number of workers.
package workerpool

import (
	"golang.org/x/sync/errgroup"
)

// Pool runs submitted tasks with at most Size of them in flight.
// A failing task never affects the others; tasks report their own results.
type Pool struct {
	group errgroup.Group
	size  int
}

// New creates a pool with size workers. size < 1 is treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.group.SetLimit(size)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit schedules task. It blocks while all workers are busy.
func (p *Pool) Submit(task func()) {
	p.group.Go(func() error {
		task()
		return nil
	})
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
