// Package dispatcher runs several polling workers in one process.
package dispatcher

import (
	"context"
	"sync"
)

// Worker is a blocking poll loop.
type Worker interface {
	Run(ctx context.Context)
}

// Dispatcher fans out polling to a pool of workers racing on the same queue.
type Dispatcher struct {
	workers []Worker
}

// New creates a Dispatcher.
func New(workers []Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every worker has returned after ctx finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
