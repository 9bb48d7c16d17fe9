/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: pool.go
Description: Fixed-size pool fanning per-branch solver queries out across
a bounded number of worker slots, with a shared-data record set once per
iteration. Job closures carry their own parameters, so no private-data
map is needed per worker.
*/

package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Status is a worker slot's state. RunAll moves a slot FREE -> RUNNING ->
// FREE; StatusBusy is defined but RunAll never sets it. It exists purely
// for observability (Stats/logging); the actual scheduling is done by the
// errgroup below.
type Status int

const (
	StatusFree Status = iota
	StatusBusy
	StatusRunning
)

// Job is one unit of work submitted to the pool: a function of the
// worker's thread id, used for per-thread file-name suffixes and
// child-pid slots.
type Job func(threadID int) error

// SharedData is read-only for the duration of one iteration: set once by
// the main thread before submissions begin, then read by every worker
// without further locking.
type SharedData map[string]interface{}

// Pool is a fixed number of worker slots capping concurrency to the
// configured solver parallelism, so a trace with thousands of queries
// never forks thousands of solver processes at once.
type Pool struct {
	size int

	mu     sync.Mutex
	shared SharedData
	status []Status
}

// New creates a pool with room for `size` concurrent jobs. size == 0
// means purely sequential processing; RunAll then executes every job
// inline on slot 0.
func New(size int) *Pool {
	return &Pool{size: size, status: make([]Status, size)}
}

// Size returns the configured number of worker slots.
func (p *Pool) Size() int {
	return p.size
}

// SetShared installs the shared-data map for the upcoming iteration. Must
// be called before RunAll; never mutated concurrently with it.
func (p *Pool) SetShared(data SharedData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared = data
}

// Shared returns the current iteration's shared-data map.
func (p *Pool) Shared() SharedData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shared
}

// RunAll fans jobs out across the pool's slots and blocks until every job
// has run. Thread ids are assigned 0..size-1 and reused across jobs as
// slots free up, so at most `size` jobs are RUNNING at once and each job
// gets a thread id it can suffix artefact names with. The first job
// error is returned only after every job has finished; a single query's
// failure never aborts the others.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if p.size <= 0 {
		var firstErr error
		for _, job := range jobs {
			if err := job(0); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	var g errgroup.Group
	g.SetLimit(p.size)

	slots := make(chan int, p.size)
	for i := 0; i < p.size; i++ {
		slots <- i
	}

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			select {
			case tid := <-slots:
				p.setStatus(tid, StatusRunning)
				defer func() {
					p.setStatus(tid, StatusFree)
					slots <- tid
				}()
				return job(tid)
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

func (p *Pool) setStatus(threadID int, s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if threadID >= 0 && threadID < len(p.status) {
		p.status[threadID] = s
	}
}

// Stats returns a snapshot of each slot's current status, for logging.
func (p *Pool) Stats() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, len(p.status))
	copy(out, p.status)
	return out
}
