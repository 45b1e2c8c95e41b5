// Package pool provides the cooperative task executor every session runs
// its callbacks through: a small fixed-size worker pool sized to the host's
// CPUs, and Strand, a per-session FIFO serializer that guarantees handlers
// posted through it never run concurrently even though the pool itself has
// many workers.
package pool

import (
	"context"

	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/sys"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work posted to a Strand.
type Task func()

// Pool is a small fixed-size worker pool. It exists primarily to size and
// supervise the goroutines backing every session's Strand; most of this
// module's concurrency comes from one goroutine per strand rather than
// from posting ad hoc tasks to a shared pool.
type Pool struct {
	grp *errgroup.Group
	ctx context.Context
}

// New returns a Pool sized to sys.NumCPU() workers, or n if n > 0.
func New(ctx context.Context, n int) *Pool {
	if n <= 0 {
		n = sys.NumCPU()
	}
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(n)
	return &Pool{grp: grp, ctx: ctx}
}

// Go schedules fn to run on the pool, blocking the caller if all workers
// are busy and the limit has been reached (errgroup.SetLimit semantics).
func (p *Pool) Go(fn func() error) { p.grp.Go(fn) }

// Context is canceled once any task run on the pool returns an error.
func (p *Pool) Context() context.Context { return p.ctx }

// Wait blocks until every task scheduled via Go has returned, and returns
// the first non-nil error, if any.
func (p *Pool) Wait() error { return p.grp.Wait() }

// Strand is a per-session FIFO task queue: a single goroutine drains tasks
// in post order, so everything posted through one Strand executes
// one-at-a-time regardless of how many other strands or pool workers are
// running concurrently. This is the Go mapping of the "strand" primitive:
// in a goroutine-per-session model the strand IS the session's inbound
// task channel.
type Strand struct {
	tasks  chan Task
	done   chan struct{}
	onStop func()
}

// NewStrand starts a Strand with the given task queue depth. Depth 0 makes
// Post synchronous with the consumer (unbuffered handoff).
func NewStrand(depth int) *Strand {
	s := &Strand{
		tasks: make(chan Task, depth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Strand) run() {
	defer close(s.done)
	for t := range s.tasks {
		s.exec(t)
	}
}

func (s *Strand) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("strand: recovered panic in task: %v", r)
		}
	}()
	t()
}

// Post enqueues t for execution on this strand. Post blocks while the
// strand's queue is full.
func (s *Strand) Post(t Task) {
	select {
	case s.tasks <- t:
	case <-s.done:
	}
}

// Close stops accepting new tasks and waits for the queue to drain.
func (s *Strand) Close() {
	close(s.tasks)
	<-s.done
}
