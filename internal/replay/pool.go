package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/studiowebux/replay-client/internal/types"
)

// DefaultPoolSize is the number of replay workers when none is configured
const DefaultPoolSize = 100

// ErrPoolClosed is returned by Acquire once Shutdown has been called
var ErrPoolClosed = errors.New("worker pool is shut down")

// Assignment is one session handed to a worker together with the targets
// chosen for it
type Assignment struct {
	Session     *types.Session
	Target      string // Plain HTTP target, host:port
	TargetHTTPS string // TLS and HTTP/2 target, host:port
	Seq         int    // Dispatch order across all repetitions
}

// RunFunc executes one session end to end
type RunFunc func(ctx context.Context, a Assignment)

// Worker is a long-lived replay goroutine with a single-assignment slot
type Worker struct {
	id   int
	slot chan Assignment
}

// ID returns the worker index
func (w *Worker) ID() int {
	return w.id
}

// Assign hands a session to an idle worker obtained from Acquire. It never
// blocks: an acquired worker's slot is always empty.
func (w *Worker) Assign(a Assignment) {
	w.slot <- a
}

// Pool is a fixed set of workers. A worker runs one session at a time and
// returns itself to the idle set when done.
type Pool struct {
	ctx      context.Context
	run      RunFunc
	workers  []*Worker
	idle     chan *Worker
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	ready    sync.WaitGroup
	active   atomic.Int32
	done     atomic.Int64
}

// NewPool starts size workers, each running assigned sessions with run. ctx
// is passed to run; it is not used to stop the workers, Shutdown is.
func NewPool(ctx context.Context, size int, run RunFunc) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d: must be at least 1", size)
	}
	if run == nil {
		return nil, fmt.Errorf("pool requires a run function")
	}

	p := &Pool{
		ctx:     ctx,
		run:     run,
		workers: make([]*Worker, size),
		idle:    make(chan *Worker, size),
		stop:    make(chan struct{}),
	}

	p.ready.Add(size)
	for i := range p.workers {
		w := &Worker{id: i, slot: make(chan Assignment, 1)}
		p.workers[i] = w
		p.wg.Add(1)
		go p.loop(w)
	}
	// Every worker is in the idle set before the first Acquire
	p.ready.Wait()

	return p, nil
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// Active returns the number of workers currently running a session
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Completed returns the number of sessions the workers have finished
func (p *Pool) Completed() int64 {
	return p.done.Load()
}

// Acquire returns the next idle worker, blocking until one frees up. It fails
// if ctx is done or the pool has been shut down.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	select {
	case <-p.stop:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case w := <-p.idle:
		return w, nil
	case <-p.stop:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire worker: %w", ctx.Err())
	}
}

// Shutdown raises the shutdown flag. Workers finish the session they are
// running, or were assigned before the flag was raised, and then exit.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// Wait blocks until every worker has exited. Call Shutdown first.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(w *Worker) {
	defer p.wg.Done()

	p.idle <- w
	p.ready.Done()

	for {
		select {
		case a := <-w.slot:
			p.execute(a)
			p.idle <- w
		case <-p.stop:
			// An assignment made before shutdown is still in flight
			select {
			case a := <-w.slot:
				p.execute(a)
			default:
			}
			return
		}
	}
}

func (p *Pool) execute(a Assignment) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer p.done.Add(1)
	p.run(p.ctx, a)
}
