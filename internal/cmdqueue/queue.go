// Package cmdqueue serializes device operations so that exactly one is in
// flight at a time.
//
// Every operation against the shared GATT characteristic goes through a
// Queue. Operations run in submission order on a single worker goroutine;
// later submissions wait until the active one returns.
package cmdqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned for operations submitted to, or still pending in, a
// closed queue.
var ErrClosed = errors.New("cmdqueue: queue closed")

// Job is one device operation. The returned bytes are passed back to the
// submitter (used by read-back operations such as ADC queries).
type Job func(ctx context.Context) ([]byte, error)

// Result is the outcome of a Job.
type Result struct {
	Data []byte
	Err  error
}

type item struct {
	ctx  context.Context
	job  Job
	name string
	done chan Result
}

// Queue is an unbounded FIFO of jobs with a maximum concurrency of one.
type Queue struct {
	logger *logrus.Entry

	mu      sync.Mutex
	pending []*item
	active  bool
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	onStart func(name string, waiting int)
	onDone  func(name string, err error)
}

// New creates a queue and starts its worker.
func New(logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger: logger.WithField("component", "cmdqueue"),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// SetHooks installs callbacks fired when a job starts and when it finishes.
// They run on the worker goroutine and must not submit to the queue.
func (q *Queue) SetHooks(onStart func(name string, waiting int), onDone func(name string, err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStart = onStart
	q.onDone = onDone
}

// Enqueue submits a job without waiting for it. The returned channel
// receives exactly one Result.
func (q *Queue) Enqueue(ctx context.Context, name string, job Job) <-chan Result {
	it := &item{ctx: ctx, job: job, name: name, done: make(chan Result, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.done <- Result{Err: ErrClosed}
		return it.done
	}
	q.pending = append(q.pending, it)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return it.done
}

// Add submits a job and blocks until it has run, ctx is done, or the queue
// is closed. If ctx ends first the job still runs when its turn comes unless
// it checks ctx itself.
func (q *Queue) Add(ctx context.Context, name string, job Job) ([]byte, error) {
	done := q.Enqueue(ctx, name, job)
	select {
	case res := <-done:
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of jobs waiting to start. The running job is not
// counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a job is currently running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Close stops the worker after the running job returns. Jobs still waiting
// fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return nil
	}
	it := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.active = true
	return it
}

func (q *Queue) run() {
	defer close(q.done)
	defer q.drain()

	for {
		it := q.next()
		if it == nil {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}

		q.exec(it)

		select {
		case <-q.ctx.Done():
			return
		default:
		}
	}
}

func (q *Queue) exec(it *item) {
	q.mu.Lock()
	onStart, onDone := q.onStart, q.onDone
	waiting := len(q.pending)
	q.mu.Unlock()

	if onStart != nil {
		onStart(it.name, waiting)
	}

	var res Result
	if err := it.ctx.Err(); err != nil {
		res.Err = err
	} else {
		res.Data, res.Err = it.job(it.ctx)
	}

	if res.Err != nil {
		q.logger.WithField("job", it.name).WithError(res.Err).Debug("job failed")
	}
	if onDone != nil {
		onDone(it.name, res.Err)
	}

	q.mu.Lock()
	q.active = false
	q.mu.Unlock()

	it.done <- res
}

// drain fails every job left behind after the worker stops.
func (q *Queue) drain() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.closed = true
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- Result{Err: ErrClosed}
	}
}
