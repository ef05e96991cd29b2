package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xrplbridge/logging"
)

var (
	ErrQueueFull      = errors.New("bridge queue is full")
	ErrAlreadyRunning = errors.New("bridge request is already queued or running")
	ErrShuttingDown   = errors.New("bridge is shutting down")
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bridge",
		Subsystem: "workers",
		Name:      "queue_depth",
	})
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bridge",
		Subsystem: "workers",
		Name:      "in_flight",
	})
)

// Handle follows one submitted run
type Handle struct {
	id   string
	done chan struct{}
	err  error
}

func (h *Handle) ID() string {
	return h.id
}

// Done is closed when the run has finished
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx is done. Giving up waiting does
// not stop the run.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run error once Done is closed, nil before
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

type task struct {
	handle *Handle
	fn     func(ctx context.Context) error
}

// Pool runs submitted work on a fixed number of workers fed by a bounded queue.
// At most one run per id is queued or running at a time.
type Pool struct {
	mu      sync.Mutex
	queue   chan task
	active  map[string]*Handle
	running int
	closed  bool
	wg      sync.WaitGroup
	logger  logging.Logger
}

func New(workers, queueSize int, logger logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		queue:  make(chan task, queueSize),
		active: make(map[string]*Handle),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues fn under id. Runs get a background context, callers can't cancel them.
func (p *Pool) Submit(id string, fn func(ctx context.Context) error) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrShuttingDown
	}
	if _, ok := p.active[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyRunning)
	}
	h := &Handle{id: id, done: make(chan struct{})}
	select {
	case p.queue <- task{handle: h, fn: fn}:
	default:
		return nil, ErrQueueFull
	}
	p.active[id] = h
	QueueDepth.Inc()
	return h, nil
}

// Active reports whether a run for id is queued or running
func (p *Pool) Active(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

// Stats returns the number of queued and running tasks
func (p *Pool) Stats() (queued, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.running
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		QueueDepth.Dec()
		p.mu.Lock()
		p.running++
		p.mu.Unlock()
		InFlight.Inc()

		err := p.run(t)

		InFlight.Dec()
		p.mu.Lock()
		p.running--
		delete(p.active, t.handle.id)
		p.mu.Unlock()

		t.handle.err = err
		close(t.handle.done)
	}
}

func (p *Pool) run(t task) (err error) {
	logger := p.logger.WithField("request_id", t.handle.id)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("bridge run panicked")
			err = fmt.Errorf("bridge run panicked: %v", r)
		}
	}()
	ctx := logging.WithLogger(context.Background(), logger)
	return t.fn(ctx)
}

// Shutdown stops accepting work and waits for queued and running work to
// finish or for ctx to be done
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		queued, running := p.Stats()
		p.logger.WithField("queued", queued).WithField("running", running).Warn("shutdown deadline reached with unfinished bridge runs")
		return ctx.Err()
	}
}
