package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vsisnet/vsispanel-sub003/internal/metrics"
)

type JobKind string

const (
	JobBackup  JobKind = "backup"
	JobRestore JobKind = "restore"
)

type Job struct {
	Kind JobKind
	ID   string
}

// Handler runs one job to completion.
type Handler func(ctx context.Context, id string) error

// Dispatcher is the hand-off between the code that creates pending records
// and the workers that execute them. Jobs are not persisted: a job lost with
// the process leaves its record pending until the reaper fails it.
type Dispatcher struct {
	queue    chan Job
	workers  int
	handlers map[JobKind]Handler
	logger   zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	closed  bool
	done    chan struct{}
}

func NewDispatcher(workers, queueSize int, logger zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:    make(chan Job, queueSize),
		workers:  workers,
		handlers: map[JobKind]Handler{},
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		running:  map[string]context.CancelCauseFunc{},
		done:     make(chan struct{}),
	}
}

// Handle registers the handler for a job kind. Call before Serve.
func (d *Dispatcher) Handle(kind JobKind, h Handler) {
	d.handlers[kind] = h
}

// Enqueue hands a job to the workers without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("enqueue %s %s: %w", job.Kind, job.ID, ErrDispatcherStopped)
	}
	select {
	case d.queue <- job:
		metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		return fmt.Errorf("enqueue %s %s: %w", job.Kind, job.ID, ErrQueueFull)
	}
}

// Cancel interrupts a running job. It reports whether the job was running
// here.
func (d *Dispatcher) Cancel(id string, cause error) bool {
	d.mu.Lock()
	cancel, ok := d.running[id]
	d.mu.Unlock()
	if ok {
		cancel(cause)
	}
	return ok
}

// Serve runs the workers until ctx is done, or until Drain closes the queue
// and it empties. Jobs in flight see ctx cancellation.
func (d *Dispatcher) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	d.mu.Lock()
	if !d.closed {
		d.closed = true
	}
	d.mu.Unlock()
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	return err
}

// Drain stops accepting jobs; Serve returns once queued jobs are finished.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Done is closed when Serve has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			metrics.SetQueueDepth(len(d.queue))
			d.run(ctx, job)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	h, ok := d.handlers[job.Kind]
	if !ok {
		d.logger.Error().Str("kind", string(job.Kind)).Str("id", job.ID).Msg("no handler for job kind")
		return
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	d.mu.Lock()
	d.running[job.ID] = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.running, job.ID)
		d.mu.Unlock()
		cancel(nil)
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("kind", string(job.Kind)).Str("id", job.ID).Msg("job panicked")
		}
	}()

	if err := h(jobCtx, job.ID); err != nil {
		d.logger.Error().Err(err).Str("kind", string(job.Kind)).Str("id", job.ID).Msg("job failed")
	}
}
