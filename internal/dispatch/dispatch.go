// Package dispatch hands admitted intents to their action handlers on a
// worker pool so a slow or hung handler never stalls the command
// pipeline.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/model"
)

// Handler executes one intent. Handlers must honor ctx cancellation;
// the dispatcher bounds each execution with handlerTimeout.
type Handler interface {
	Handle(ctx context.Context, in *model.Intent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in *model.Intent) error

func (f HandlerFunc) Handle(ctx context.Context, in *model.Intent) error { return f(ctx, in) }

// Report is the outcome of one dispatched intent, delivered to the
// pipeline for auditing and spoken feedback.
type Report struct {
	Intent  *model.Intent
	Outcome model.Outcome
	Reason  model.Reason
	Err     error
}

// handlerTimeout bounds a single handler execution.
const handlerTimeout = 30 * time.Second

// queueSize bounds pending work. Enqueue past this fails fast rather
// than backing up into the pipeline.
const queueSize = 64

// Dispatcher routes intents to registered handlers on worker goroutines.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	queue   chan *model.Intent
	reports chan Report
	group   *errgroup.Group
	log     *zap.Logger
}

// New creates a dispatcher with the given worker count.
func New(workers int, log *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		queue:    make(chan *model.Intent, queueSize),
		reports:  make(chan Report, queueSize),
		log:      log,
	}
	d.group = &errgroup.Group{}
	for i := 0; i < workers; i++ {
		d.group.Go(d.worker)
	}
	return d
}

// Register binds a handler to an intent name, replacing any previous
// binding.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// RegisterFunc is Register for plain functions.
func (d *Dispatcher) RegisterFunc(name string, f func(ctx context.Context, in *model.Intent) error) {
	d.Register(name, HandlerFunc(f))
}

// Reports delivers one Report per dispatched intent.
func (d *Dispatcher) Reports() <-chan Report {
	return d.reports
}

// Dispatch enqueues an intent for execution. It never blocks: an intent
// with no handler, or one arriving while the queue is full, is reported
// as rejected immediately.
func (d *Dispatcher) Dispatch(in *model.Intent) {
	d.mu.RLock()
	_, ok := d.handlers[in.Name]
	d.mu.RUnlock()
	if !ok {
		d.log.Warn("no handler registered", zap.String("intent", in.Name))
		d.report(Report{
			Intent:  in,
			Outcome: model.OutcomeRejected,
			Reason:  model.ReasonHandlerUnavailable,
			Err:     fmt.Errorf("no handler registered for %s", in.Name),
		})
		return
	}

	select {
	case d.queue <- in:
	default:
		d.log.Warn("dispatch queue full", zap.String("intent", in.Name))
		d.report(Report{
			Intent:  in,
			Outcome: model.OutcomeRejected,
			Reason:  model.ReasonHandlerUnavailable,
			Err:     fmt.Errorf("dispatch queue full"),
		})
	}
}

// worker drains the queue until Close.
func (d *Dispatcher) worker() error {
	for in := range d.queue {
		d.execute(in)
	}
	return nil
}

func (d *Dispatcher) execute(in *model.Intent) {
	d.mu.RLock()
	h, ok := d.handlers[in.Name]
	d.mu.RUnlock()
	if !ok {
		// Handler unregistered between enqueue and execution.
		d.report(Report{
			Intent:  in,
			Outcome: model.OutcomeRejected,
			Reason:  model.ReasonHandlerUnavailable,
			Err:     fmt.Errorf("no handler registered for %s", in.Name),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	start := time.Now()
	err := h.Handle(ctx, in)
	elapsed := time.Since(start)

	if err != nil {
		d.log.Error("handler failed",
			zap.String("intent", in.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		d.report(Report{
			Intent:  in,
			Outcome: model.OutcomeRejected,
			Reason:  model.ReasonHandlerFailed,
			Err:     err,
		})
		return
	}

	d.log.Info("handler executed",
		zap.String("intent", in.Name),
		zap.Duration("elapsed", elapsed))
	d.report(Report{Intent: in, Outcome: model.OutcomeExecuted})
}

// report never blocks a worker. The pipeline drains reports promptly; a
// full channel is logged rather than hiding the loss.
func (d *Dispatcher) report(r Report) {
	select {
	case d.reports <- r:
	default:
		d.log.Error("report channel full, dropping outcome",
			zap.String("intent", r.Intent.Name))
	}
}

// Close stops accepting work, waits for in-flight handlers, then closes
// the report channel.
func (d *Dispatcher) Close() {
	close(d.queue)
	_ = d.group.Wait()
	close(d.reports)
}
