package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/churngym/internal/adapters/mq/queue"
	"github.com/okian/churngym/internal/domain/dedupe"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// Notifier delivers one batch of high-risk predictions.
type Notifier interface {
	NotifyHighRisk(ctx context.Context, predictions []model.Prediction) error
}

// Queue defines how workers receive batches.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Batch
}

// InMemoryWorker delivers batches from a queue until it is closed and drained.
type InMemoryWorker struct {
	queue    Queue
	notifier Notifier
	name     string
	done     chan struct{}
	logger   logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, n Notifier, opts ...Option) *InMemoryWorker {
	o := newOptions(opts)
	return &InMemoryWorker{
		queue:    q,
		notifier: n,
		name:     o.name,
		done:     make(chan struct{}),
		logger:   o.logger.Named(o.name),
	}
}

// Run starts the worker loop. It returns when the queue is drained or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for b := range w.queue.Dequeue(ctx) {
		if err := w.deliver(ctx, b); err != nil {
			w.logger.Error(ctx, "alert delivery failed", logger.String("run_id", b.RunID), logger.Error(err))
		}
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker) deliver(ctx context.Context, b queue.Batch) error {
	metrics.AddAlertWorkerBusy(1)
	defer metrics.AddAlertWorkerBusy(-1)

	if err := w.notifier.NotifyHighRisk(ctx, b.Predictions); err != nil {
		metrics.RecordAlertDropped("send_failed")
		return fmt.Errorf("deliver %d predictions: %w", len(b.Predictions), err)
	}
	return nil
}

// Pool runs workers over a shared queue. It implements Notifier by queueing,
// so callers never wait on delivery.
type Pool struct {
	workers []*InMemoryWorker
	queue   queue.Queue
	deduper dedupe.Deduper
	logger  logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q queue.Queue, n Notifier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	o := newOptions(opts)

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		deduper: o.deduper,
		logger:  o.logger.Named("alert-pool"),
	}
	for i := range pool.workers {
		pool.workers[i] = NewInMemoryWorker(q, n,
			WithLogger(o.logger),
			WithName(o.name+"-"+strconv.Itoa(i)),
		)
	}
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// NotifyHighRisk queues the high-risk predictions of a batch. Batches without
// any are skipped, as are members alerted on recently when a deduper is set.
func (p *Pool) NotifyHighRisk(ctx context.Context, predictions []model.Prediction) error {
	var high []model.Prediction
	for _, pr := range predictions {
		if !pr.RiskLevel.Equal(model.RiskHigh) {
			continue
		}
		if p.deduper != nil && p.deduper.SeenAndRecord(ctx, pr.MemberID) {
			metrics.RecordAlertDropped("duplicate")
			continue
		}
		high = append(high, pr)
	}
	if len(high) == 0 {
		return nil
	}
	if err := p.queue.Enqueue(ctx, queue.Batch{RunID: high[0].RunID, Predictions: high}); err != nil {
		// allow a retry on the next prediction
		if p.deduper != nil {
			for _, pr := range high {
				p.deduper.Unrecord(ctx, pr.MemberID)
			}
		}
		return fmt.Errorf("queue alert: %w", err)
	}
	return nil
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}
