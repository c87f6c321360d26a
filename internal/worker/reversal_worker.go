// internal/worker/reversal_worker.go
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// JobExecutor performs one reversal attempt for a queued job.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, job *domain.ReversalJob) error
}

// JobQueue is the durable queue the drain loop walks.
type JobQueue interface {
	Pending(ctx context.Context) ([]domain.ReversalJob, error)
	Due(ctx context.Context, now time.Time) ([]domain.ReversalJob, error)
	MarkAttempt(ctx context.Context, key string, nextRetryAt time.Time, lastErr string) error
	MarkAbandoned(ctx context.Context, key string, lastErr string) error
}

type Config struct {
	DrainInterval time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
}

// ReversalWorker drains the durable reversal queue in the background: one
// loop, independent of any foreground transaction. Retries back off
// exponentially up to a bounded attempt count, after which the job is
// abandoned and retained for manual reconciliation.
type ReversalWorker struct {
	queue    JobQueue
	executor JobExecutor
	cfg      Config
	logger   *zap.Logger
	stopChan chan struct{}
}

func NewReversalWorker(queue JobQueue, executor JobExecutor, cfg Config, logger *zap.Logger) *ReversalWorker {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 15 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &ReversalWorker{
		queue:    queue,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs the drain loop until Stop is called or ctx is cancelled. Jobs
// already on disk from before the restart are picked up on the first drain.
func (w *ReversalWorker) Start(ctx context.Context) {
	if pending, err := w.queue.Pending(ctx); err == nil && len(pending) > 0 {
		w.logger.Info("resuming persisted reversal jobs",
			zap.Int("count", len(pending)))
	}

	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()

	w.Drain(ctx)

	for {
		select {
		case <-ticker.C:
			w.Drain(ctx)

		case <-w.stopChan:
			w.logger.Info("stopping reversal worker")
			return

		case <-ctx.Done():
			w.logger.Info("context cancelled, stopping reversal worker")
			return
		}
	}
}

// Drain runs one pass over the due jobs.
func (w *ReversalWorker) Drain(ctx context.Context) {
	now := time.Now().UTC()
	jobs, err := w.queue.Due(ctx, now)
	if err != nil {
		w.logger.Error("failed to read reversal queue", zap.Error(err))
		return
	}

	for i := range jobs {
		job := jobs[i]
		err := w.executor.ExecuteJob(ctx, &job)
		if err == nil {
			continue
		}

		attempts := job.Attempts + 1
		if attempts >= w.cfg.MaxAttempts {
			if aerr := w.queue.MarkAbandoned(ctx, job.Key(), err.Error()); aerr != nil {
				w.logger.Error("failed to abandon reversal job",
					zap.String("key", job.Key()), zap.Error(aerr))
			}
			continue
		}

		next := now.Add(w.backoff(attempts))
		if merr := w.queue.MarkAttempt(ctx, job.Key(), next, err.Error()); merr != nil {
			w.logger.Error("failed to record reversal attempt",
				zap.String("key", job.Key()), zap.Error(merr))
			continue
		}
		w.logger.Warn("reversal attempt failed, retry scheduled",
			zap.String("key", job.Key()),
			zap.Int("attempts", attempts),
			zap.Time("next_retry_at", next),
			zap.Error(err))
	}
}

func (w *ReversalWorker) Stop() {
	close(w.stopChan)
}

func (w *ReversalWorker) backoff(attempts int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}
