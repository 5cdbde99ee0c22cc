package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/notifyd/notifyd/internal/domain/queue"
	"github.com/notifyd/notifyd/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// JobHandler processes one claimed job. An error leaves the job
// claimed until its lease expires.
type JobHandler interface {
	HandleJob(ctx context.Context, job *queue.Job) error
}

// Runner is the worker pool: N goroutines poll the queue, each tick
// claims a batch under fresh leases and works through it. Claim
// uniqueness comes from the queue itself, workers share nothing.
type Runner struct {
	log     *zap.Logger
	jobs    queue.Repository
	handler JobHandler

	workers      int
	batchSize    int
	pollInterval time.Duration
	leaseTTL     time.Duration

	wg sync.WaitGroup

	mClaimed   prometheus.Counter
	mOk        prometheus.Counter
	mErr       prometheus.Counter
	mTickDur   prometheus.Histogram
	mBatchSize prometheus.Gauge
}

func NewRunner(
	log *zap.Logger,
	jobs queue.Repository,
	handler JobHandler,
	workers int,
	batchSize int,
	pollInterval time.Duration,
	leaseTTL time.Duration,
) *Runner {
	return &Runner{
		log: log, jobs: jobs, handler: handler,
		workers: workers, batchSize: batchSize, pollInterval: pollInterval, leaseTTL: leaseTTL,
		mClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_claimed_total", Help: "Jobs claimed into processing.",
		}),
		mOk: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_processed_ok_total", Help: "Jobs processed successfully.",
		}),
		mErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_processed_err_total", Help: "Handler errors.",
		}),
		mTickDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "dispatch_tick_duration_seconds", Help: "Tick duration.",
			Buckets: prometheus.DefBuckets,
		}),
		mBatchSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_last_batch_size", Help: "Size of last claimed batch.",
		}),
	}
}

func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Wait blocks until every worker has observed context cancellation.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	r.log.Info("dispatch worker started", zap.String("poll_ms", strconv.FormatInt(r.pollInterval.Milliseconds(), 10)))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	tr := otel.Tracer("dispatcher.runner")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("dispatch worker stop")
			return

		case <-ticker.C:
			t0 := time.Now()

			ctxSpan, span := tr.Start(ctx, "dispatch.tick")
			span.SetAttributes(
				attribute.Int("batch.limit", r.batchSize),
				attribute.String("lease_ttl", r.leaseTTL.String()),
			)

			batch, err := r.jobs.ClaimBatch(ctxSpan, r.batchSize, r.leaseTTL)
			if err != nil {
				span.RecordError(err)
				r.mErr.Inc()
				obs.WithTrace(ctxSpan, r.log).Error("claim batch error", zap.Error(err))
				span.End()
				continue
			}
			r.mClaimed.Add(float64(len(batch)))
			r.mBatchSize.Set(float64(len(batch)))

			for _, job := range batch {
				jobCtx, jobSpan := tr.Start(ctxSpan, "dispatch.job",
					trace.WithAttributes(
						attribute.String("job.id", job.ID),
						attribute.String("job.kind", string(job.Kind)),
						attribute.Int("job.attempt", job.Attempt),
					),
				)

				if err := r.handler.HandleJob(jobCtx, job); err != nil {
					jobSpan.RecordError(err)
					r.mErr.Inc()
					obs.WithTrace(jobCtx, r.log).Error("job handler error",
						zap.String("job_id", job.ID), zap.Error(err))
					jobSpan.End()
					continue
				}

				jobSpan.End()
				r.mOk.Inc()
			}

			span.End()
			r.mTickDur.Observe(time.Since(t0).Seconds())
		}
	}
}
