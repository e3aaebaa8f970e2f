package services

import (
	"context"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/metrics"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchConcurrency = 5
	DefaultInterChunkDelay  = 200 * time.Millisecond
)

// One unit of work for OptimizeBatches.
type BatchJob struct {
	Batch   domain.BookingBatch
	Options BatchOptions
}

type BatchRunOptions struct {
	Concurrency     int
	InterChunkDelay time.Duration
	// Sleep waits between chunks; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// A failed batch, reported alongside the batches that succeeded.
type BatchError struct {
	BatchIndex int    `json:"batchIndex"`
	VehicleID  string `json:"vehicleId"`
	ServiceID  string `json:"serviceId"`
	Err        error  `json:"-"`
}

func (e BatchError) Error() string {
	return "batch " + e.VehicleID + "/" + e.ServiceID + ": " + e.Err.Error()
}

func (e BatchError) Unwrap() error { return e.Err }

// Optimizer is satisfied by *BatchOptimizer.
type Optimizer interface {
	OptimizeBatch(ctx context.Context, batch domain.BookingBatch, opts BatchOptions) (*domain.OptimizedRouteBatch, error)
}

// OptimizeBatches runs jobs in chunks of opts.Concurrency, waiting
// opts.InterChunkDelay between chunks. results[i] is nil when job i failed;
// a failure never cancels sibling jobs.
func OptimizeBatches(
	ctx context.Context,
	optimizer Optimizer,
	jobs []BatchJob,
	opts BatchRunOptions,
) ([]*domain.OptimizedRouteBatch, []BatchError) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	delay := opts.InterChunkDelay
	if delay < 0 {
		delay = 0
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	results := make([]*domain.OptimizedRouteBatch, len(jobs))
	errs := make([]error, len(jobs))

	for start := 0; start < len(jobs); start += concurrency {
		if start > 0 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				for i := start; i < len(jobs); i++ {
					errs[i] = err
				}
				break
			}
		}

		end := min(start+concurrency, len(jobs))

		// The group has no derived context so one failure does not cancel the
		// rest of the chunk.
		var g errgroup.Group
		g.SetLimit(concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := optimizer.OptimizeBatch(ctx, jobs[i].Batch, jobs[i].Options)
				results[i], errs[i] = res, err
				return nil
			})
		}
		_ = g.Wait()
	}

	var failures []BatchError
	for i, err := range errs {
		if err == nil {
			metrics.BatchOutcomes.WithLabelValues("ok").Inc()
			continue
		}
		metrics.BatchOutcomes.WithLabelValues("failed").Inc()
		results[i] = nil
		failures = append(failures, BatchError{
			BatchIndex: i,
			VehicleID:  jobs[i].Batch.VehicleID,
			ServiceID:  jobs[i].Batch.ServiceID,
			Err:        err,
		})
		log.Warn().
			Err(err).
			Int("batch_index", i).
			Str("vehicle_id", jobs[i].Batch.VehicleID).
			Str("service_id", jobs[i].Batch.ServiceID).
			Msg("batch optimization failed")
	}

	return results, failures
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
