package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/shoplive-labs/backend/internal/products"
	"github.com/shoplive-labs/backend/internal/streams"
	"github.com/shoplive-labs/backend/pkg/queue"
)

// AnalyticsProcessor drains product analytics jobs and applies the counter
// increments to the product link row and the stream aggregates. Increments
// are idempotent per job only in the at-least-once sense; a retried job may
// double count, which is acceptable for engagement counters.
type AnalyticsProcessor struct {
	queue    *queue.Queue
	products *products.Repository
	streams  *streams.Repository
	logger   *zap.Logger
}

// NewAnalyticsProcessor creates the analytics worker.
func NewAnalyticsProcessor(q *queue.Queue, productsRepo *products.Repository, streamsRepo *streams.Repository, logger *zap.Logger) *AnalyticsProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsProcessor{queue: q, products: productsRepo, streams: streamsRepo, logger: logger}
}

// Run blocks, processing jobs until ctx is cancelled.
func (p *AnalyticsProcessor) Run(ctx context.Context) {
	p.logger.Info("analytics worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("analytics worker stopped")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("analytics worker stopped")
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.process(ctx, job); err != nil {
			p.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			if rerr := p.queue.Retry(ctx, job); rerr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(rerr))
			}
		}
	}
}

func (p *AnalyticsProcessor) process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeProductEvent:
		var payload queue.ProductEventPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			// malformed payload will never succeed, drop without retry
			p.logger.Warn("dropping malformed job", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return p.applyProductEvent(ctx, payload)
	default:
		p.logger.Warn("unknown job type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
}

func (p *AnalyticsProcessor) applyProductEvent(ctx context.Context, payload queue.ProductEventPayload) error {
	switch payload.Kind {
	case queue.ProductEventClick:
		if err := p.products.IncrementClicks(ctx, payload.StreamID, payload.ProductID); err != nil {
			return err
		}
		return p.streams.IncrementProductsClicked(ctx, payload.StreamID)
	case queue.ProductEventCartAdd:
		if err := p.products.IncrementCartAdds(ctx, payload.StreamID, payload.ProductID); err != nil {
			return err
		}
		return p.streams.IncrementCartAdds(ctx, payload.StreamID)
	default:
		p.logger.Warn("unknown product event kind", zap.String("kind", payload.Kind))
		return nil
	}
}
