package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"channel-audit/internal/config"
	"channel-audit/internal/queue"
	"channel-audit/internal/telemetry"
)

// JobRunner executes the pipeline for one job id.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Processor drains the work queue with a fixed pool of workers. Each
// dequeued id is run exactly once and acked regardless of outcome:
// stage failures live in the job record, not the queue.
type Processor struct {
	cfg    config.Config
	queue  *queue.RedisQueue
	runner JobRunner
}

// NewProcessor wires the queue and the orchestrator.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, runner JobRunner) *Processor {
	return &Processor{
		cfg:    cfg,
		queue:  q,
		runner: runner,
	}
}

// Run starts the worker pool and blocks until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	workers := p.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Processor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			log.Printf("dequeue: %v", err)
			p.sleep(ctx)
			continue
		}
		if jobID == "" {
			p.sleep(ctx)
			continue
		}

		telemetry.InFlightGauge.Inc()
		if err := p.runner.Run(ctx, jobID); err != nil {
			// Persistence faults only; stage failures are already
			// recorded on the job itself.
			log.Printf("job %s: %v", jobID, err)
		}
		if err := p.queue.Ack(ctx, jobID); err != nil {
			log.Printf("ack job %s: %v", jobID, err)
		}
		telemetry.InFlightGauge.Dec()
	}
}

func (p *Processor) sleep(ctx context.Context) {
	interval := p.cfg.WorkerPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
