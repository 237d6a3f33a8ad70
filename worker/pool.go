// Package worker implements the Generation Worker (C6): an N-goroutine
// pool that leases tasks from the Generation Queue and dispatches them by
// task type, materializing and adapting content under the Budget Gate.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/budget"
	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/llm"
	"github.com/AlfredDev/virtualize/observability"
	"github.com/AlfredDev/virtualize/queue"
	"github.com/AlfredDev/virtualize/virtual"
)

// Pool runs N worker goroutines against the Generation Queue, grounded on
// the gateway's background-poller lifecycle (one shared context
// cancellation plus a WaitGroup, so Stop can wait for every worker to
// drain its current task).
type Pool struct {
	queue   *queue.Store
	content *content.Store
	virtual *virtual.Store
	gate    *budget.Gate
	llm     *llm.Registry
	log     zerolog.Logger
	metrics *observability.Metrics

	concurrency  int
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	Concurrency  int
	PollInterval time.Duration
}

func New(q *queue.Store, c *content.Store, v *virtual.Store, g *budget.Gate, registry *llm.Registry, log zerolog.Logger, cfg Config, metrics *observability.Metrics) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Pool{
		queue:        q,
		content:      c,
		virtual:      v,
		gate:         g,
		llm:          registry,
		log:          log.With().Str("component", "worker").Logger(),
		metrics:      metrics,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
	}
}

// Start launches the worker pool in the background. Call Stop to drain
// and shut it down.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.log.Info().Int("concurrency", p.concurrency).Msg("starting generation worker pool")
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Stop cancels the pool's context and waits for every worker to finish
// its in-flight task.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("generation worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Error().Err(err).Msg("dequeue failed")
			p.sleep(ctx)
			continue
		}
		if task == nil {
			p.sleep(ctx)
			continue
		}

		log.Info().Str("task_id", task.ID).Str("task_type", string(task.TaskType)).Int("attempt", task.Attempts).Msg("leased task")
		p.run(ctx, task, log)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(p.pollInterval)))
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval + jitter):
	}
}

// run dispatches a leased task and transitions it per the state machine
// in §4.5, classifying failures per §4.6.
func (p *Pool) run(ctx context.Context, task *queue.Task, log zerolog.Logger) {
	err := p.dispatch(ctx, task)
	if err == nil {
		if err := p.queue.Complete(ctx, task.ID); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark task completed")
		}
		return
	}

	appErr, _ := apperrors.As(err)
	retryable := true
	reason := err.Error()
	if appErr != nil {
		reason = appErr.Message
		switch appErr.Kind {
		case apperrors.KindBudgetDenied:
			retryable = false
		case apperrors.KindValidation, apperrors.KindInvariantViolation:
			retryable = false
		case apperrors.KindProviderTransient, apperrors.KindLeaseLost:
			retryable = true
		}
	}

	log.Warn().Err(err).Str("task_id", task.ID).Bool("retryable", retryable).Msg("task failed")
	if err := p.queue.Fail(ctx, task, reason, retryable); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to record task failure")
	}
}
