package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/plinthworks/plinth/pkg/contracts"
	"github.com/plinthworks/plinth/pkg/models"
)

// Processor handles one job type. It must be idempotent: at-least-once
// delivery means the same job can arrive twice.
type Processor func(ctx context.Context, job models.Job) error

// Options configures the worker pool.
type Options struct {
	Concurrency  int
	PollTimeout  time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5 * time.Minute
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	return o
}

// Pool drains the queue with bounded concurrency. Embedding-writing jobs for
// the same document are serialized so concurrent retries cannot interleave
// vector upserts.
type Pool struct {
	queue      Queue
	opts       Options
	processors map[models.JobType]Processor
	sem        *semaphore.Weighted
	emitter    contracts.EventEmitter

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewPool creates a worker pool over the queue. Register processors before
// calling Run.
func NewPool(queue Queue, emitter contracts.EventEmitter, opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		queue:      queue,
		opts:       opts,
		processors: make(map[models.JobType]Processor),
		sem:        semaphore.NewWeighted(int64(opts.Concurrency)),
		emitter:    emitter,
		docLocks:   make(map[string]*sync.Mutex),
	}
}

// Register binds a processor to a job type.
func (p *Pool) Register(t models.JobType, proc Processor) {
	p.processors[t] = proc
}

// Run polls until ctx is cancelled, then drains in-flight jobs for up to
// DrainTimeout.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().Int("concurrency", p.opts.Concurrency).Msg("job workers started")

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break // cancelled
		}

		job, err := p.queue.Dequeue(ctx, p.opts.PollTimeout)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("dequeue failed")
			select {
			case <-time.After(p.opts.PollTimeout):
			case <-ctx.Done():
			}
			continue
		}
		if job == nil {
			p.sem.Release(1)
			continue
		}

		go func(job models.Job) {
			defer p.sem.Release(1)
			p.process(context.WithoutCancel(ctx), job)
		}(*job)
	}

	return p.drain()
}

// drain waits for in-flight jobs by re-acquiring the full semaphore.
func (p *Pool) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.DrainTimeout)
	defer cancel()
	if err := p.sem.Acquire(ctx, int64(p.opts.Concurrency)); err != nil {
		return fmt.Errorf("drain timeout: %w", err)
	}
	p.sem.Release(int64(p.opts.Concurrency))
	log.Info().Msg("job workers drained")
	return nil
}

func (p *Pool) process(ctx context.Context, job models.Job) {
	proc, ok := p.processors[job.Type]
	if !ok {
		log.Error().Str("type", string(job.Type)).Str("job", job.ID).Msg("no processor registered")
		p.deadLetter(ctx, job, fmt.Errorf("no processor for %s", job.Type))
		return
	}

	if serializePerDocument(job.Type) && job.DocumentID != "" {
		unlock := p.lockDocument(job.DocumentID)
		defer unlock()
	}

	start := time.Now()
	err := proc(ctx, job)
	if err == nil {
		log.Debug().
			Str("type", string(job.Type)).
			Str("job", job.ID).
			Dur("took", time.Since(start)).
			Msg("job complete")
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		p.deadLetter(ctx, job, err)
		return
	}

	delay := retryDelay(p.opts.RetryBase, p.opts.RetryMax, job.Attempts)
	due := time.Now().Add(delay)
	job.DelayUntil = &due
	job.State = models.JobDelayed
	log.Warn().Err(err).
		Str("type", string(job.Type)).
		Str("job", job.ID).
		Int("attempt", job.Attempts).
		Dur("retry_in", delay).
		Msg("job failed, retrying")

	if qerr := p.queue.Enqueue(ctx, job); qerr != nil {
		log.Error().Err(qerr).Str("job", job.ID).Msg("retry enqueue failed")
		p.deadLetter(ctx, job, err)
	}
}

func (p *Pool) deadLetter(ctx context.Context, job models.Job, cause error) {
	log.Error().Err(cause).
		Str("type", string(job.Type)).
		Str("job", job.ID).
		Int("attempts", job.Attempts).
		Msg("job exhausted, moving to dead letter")
	if p.emitter != nil {
		p.emitter.Emit("job.dead_letter", map[string]any{
			"jobId":    job.ID,
			"jobType":  string(job.Type),
			"document": job.DocumentID,
			"attempts": job.Attempts,
			"error":    cause.Error(),
		})
	}
	if rq, ok := p.queue.(*RedisQueue); ok {
		if err := rq.bury(ctx, job); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("dead letter push failed")
		}
	}
}

// lockDocument returns the unlock func for the per-document mutex.
func (p *Pool) lockDocument(docID string) func() {
	p.mu.Lock()
	m, ok := p.docLocks[docID]
	if !ok {
		m = &sync.Mutex{}
		p.docLocks[docID] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// serializePerDocument reports whether two jobs of this type for the same
// document must not run concurrently.
func serializePerDocument(t models.JobType) bool {
	return t == models.JobEmbed || t == models.JobReEmbed
}

// retryDelay is exponential with jitter, capped at max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // never give up here; attempts are capped elsewhere

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > max {
		d = max
	}
	return d
}
