// Package taskqueue runs fire-and-forget background work (offline queue
// drains, ledger sync passes) on worker goroutines. Jobs submitted under the
// same key run one at a time in submission order.
package taskqueue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config groups the executor tunables.
type Config struct {
	Shards         int
	QueueSize      int
	EnqueueTimeout time.Duration

	// ErrorHandler is called synchronously after a Job returns a non-nil
	// error or panics. Leave nil if you do not care.
	ErrorHandler func(error)

	Logger zerolog.Logger
}

type queuedJob struct {
	ctx context.Context
	job Job
}

// Executor executes Jobs on worker goroutines partitioned by a stable hash
// of the key. FIFO ordering is preserved within a shard.
type Executor struct {
	cfg    Config
	queues []chan queuedJob

	done   chan struct{} // closed in Stop()
	closed uint32        // 0 → running, 1 → closed

	wg sync.WaitGroup
}

// New constructs the executor and starts its shard workers.
func New(cfg Config) *Executor {
	if cfg.Shards <= 0 {
		cfg.Shards = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}

	p := &Executor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns a *QueueFullError if the shard is still full after EnqueueTimeout.
//   - Returns ctx.Err() if the caller-provided context is cancelled first.
func (p *Executor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier enqueues a no-op job on the shard for key and waits until it runs,
// ensuring all previously submitted jobs for that key have completed.
func (p *Executor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := p.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop signals every worker to finish draining its current queue, waits for
// them to terminate, and then returns. It is idempotent.
func (p *Executor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.cfg.Logger.Debug().Int("shards", p.cfg.Shards).Msg("taskqueue: stopping executor")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Debug().Msg("taskqueue: executor stopped")
}

// Close lets Executor satisfy io.Closer.
func (p *Executor) Close() error {
	p.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (p *Executor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			p.runOne(label, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			// Drain remaining jobs, preserving FIFO, then exit.
			for {
				select {
				case qj := <-ch:
					p.runOne(label, qj)
				default:
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (p *Executor) runOne(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	// A cancelled job is skipped so it doesn't stall the shard.
	if err := qj.ctx.Err(); err != nil {
		p.safeHandleError(err)
		return
	}

	start := time.Now()
	err := p.runGuarded(qj)
	runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		p.safeHandleError(err)
	}
}

// runGuarded keeps a panicking job from killing its worker.
func (p *Executor) runGuarded(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("taskqueue: job panic")
			err = fmt.Errorf("taskqueue: job panic: %v", r)
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *Executor) safeHandleError(err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("taskqueue: error handler panic")
		}
	}()
	p.cfg.ErrorHandler(err)
}

func (p *Executor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
