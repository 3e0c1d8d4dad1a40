package preview

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultWorkers    = 8
	DefaultQueueSize  = 64
	DefaultJobTimeout = 30 * time.Second
)

// Job asks for the preview of one link. Done receives the result on a worker
// goroutine and must not block for long.
type Job struct {
	AnchorID int64
	Link     string
	Done     func(Result)
}

// PoolOptions size a Pool.
type PoolOptions struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Pool runs preview jobs on a fixed set of workers fed by a bounded queue.
type Pool struct {
	service    *Service
	logger     *slog.Logger
	workers    int
	jobTimeout time.Duration
	queue      chan Job

	ctx       context.Context
	startOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup
	inflight  atomic.Int64
}

// NewPool creates a pool; call Start before submitting.
func NewPool(log *slog.Logger, service *Service, opts PoolOptions) *Pool {
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Pool{
		service:    service,
		logger:     log.With(slog.String("component", "preview_pool")),
		workers:    workers,
		jobTimeout: jobTimeout,
		queue:      make(chan Job, queueSize),
	}
}

// Enabled reports whether the underlying service produces previews.
func (p *Pool) Enabled() bool {
	return p != nil && p.service.Enabled()
}

// Start launches the workers. They exit when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info("preview pool start", slog.Int("workers", p.workers), slog.Int("queue_size", cap(p.queue)))
		p.ctx = ctx
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(ctx)
		}
		p.started.Store(true)
	})
}

// Submit enqueues job without blocking. It returns false when the queue is
// full or the pool is not running; the job is then dropped.
func (p *Pool) Submit(job Job) bool {
	if !p.started.Load() || p.ctx.Err() != nil {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		p.logger.Warn("preview queue full", slog.Int64("anchor_id", job.AnchorID))
		return false
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Depth is the number of queued jobs.
func (p *Pool) Depth() int { return len(p.queue) }

// Capacity is the queue size.
func (p *Pool) Capacity() int { return cap(p.queue) }

// Inflight is the number of jobs currently being fetched.
func (p *Pool) Inflight() int64 { return p.inflight.Load() }

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.run(ctx, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	result := p.service.Build(jobCtx, job.AnchorID, job.Link)
	if job.Done != nil {
		job.Done(result)
	}
}
