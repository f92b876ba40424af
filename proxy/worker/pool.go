// Package worker provides an asynchronous worker pool for publishing capture
// events to the configured eventstream.Publisher.
//
// The pool decouples event stream writes from the capture hot path so that
// slow or unavailable brokers never hold up the aggregator loop or the
// client-proxy-upstream interaction. Every worker owns its own queue and jobs
// are routed by session id, so the events of one session are published in the
// order they were enqueued.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/sseview/pkg/eventstream"
)

var (
	defaultNumWorkers     uint = 3
	defaultJobQueueSize   uint = 256
	defaultPublishTimeout      = 10 * time.Second
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Event *eventstream.CaptureEvent
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher is the event stream backend events are written to.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of each worker's job channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds a single publish call (defaults to 10s).
	PublishTimeout time.Duration

	// Logger is the provided slog logger
	Logger *slog.Logger
}

// Pool publishes capture events asynchronously via a worker pool.
type Pool struct {
	config *Config
	queues []chan Job
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, errors.New("worker pool requires a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.PublishTimeout == 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queues: make([]chan Job, c.NumWorkers),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		wp.queues[i] = make(chan Job, c.QueueSize)
		go wp.worker(i, wp.queues[i])
	}

	return wp, nil
}

// Enqueue submits a job to the worker owning its session.
// Returns true if enqueued, false if that worker's queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	if job.Event == nil {
		return false
	}

	select {
	case p.queues[p.shard(job.Event.SessionID)] <- job:
		p.logger.Debug("job queued",
			"event_type", job.Event.EventType,
			"session", job.Event.SessionID,
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"event_type", job.Event.EventType,
			"session", job.Event.SessionID,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the aggregator has stopped.
func (p *Pool) Close() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

// shard maps a session id onto a worker queue index.
func (p *Pool) shard(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// worker is the inner worker thread that continuously pulls jobs off its queue
func (p *Pool) worker(id uint, queue <-chan Job) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range queue {
		p.processJob(job)
	}

	p.logger.Debug("publish worker stopped", "worker_id", id)
}

// processJob publishes one capture event. Failures are logged and the event is
// dropped.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.config.Publisher.Publish(ctx, job.Event); err != nil {
		p.logger.Error("async event publish failed",
			"event_type", job.Event.EventType,
			"session", job.Event.SessionID,
			"error", err,
		)
		return
	}

	p.logger.Debug("capture event published",
		"event_type", job.Event.EventType,
		"session", job.Event.SessionID,
	)
}
