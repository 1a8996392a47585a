package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers      = 2
	defaultMaxAttempts  = 3
	defaultBaseBackoff  = 5 * time.Second
	defaultMaxBackoff   = 5 * time.Minute
	defaultEventBuffer  = 64
	defaultLeaseRenewal = 10 * time.Second
)

// Handler processes one job. Returning an error schedules a retry until the
// attempt budget is exhausted.
type Handler func(ctx context.Context, job Job) (*Result, error)

// Config configures a Queue.
type Config struct {
	Backend     Backend
	Handler     Handler
	Workers     int
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; each further retry
	// doubles it up to MaxBackoff.
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	EventBuffer  int
	LeaseRenewal time.Duration
	Logger       *slog.Logger
}

// Queue runs a worker pool over a Backend and reports job lifecycle events
// on a channel for the status synchronizer. Run must have a consumer
// draining Events: delivery blocks when the buffer fills rather than drop
// a terminal event.
type Queue struct {
	backend      Backend
	handler      Handler
	workers      int
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	leaseRenewal time.Duration
	logger       *slog.Logger

	events    chan Event
	closeOnce sync.Once
}

// New validates the configuration and builds a queue. Call Run to start the
// workers.
func New(cfg Config) (*Queue, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("queue backend is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("queue handler is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.LeaseRenewal <= 0 {
		cfg.LeaseRenewal = defaultLeaseRenewal
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		backend:      cfg.Backend,
		handler:      cfg.Handler,
		workers:      cfg.Workers,
		maxAttempts:  cfg.MaxAttempts,
		baseBackoff:  cfg.BaseBackoff,
		maxBackoff:   cfg.MaxBackoff,
		leaseRenewal: cfg.LeaseRenewal,
		logger:       cfg.Logger,
		events:       make(chan Event, cfg.EventBuffer),
	}, nil
}

// Events returns the lifecycle notification channel. The channel is closed
// when Run returns.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue submits a transcode job for the video. ErrDuplicateJob is returned
// when the video is already queued or processing. No event is emitted: the
// caller observes the enqueue synchronously and may run in a process whose
// queue has no workers, so nothing would drain the channel.
func (q *Queue) Enqueue(ctx context.Context, videoID, sourcePath string) error {
	job := Job{
		VideoID:    videoID,
		SourcePath: sourcePath,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	return q.backend.Enqueue(ctx, job)
}

// Remove drops a pending job for the video, typically because the video was
// deleted before a worker picked it up.
func (q *Queue) Remove(ctx context.Context, videoID string) (bool, error) {
	return q.backend.Remove(ctx, videoID)
}

// Run blocks processing jobs until the context is cancelled, then drains the
// workers and closes the event channel.
func (q *Queue) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		group.Go(func() error {
			return q.runWorker(ctx, worker)
		})
	}
	err := group.Wait()
	q.closeOnce.Do(func() { close(q.events) })
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (q *Queue) runWorker(ctx context.Context, worker int) error {
	for {
		job, err := q.backend.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrBackendClosed) {
				return nil
			}
			q.logger.Warn("queue dequeue failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		q.process(ctx, worker, job)
	}
}

func (q *Queue) process(ctx context.Context, worker int, job Job) {
	q.emit(Event{Kind: EventActive, VideoID: job.VideoID, Attempt: job.Attempt})
	q.logger.Info("transcode job started",
		"worker", worker, "videoId", job.VideoID, "attempt", job.Attempt)

	result, err := q.runHandler(ctx, job)
	if err == nil {
		// Hand the terminal event over before dropping the job: an ack with
		// the event still undelivered would strand the video mid-transition
		// if the process dies in between.
		q.emit(Event{Kind: EventCompleted, VideoID: job.VideoID, Attempt: job.Attempt, Result: result})
		if ackErr := q.backend.Ack(ctx, job); ackErr != nil {
			q.logger.Warn("queue ack failed", "videoId", job.VideoID, "error", ackErr)
		}
		q.logger.Info("transcode job completed", "videoId", job.VideoID, "attempt", job.Attempt)
		return
	}

	if job.Attempt < q.maxAttempts && ctx.Err() == nil {
		retry := job
		retry.Attempt++
		delay := q.backoff(job.Attempt)
		if retryErr := q.backend.Retry(ctx, retry, delay); retryErr != nil {
			q.logger.Error("queue retry failed", "videoId", job.VideoID, "error", retryErr)
		} else {
			q.emit(Event{Kind: EventFailed, VideoID: job.VideoID, Attempt: job.Attempt, Err: err.Error(), WillRetry: true})
			q.logger.Warn("transcode job failed, retry scheduled",
				"videoId", job.VideoID, "attempt", job.Attempt, "delay", delay, "error", err)
			return
		}
	}

	q.emit(Event{Kind: EventFailed, VideoID: job.VideoID, Attempt: job.Attempt, Err: err.Error()})
	if ackErr := q.backend.Ack(ctx, job); ackErr != nil {
		q.logger.Warn("queue ack failed", "videoId", job.VideoID, "error", ackErr)
	}
	q.logger.Error("transcode job failed permanently",
		"videoId", job.VideoID, "attempt", job.Attempt, "error", err)
}

// runHandler invokes the handler while renewing the job lease so a slow
// transcode is not reaped as abandoned.
func (q *Queue) runHandler(ctx context.Context, job Job) (*Result, error) {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(q.leaseRenewal)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-handlerCtx.Done():
				return
			case <-ticker.C:
				if err := q.backend.Extend(handlerCtx, job); err != nil && handlerCtx.Err() == nil {
					q.logger.Warn("queue lease renewal failed", "videoId", job.VideoID, "error", err)
				}
			}
		}
	}()
	result, err := q.handler(handlerCtx, job)
	close(done)
	return result, err
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	if delay > q.maxBackoff {
		return q.maxBackoff
	}
	return delay
}

// emit is only called from worker goroutines, which all exit before Run
// closes the channel, so a blocking send here can never hit a closed
// channel.
func (q *Queue) emit(event Event) {
	q.events <- event
}
