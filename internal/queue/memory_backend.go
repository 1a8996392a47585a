package queue

import (
	"context"
	"sync"
	"time"
)

type delayedJob struct {
	job     Job
	readyAt time.Time
}

// MemoryBackend keeps jobs in process memory. It is the default for single
// node deployments and for tests; jobs do not survive a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	wait    []Job
	delayed []delayedJob
	pending map[string]struct{}
	active  map[string]Job
	wake    chan struct{}
	closed  bool
}

// NewMemoryBackend builds an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		pending: make(map[string]struct{}),
		active:  make(map[string]Job),
		wake:    make(chan struct{}),
	}
}

func (b *MemoryBackend) Enqueue(ctx context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	if _, ok := b.pending[job.VideoID]; ok {
		return ErrDuplicateJob
	}
	b.pending[job.VideoID] = struct{}{}
	b.wait = append(b.wait, job)
	b.notify()
	return nil
}

func (b *MemoryBackend) Dequeue(ctx context.Context) (Job, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Job{}, ErrBackendClosed
		}
		b.promoteDueLocked(time.Now())
		if len(b.wait) > 0 {
			job := b.wait[0]
			b.wait = b.wait[1:]
			b.active[job.VideoID] = job
			b.mu.Unlock()
			return job, nil
		}
		next := b.nextDelayLocked(time.Now())
		wake := b.wake
		b.mu.Unlock()

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (b *MemoryBackend) Extend(ctx context.Context, job Job) error {
	return nil
}

func (b *MemoryBackend) Retry(ctx context.Context, job Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	delete(b.active, job.VideoID)
	if _, ok := b.pending[job.VideoID]; !ok {
		// Removed while active, drop instead of rescheduling.
		return nil
	}
	b.delayed = append(b.delayed, delayedJob{job: job, readyAt: time.Now().Add(delay)})
	b.notify()
	return nil
}

func (b *MemoryBackend) Ack(ctx context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, job.VideoID)
	delete(b.pending, job.VideoID)
	return nil
}

func (b *MemoryBackend) Remove(ctx context.Context, videoID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[videoID]; !ok {
		return false, nil
	}
	if _, isActive := b.active[videoID]; isActive {
		// The worker owns it; clearing pending makes a later Retry drop it.
		delete(b.pending, videoID)
		return true, nil
	}
	delete(b.pending, videoID)
	for i, job := range b.wait {
		if job.VideoID == videoID {
			b.wait = append(b.wait[:i], b.wait[i+1:]...)
			return true, nil
		}
	}
	for i, entry := range b.delayed {
		if entry.job.VideoID == videoID {
			b.delayed = append(b.delayed[:i], b.delayed[i+1:]...)
			return true, nil
		}
	}
	return true, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.wake)
	return nil
}

// notify wakes every sleeping Dequeue by closing the current wake channel
// and installing a fresh one; a single-token channel would leave a second
// idle worker sleeping through a burst of enqueues. Callers hold b.mu.
func (b *MemoryBackend) notify() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *MemoryBackend) promoteDueLocked(now time.Time) {
	remaining := b.delayed[:0]
	for _, entry := range b.delayed {
		if entry.readyAt.After(now) {
			remaining = append(remaining, entry)
			continue
		}
		b.wait = append(b.wait, entry.job)
	}
	b.delayed = remaining
}

// nextDelayLocked returns how long Dequeue may sleep before a delayed job
// becomes due.
func (b *MemoryBackend) nextDelayLocked(now time.Time) time.Duration {
	next := time.Minute
	for _, entry := range b.delayed {
		if wait := entry.readyAt.Sub(now); wait < next {
			next = wait
		}
	}
	if next < time.Millisecond {
		next = time.Millisecond
	}
	return next
}
