package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateJob is returned when a video already has a pending or
	// active transcode job.
	ErrDuplicateJob = errors.New("job already queued for video")
	// ErrBackendClosed is returned once a backend has been shut down.
	ErrBackendClosed = errors.New("queue backend closed")
)

// Job is a queued transcode request. Attempt counts from 1 on the first
// delivery.
type Job struct {
	VideoID    string    `json:"videoId"`
	SourcePath string    `json:"sourcePath"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Backend stores jobs durably between enqueue and acknowledgement. A job is
// pending from Enqueue until Ack, surviving retries in between, which is how
// duplicate submissions for the same video are rejected.
type Backend interface {
	// Enqueue appends the job to the wait list. ErrDuplicateJob is returned
	// when the video already has a pending job.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or the context is cancelled.
	// The returned job is leased to the caller until Ack, Retry or lease
	// expiry.
	Dequeue(ctx context.Context) (Job, error)
	// Extend renews the lease of an active job while the handler runs.
	Extend(ctx context.Context, job Job) error
	// Retry reschedules an active job to run again after delay. The passed
	// job must already carry the incremented attempt counter.
	Retry(ctx context.Context, job Job, delay time.Duration) error
	// Ack removes a finished job, successful or terminally failed.
	Ack(ctx context.Context, job Job) error
	// Remove drops a not-yet-active job for the video and reports whether
	// anything was removed. Active jobs keep running; their results are
	// discarded downstream.
	Remove(ctx context.Context, videoID string) (bool, error)
	Close() error
}
