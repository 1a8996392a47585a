package queue

import "vodserve/internal/models"

// EventKind identifies a job lifecycle notification.
type EventKind string

const (
	// EventActive fires when a worker picks the job up.
	EventActive EventKind = "active"
	// EventCompleted fires when the handler succeeds.
	EventCompleted EventKind = "completed"
	// EventFailed fires when the handler errors. WillRetry distinguishes a
	// scheduled retry from a terminal failure.
	EventFailed EventKind = "failed"
)

// Result carries the artifacts produced by a successful job.
type Result struct {
	Renditions           map[string]models.Rendition
	AvailableResolutions []string
}

// Event is a job lifecycle notification delivered on the queue's event
// channel.
type Event struct {
	Kind      EventKind
	VideoID   string
	Attempt   int
	Err       string
	WillRetry bool
	Result    *Result
}
