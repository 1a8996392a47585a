package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vodserve/internal/media"
	"vodserve/internal/models"
	"vodserve/internal/queue"
	"vodserve/internal/storage"
	"vodserve/internal/transcode"

	"golang.org/x/sync/errgroup"
)

// Transcoder renders a source file into the output directory and reports
// the produced renditions. *transcode.Executor is the production
// implementation.
type Transcoder interface {
	Transcode(ctx context.Context, input, outputDir string) (*transcode.Result, error)
}

// Config wires the pipeline's collaborators together.
type Config struct {
	Repository  storage.Repository
	Executor    Transcoder
	Library     *media.Library
	Backend     queue.Backend
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
}

// Pipeline owns the transcode queue and keeps video records in sync with
// job lifecycle events. Status writes are compare-and-set against the
// expected prior state, so a video deleted or mutated mid-flight never gets
// resurrected by a late event.
type Pipeline struct {
	repo     storage.Repository
	executor Transcoder
	library  *media.Library
	queue    *queue.Queue
	logger   *slog.Logger
}

// New builds the pipeline and its queue. Call Run to start processing.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("pipeline repository is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("pipeline executor is required")
	}
	if cfg.Library == nil {
		return nil, fmt.Errorf("pipeline media library is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		repo:     cfg.Repository,
		executor: cfg.Executor,
		library:  cfg.Library,
		logger:   cfg.Logger,
	}
	q, err := queue.New(queue.Config{
		Backend:     cfg.Backend,
		Handler:     p.handleJob,
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	p.queue = q
	return p, nil
}

// Run processes jobs and applies their lifecycle events until the context
// is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return p.queue.Run(ctx)
	})
	group.Go(func() error {
		for event := range p.queue.Events() {
			p.apply(context.Background(), event)
		}
		return nil
	})
	return group.Wait()
}

// StartTranscode enqueues the video's source file and moves the record to
// WaitingInQueue. The transition is applied here, in the process that took
// the request, so it lands even when the workers draining the queue run
// elsewhere.
func (p *Pipeline) StartTranscode(ctx context.Context, video models.Video) error {
	if video.OriginalAsset == nil {
		return fmt.Errorf("video %s has no source asset", video.ID)
	}
	source := p.library.UploadPath(video.OriginalAsset.Filename)
	if err := p.queue.Enqueue(ctx, video.ID, source); err != nil {
		return err
	}
	if _, err := p.repo.UpdateVideoStatus(video.ID,
		[]models.VideoStatus{models.StatusReadyForProcessing, models.StatusWaitingInQueue},
		storage.StatusUpdate{Status: models.StatusWaitingInQueue}); err != nil {
		if errors.Is(err, storage.ErrInvalidState) {
			// A worker already picked the job up and advanced the record.
			return nil
		}
		if _, removeErr := p.queue.Remove(ctx, video.ID); removeErr != nil {
			p.logger.Warn("failed to drop job after status update failure",
				"videoId", video.ID, "error", removeErr)
		}
		return err
	}
	return nil
}

// HandleDelete discards any queued job for the video and removes its files
// from disk.
func (p *Pipeline) HandleDelete(ctx context.Context, video models.Video) {
	if removed, err := p.queue.Remove(ctx, video.ID); err != nil {
		p.logger.Warn("failed to drop queued job for deleted video", "videoId", video.ID, "error", err)
	} else if removed {
		p.logger.Info("dropped queued transcode for deleted video", "videoId", video.ID)
	}
	if video.OriginalAsset != nil {
		if err := p.library.RemoveUpload(video.OriginalAsset.Filename); err != nil {
			p.logger.Warn("failed to remove source file", "videoId", video.ID, "error", err)
		}
	}
	if err := p.library.RemoveVideoArtifacts(video.ID); err != nil {
		p.logger.Warn("failed to remove video artifacts", "videoId", video.ID, "error", err)
	}
}

// handleJob is the queue worker entry point: render the full ladder into
// the video's output directory.
func (p *Pipeline) handleJob(ctx context.Context, job queue.Job) (*queue.Result, error) {
	outputDir := p.library.VideoDir(job.VideoID)
	result, err := p.executor.Transcode(ctx, job.SourcePath, outputDir)
	if err != nil {
		return nil, err
	}
	return &queue.Result{
		Renditions:           result.Renditions,
		AvailableResolutions: result.AvailableResolutions,
	}, nil
}

func (p *Pipeline) apply(ctx context.Context, event queue.Event) {
	var err error
	switch event.Kind {
	case queue.EventActive:
		err = p.markProcessing(event)
	case queue.EventCompleted:
		err = p.markCompleted(event)
	case queue.EventFailed:
		if event.WillRetry {
			err = p.markRequeued(event)
		} else {
			err = p.markFailed(event)
		}
	default:
		p.logger.Warn("unknown queue event", "kind", event.Kind, "videoId", event.VideoID)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrVideoDeleted), errors.Is(err, storage.ErrVideoNotFound):
		// The owner deleted the video while the job was in flight. Drop the
		// job and its artifacts.
		if _, removeErr := p.queue.Remove(ctx, event.VideoID); removeErr != nil {
			p.logger.Warn("failed to drop job for deleted video", "videoId", event.VideoID, "error", removeErr)
		}
		if cleanupErr := p.library.RemoveVideoArtifacts(event.VideoID); cleanupErr != nil {
			p.logger.Warn("failed to clean artifacts of deleted video", "videoId", event.VideoID, "error", cleanupErr)
		}
	case errors.Is(err, storage.ErrInvalidState):
		p.logger.Warn("queue event ignored for video in unexpected state",
			"kind", event.Kind, "videoId", event.VideoID, "error", err)
	default:
		p.logger.Error("failed to apply queue event",
			"kind", event.Kind, "videoId", event.VideoID, "error", err)
	}
}

// markProcessing also accepts ReadyForProcessing: a worker in another
// process can dequeue the job before the enqueuer's own status write lands.
func (p *Pipeline) markProcessing(event queue.Event) error {
	_, err := p.repo.UpdateVideoStatus(event.VideoID,
		[]models.VideoStatus{models.StatusReadyForProcessing, models.StatusWaitingInQueue},
		storage.StatusUpdate{Status: models.StatusProcessing})
	if err == nil {
		p.logger.Info("video processing", "videoId", event.VideoID, "attempt", event.Attempt)
	}
	return err
}

func (p *Pipeline) markRequeued(event queue.Event) error {
	_, err := p.repo.UpdateVideoStatus(event.VideoID,
		[]models.VideoStatus{models.StatusProcessing},
		storage.StatusUpdate{Status: models.StatusWaitingInQueue})
	if err == nil {
		p.logger.Warn("video requeued after failed attempt",
			"videoId", event.VideoID, "attempt", event.Attempt, "error", event.Err)
	}
	return err
}

func (p *Pipeline) markFailed(event queue.Event) error {
	_, err := p.repo.UpdateVideoStatus(event.VideoID,
		[]models.VideoStatus{models.StatusProcessing},
		storage.StatusUpdate{Status: models.StatusFailedInProcessing})
	if err == nil {
		p.logger.Error("video failed in processing",
			"videoId", event.VideoID, "attempt", event.Attempt, "error", event.Err)
	}
	return err
}

func (p *Pipeline) markCompleted(event queue.Event) error {
	if event.Result == nil {
		return fmt.Errorf("completed event without result for video %s", event.VideoID)
	}
	before, ok := p.repo.GetVideo(event.VideoID)
	if !ok {
		return storage.ErrVideoNotFound
	}

	video, err := p.repo.UpdateVideoStatus(event.VideoID,
		[]models.VideoStatus{models.StatusProcessing},
		storage.StatusUpdate{
			Status:               models.StatusReadyToPublish,
			Renditions:           event.Result.Renditions,
			AvailableResolutions: event.Result.AvailableResolutions,
			ClearOriginalAsset:   true,
		})
	if err != nil {
		return err
	}

	// The renditions replace the source file.
	if before.OriginalAsset != nil {
		if err := p.library.RemoveUpload(before.OriginalAsset.Filename); err != nil {
			p.logger.Warn("failed to remove source after transcode", "videoId", video.ID, "error", err)
		}
	}
	p.logger.Info("video ready to publish",
		"videoId", video.ID, "resolutions", video.AvailableResolutions)
	return nil
}
