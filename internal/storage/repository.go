package storage

import (
	"context"

	"vodserve/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the transcode pipeline. Implementations must make UpdateVideoStatus an
// atomic compare-and-set on the current status so queue events and
// owner-initiated requests cannot interleave into lost updates.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// CreateChannel returns the channel plus the plaintext owner key. The
	// key is only available at creation time; the store keeps its hash.
	CreateChannel(params CreateChannelParams) (models.Channel, string, error)
	GetChannel(id string) (models.Channel, bool)
	ListChannels() []models.Channel
	// AuthenticateOwner resolves an owner key to its channel.
	AuthenticateOwner(key string) (models.Channel, bool)

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	ListVideos(channelID string) ([]models.Video, error)
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	// UpdateVideoStatus applies update only when the current status is one
	// of expect (any status when expect is empty). It fails with
	// ErrVideoDeleted for deleted videos and ErrInvalidState on a mismatch.
	UpdateVideoStatus(id string, expect []models.VideoStatus, update StatusUpdate) (models.Video, error)
	// DeleteVideo marks the record deleted and returns its final snapshot
	// so callers can release rendition files and pending jobs.
	DeleteVideo(id string) (models.Video, error)
}

var _ Repository = (*Storage)(nil)
