package storage

import "vodserve/internal/models"

// CreateChannelParams captures the attributes set when creating a channel.
type CreateChannelParams struct {
	Name string
}

// CreateVideoParams captures the attributes set when registering an upload.
// The probed source metadata must already be attached; the record is stored
// as ReadyForProcessing.
type CreateVideoParams struct {
	ChannelID     string
	Title         string
	Description   string
	Language      string
	Thumbnail     string
	OriginalAsset models.MediaInfo
}

// VideoUpdate describes the mutable metadata fields. Nil pointers leave the
// current value untouched. Thumbnail is set by the upload flow once the
// capture lands on disk; it is not exposed for direct edits over the API.
type VideoUpdate struct {
	Title       *string
	Description *string
	Language    *string
	Thumbnail   *string
}

// StatusUpdate is applied atomically together with a status transition by
// UpdateVideoStatus. IsPublished is derived from the new status so the
// published flag can never disagree with it.
type StatusUpdate struct {
	Status               models.VideoStatus
	Renditions           map[string]models.Rendition
	AvailableResolutions []string
	ClearOriginalAsset   bool
}
