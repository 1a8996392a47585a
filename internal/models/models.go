package models

import "time"

// VideoStatus tracks where a video sits in its upload/transcode/publish
// lifecycle. The transition table lives in status.go.
type VideoStatus string

const (
	StatusUploaded           VideoStatus = "Uploaded"
	StatusReadyForProcessing VideoStatus = "ReadyForProcessing"
	StatusWaitingInQueue     VideoStatus = "WaitingInQueue"
	StatusProcessing         VideoStatus = "Processing"
	StatusReadyToPublish     VideoStatus = "ReadyToPublish"
	StatusPublished          VideoStatus = "Published"
	StatusFailedInProcessing VideoStatus = "FailedInProcessing"
	StatusDeleted            VideoStatus = "Deleted"
)

// MediaInfo captures the probed characteristics of a media file. It is
// recorded for the uploaded source and mirrored when renditions are probed.
type MediaInfo struct {
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
	FrameRate       float64 `json:"frameRate,omitempty"`
	Resolution      string  `json:"resolution,omitempty"`
	VideoCodec      string  `json:"videoCodec,omitempty"`
	VideoBitrate    int64   `json:"videoBitrate,omitempty"`
	AudioCodec      string  `json:"audioCodec,omitempty"`
	AudioBitrate    int64   `json:"audioBitrate,omitempty"`
	AudioChannels   int     `json:"audioChannels,omitempty"`
	OverallBitrate  int64   `json:"overallBitrate,omitempty"`
}

// Rendition describes one transcoded output of a video.
type Rendition struct {
	Filename  string `json:"filename"`
	Playlist  string `json:"playlist,omitempty"`
	SizeBytes int64  `json:"sizeBytes"`
	Bitrate   int64  `json:"bitrate,omitempty"`
	Codec     string `json:"codec,omitempty"`
}

type Video struct {
	ID                   string               `json:"id"`
	ChannelID            string               `json:"channelId"`
	Title                string               `json:"title"`
	Description          string               `json:"description,omitempty"`
	Language             string               `json:"language,omitempty"`
	Status               VideoStatus          `json:"status"`
	IsPublished          bool                 `json:"isPublished"`
	IsDeleted            bool                 `json:"isDeleted"`
	Thumbnail            string               `json:"thumbnail,omitempty"`
	OriginalAsset        *MediaInfo           `json:"originalAsset,omitempty"`
	Renditions           map[string]Rendition `json:"renditions,omitempty"`
	AvailableResolutions []string             `json:"availableResolutions,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// Channel owns videos. OwnerKeyHash stores the derived hash of the channel
// owner key; the key itself is only returned once at creation time.
type Channel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerKeyHash string    `json:"ownerKeyHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
