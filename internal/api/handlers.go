package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vodserve/internal/media"
	"vodserve/internal/models"
	"vodserve/internal/storage"
)

// TranscodePipeline enqueues transcode work and reacts to deletions.
// *pipeline.Pipeline is the production implementation.
type TranscodePipeline interface {
	StartTranscode(ctx context.Context, video models.Video) error
	HandleDelete(ctx context.Context, video models.Video)
}

// MediaInspector probes uploaded sources and captures thumbnails.
// *transcode.Executor is the production implementation.
type MediaInspector interface {
	Probe(ctx context.Context, path string) (models.MediaInfo, error)
	Thumbnail(ctx context.Context, input, outputPath string) error
}

type Handler struct {
	Store     storage.Repository
	Pipeline  TranscodePipeline
	Inspector MediaInspector
	Library   *media.Library
	Logger    *slog.Logger
}

func NewHandler(store storage.Repository, pipeline TranscodePipeline, inspector MediaInspector, library *media.Library, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Pipeline:  pipeline,
		Inspector: inspector,
		Library:   library,
		Logger:    logger,
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 1)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	components, status, code := h.componentHealth(r.Context())
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// Response shapes

type channelResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

type createChannelResponse struct {
	channelResponse
	// OwnerKey is only included in the creation response; the store keeps
	// a hash and cannot reproduce it.
	OwnerKey string `json:"ownerKey"`
}

func newChannelResponse(channel models.Channel) channelResponse {
	return channelResponse{
		ID:        channel.ID,
		Name:      channel.Name,
		CreatedAt: channel.CreatedAt.Format(time.RFC3339Nano),
	}
}

type mediaInfoResponse struct {
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
	FrameRate       float64 `json:"frameRate,omitempty"`
	Resolution      string  `json:"resolution,omitempty"`
	VideoCodec      string  `json:"videoCodec,omitempty"`
	AudioCodec      string  `json:"audioCodec,omitempty"`
	OverallBitrate  int64   `json:"overallBitrate,omitempty"`
}

type renditionResponse struct {
	Filename  string `json:"filename"`
	Playlist  string `json:"playlist,omitempty"`
	SizeBytes int64  `json:"sizeBytes"`
	Bitrate   int64  `json:"bitrate,omitempty"`
	Codec     string `json:"codec,omitempty"`
}

type videoResponse struct {
	ID                   string                       `json:"id"`
	ChannelID            string                       `json:"channelId"`
	Title                string                       `json:"title"`
	Description          string                       `json:"description,omitempty"`
	Language             string                       `json:"language,omitempty"`
	Status               string                       `json:"status"`
	IsPublished          bool                         `json:"isPublished"`
	ThumbnailURL         string                       `json:"thumbnailUrl,omitempty"`
	OriginalAsset        *mediaInfoResponse           `json:"originalAsset,omitempty"`
	Renditions           map[string]renditionResponse `json:"renditions,omitempty"`
	AvailableResolutions []string                     `json:"availableResolutions,omitempty"`
	CreatedAt            string                       `json:"createdAt"`
	UpdatedAt            string                       `json:"updatedAt"`
}

func newMediaInfoResponse(info models.MediaInfo) mediaInfoResponse {
	return mediaInfoResponse{
		Filename:        info.Filename,
		SizeBytes:       info.SizeBytes,
		DurationSeconds: info.DurationSeconds,
		FrameRate:       info.FrameRate,
		Resolution:      info.Resolution,
		VideoCodec:      info.VideoCodec,
		AudioCodec:      info.AudioCodec,
		OverallBitrate:  info.OverallBitrate,
	}
}

func newVideoResponse(video models.Video) videoResponse {
	resp := videoResponse{
		ID:                   video.ID,
		ChannelID:            video.ChannelID,
		Title:                video.Title,
		Description:          video.Description,
		Language:             video.Language,
		Status:               string(video.Status),
		IsPublished:          video.IsPublished,
		AvailableResolutions: append([]string{}, video.AvailableResolutions...),
		CreatedAt:            video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:            video.UpdatedAt.Format(time.RFC3339Nano),
	}
	if video.Thumbnail != "" {
		resp.ThumbnailURL = fmt.Sprintf("/api/videos/%s/thumbnail", video.ID)
	}
	if video.OriginalAsset != nil {
		info := newMediaInfoResponse(*video.OriginalAsset)
		resp.OriginalAsset = &info
	}
	if len(video.Renditions) > 0 {
		renditions := make(map[string]renditionResponse, len(video.Renditions))
		for name, rendition := range video.Renditions {
			renditions[name] = renditionResponse{
				Filename:  rendition.Filename,
				Playlist:  rendition.Playlist,
				SizeBytes: rendition.SizeBytes,
				Bitrate:   rendition.Bitrate,
				Codec:     rendition.Codec,
			}
		}
		resp.Renditions = renditions
	}
	return resp
}
