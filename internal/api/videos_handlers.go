package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vodserve/internal/models"
	"vodserve/internal/storage"
)

// maxUploadBytes caps a single multipart upload.
const maxUploadBytes = 4 << 30

// multipartMemoryBytes bounds the in-memory portion of multipart parsing;
// the video part itself spills to a temp file.
const multipartMemoryBytes = 32 << 20

type updateVideoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Language    *string `json:"language"`
}

func randomFileToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate upload name: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	channel, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	if requested := strings.TrimSpace(r.FormValue("channelId")); requested != "" && requested != channel.ID {
		writeError(w, http.StatusForbidden, fmt.Errorf("owner key does not match channel %s", requested))
		return
	}
	title := r.FormValue("title")
	if strings.TrimSpace(title) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video file is required"))
		return
	}
	defer file.Close()

	token, err := randomFileToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	storedName := token + strings.ToLower(filepath.Ext(header.Filename))
	sourcePath, size, err := h.Library.SaveUpload(file, storedName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	info, err := h.Inspector.Probe(r.Context(), sourcePath)
	if err != nil {
		_ = h.Library.RemoveUpload(storedName)
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported media file: %w", err))
		return
	}
	info.Filename = storedName
	info.SizeBytes = size

	video, err := h.Store.CreateVideo(storage.CreateVideoParams{
		ChannelID:     channel.ID,
		Title:         title,
		Description:   r.FormValue("description"),
		Language:      r.FormValue("language"),
		OriginalAsset: info,
	})
	if err != nil {
		_ = h.Library.RemoveUpload(storedName)
		if errors.Is(err, storage.ErrChannelNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// A failed capture does not fail the upload; the video just has no
	// thumbnail.
	if err := h.Inspector.Thumbnail(r.Context(), sourcePath, h.Library.ThumbnailPath(video.ID)); err != nil {
		h.logger().Warn("thumbnail capture failed", "videoId", video.ID, "error", err)
	} else {
		name := video.ID + ".jpg"
		if updated, err := h.Store.UpdateVideo(video.ID, storage.VideoUpdate{Thumbnail: &name}); err != nil {
			h.logger().Warn("failed to record thumbnail", "videoId", video.ID, "error", err)
		} else {
			video = updated
		}
	}

	h.logger().Info("video uploaded",
		"videoId", video.ID, "channelId", channel.ID, "sizeBytes", size)
	writeJSON(w, http.StatusCreated, newVideoResponse(video))
}

func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	videoID := parts[0]

	video, ok := h.Store.GetVideo(videoID)
	if !ok || video.IsDeleted {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.getVideo(w, r, video)
		case http.MethodPatch:
			h.patchVideo(w, r, video)
		case http.MethodDelete:
			h.deleteVideo(w, r, video)
		default:
			w.Header().Set("Allow", "GET, PATCH, DELETE")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		}
		return
	}

	switch parts[1] {
	case "transcode":
		if len(parts) == 2 {
			h.startTranscode(w, r, video)
			return
		}
	case "publish":
		if len(parts) == 2 {
			h.publishVideo(w, r, video)
			return
		}
	case "stream":
		if len(parts) == 3 {
			h.streamVideo(w, r, video, parts[2])
			return
		}
	case "thumbnail":
		if len(parts) == 2 {
			h.videoThumbnail(w, r, video)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown video path"))
}

func (h *Handler) getVideo(w http.ResponseWriter, r *http.Request, video models.Video) {
	if !video.IsPublished && !h.ownsVideo(r, video) {
		writeError(w, http.StatusForbidden, fmt.Errorf("video %s is not published yet", video.ID))
		return
	}
	writeJSON(w, http.StatusOK, newVideoResponse(video))
}

func (h *Handler) patchVideo(w http.ResponseWriter, r *http.Request, video models.Video) {
	if _, ok := h.requireVideoOwner(w, r, video); !ok {
		return
	}
	var req updateVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.Store.UpdateVideo(video.ID, storage.VideoUpdate{
		Title:       req.Title,
		Description: req.Description,
		Language:    req.Language,
	})
	if err != nil {
		if errors.Is(err, storage.ErrVideoNotFound) || errors.Is(err, storage.ErrVideoDeleted) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", video.ID))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, newVideoResponse(updated))
}

func (h *Handler) deleteVideo(w http.ResponseWriter, r *http.Request, video models.Video) {
	if _, ok := h.requireVideoOwner(w, r, video); !ok {
		return
	}
	deleted, err := h.Store.DeleteVideo(video.ID)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyDeleted) {
			writeError(w, http.StatusConflict, err)
			return
		}
		if errors.Is(err, storage.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", video.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if h.Pipeline != nil {
		h.Pipeline.HandleDelete(r.Context(), deleted)
	}
	h.logger().Info("video deleted", "videoId", video.ID, "channelId", video.ChannelID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startTranscode(w http.ResponseWriter, r *http.Request, video models.Video) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireVideoOwner(w, r, video); !ok {
		return
	}
	if video.Status != models.StatusReadyForProcessing {
		writeError(w, http.StatusConflict,
			fmt.Errorf("video %s is %s, transcoding requires %s", video.ID, video.Status, models.StatusReadyForProcessing))
		return
	}
	if err := h.Pipeline.StartTranscode(r.Context(), video); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     video.ID,
		"status": string(models.StatusWaitingInQueue),
	})
}

func (h *Handler) publishVideo(w http.ResponseWriter, r *http.Request, video models.Video) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireVideoOwner(w, r, video); !ok {
		return
	}
	published, err := h.Store.UpdateVideoStatus(video.ID,
		[]models.VideoStatus{models.StatusReadyToPublish},
		storage.StatusUpdate{Status: models.StatusPublished})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidState) {
			writeError(w, http.StatusConflict,
				fmt.Errorf("video %s is %s, publishing requires %s", video.ID, video.Status, models.StatusReadyToPublish))
			return
		}
		if errors.Is(err, storage.ErrVideoNotFound) || errors.Is(err, storage.ErrVideoDeleted) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", video.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.logger().Info("video published", "videoId", published.ID, "channelId", published.ChannelID)
	writeJSON(w, http.StatusOK, newVideoResponse(published))
}

func (h *Handler) videoThumbnail(w http.ResponseWriter, r *http.Request, video models.Video) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !video.IsPublished && !h.ownsVideo(r, video) {
		writeError(w, http.StatusForbidden, fmt.Errorf("video %s is not published yet", video.ID))
		return
	}
	path := h.Library.ThumbnailPath(video.ID)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s has no thumbnail", video.ID))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}
