package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vodserve/internal/storage"
)

type createChannelRequest struct {
	Name string `json:"name"`
}

func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channels := h.Store.ListChannels()
		response := make([]channelResponse, 0, len(channels))
		for _, channel := range channels {
			response = append(response, newChannelResponse(channel))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		var req createChannelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		channel, ownerKey, err := h.Store.CreateChannel(storage.CreateChannelParams{Name: req.Name})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger().Info("channel created", "channelId", channel.ID, "name", channel.Name)
		writeJSON(w, http.StatusCreated, createChannelResponse{
			channelResponse: newChannelResponse(channel),
			OwnerKey:        ownerKey,
		})
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) ChannelByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel id missing"))
		return
	}
	channelID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		channel, ok := h.Store.GetChannel(channelID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
			return
		}
		writeJSON(w, http.StatusOK, newChannelResponse(channel))
		return
	}

	if len(parts) == 2 && parts[1] == "videos" {
		h.channelVideos(w, r, channelID)
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel path"))
}

// channelVideos lists a channel's videos. Unpublished videos are only
// included when the request carries the channel's owner key.
func (h *Handler) channelVideos(w http.ResponseWriter, r *http.Request, channelID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	videos, err := h.Store.ListVideos(channelID)
	if err != nil {
		if errors.Is(err, storage.ErrChannelNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	owner := false
	if channel, ok := h.authenticatedChannel(r); ok && channel.ID == channelID {
		owner = true
	}

	response := make([]videoResponse, 0, len(videos))
	for _, video := range videos {
		if !video.IsPublished && !owner {
			continue
		}
		response = append(response, newVideoResponse(video))
	}
	writeJSON(w, http.StatusOK, response)
}
