package api

import (
	"fmt"
	"net/http"
	"strings"

	"vodserve/internal/models"
)

// ExtractToken pulls the owner key out of the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// authenticatedChannel resolves the request's owner key to its channel
// without writing a response. The second return is false when the key is
// missing or does not verify.
func (h *Handler) authenticatedChannel(r *http.Request) (models.Channel, bool) {
	token := ExtractToken(r)
	if token == "" {
		return models.Channel{}, false
	}
	return h.Store.AuthenticateOwner(token)
}

// requireOwner authenticates the owner key and writes a 401 on failure.
func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request) (models.Channel, bool) {
	token := ExtractToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing owner key"))
		return models.Channel{}, false
	}
	channel, ok := h.Store.AuthenticateOwner(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid owner key"))
		return models.Channel{}, false
	}
	return channel, true
}

// requireVideoOwner authenticates the owner key and checks it against the
// video's channel, writing 401 or 403 as appropriate.
func (h *Handler) requireVideoOwner(w http.ResponseWriter, r *http.Request, video models.Video) (models.Channel, bool) {
	channel, ok := h.requireOwner(w, r)
	if !ok {
		return models.Channel{}, false
	}
	if channel.ID != video.ChannelID {
		writeError(w, http.StatusForbidden, fmt.Errorf("owner key does not match video channel"))
		return models.Channel{}, false
	}
	return channel, true
}

// ownsVideo reports whether the request carries a valid owner key for the
// video's channel. Unlike requireVideoOwner it never writes a response; it
// backs the published-or-owner visibility checks.
func (h *Handler) ownsVideo(r *http.Request, video models.Video) bool {
	channel, ok := h.authenticatedChannel(r)
	return ok && channel.ID == video.ChannelID
}
