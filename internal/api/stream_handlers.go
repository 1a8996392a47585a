package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vodserve/internal/models"
)

// byteRange is an inclusive byte window into a rendition file.
type byteRange struct {
	start int64
	end   int64
}

func (b byteRange) length() int64 {
	return b.end - b.start + 1
}

var errUnsatisfiableRange = errors.New("unsatisfiable range")

// parseByteRange interprets a Range header against a file of the given size.
// Only a single bytes range with an explicit start is honoured; the end is
// optional and clamped to the last byte. Everything else, including suffix
// and multipart ranges, is unsatisfiable.
func parseByteRange(header string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return byteRange{}, errUnsatisfiableRange
	}
	if strings.Contains(spec, ",") {
		return byteRange{}, errUnsatisfiableRange
	}
	startPart, endPart, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, errUnsatisfiableRange
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startPart), 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errUnsatisfiableRange
	}
	if start >= size {
		return byteRange{}, errUnsatisfiableRange
	}
	end := size - 1
	if trimmed := strings.TrimSpace(endPart); trimmed != "" {
		end, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return byteRange{}, errUnsatisfiableRange
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start > end {
		return byteRange{}, errUnsatisfiableRange
	}
	return byteRange{start: start, end: end}, nil
}

func streamContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ts":
		return "video/mp2t"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	default:
		return "application/octet-stream"
	}
}

func (h *Handler) streamVideo(w http.ResponseWriter, r *http.Request, video models.Video, resolution string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !video.IsPublished && !h.ownsVideo(r, video) {
		writeError(w, http.StatusForbidden, fmt.Errorf("video %s is not published yet", video.ID))
		return
	}

	rendition, ok := video.Renditions[resolution]
	if !ok {
		available := strings.Join(video.AvailableResolutions, ", ")
		if available == "" {
			available = "none"
		}
		writeError(w, http.StatusBadRequest,
			fmt.Errorf("resolution %s not available, choose one of: %s", resolution, available))
		return
	}

	path := h.Library.RenditionPath(video.ID, rendition.Filename)
	file, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("rendition %s of video %s is missing", resolution, video.ID))
		return
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", streamContentType(rendition.Filename))

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		h.copyStream(w, io.NewSectionReader(file, 0, size), video.ID, resolution)
		return
	}

	window, err := parseByteRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable,
			fmt.Errorf("range %q cannot be satisfied", rangeHeader))
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", window.start, window.end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(window.length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	h.copyStream(w, io.NewSectionReader(file, window.start, window.length()), video.ID, resolution)
}

// copyStream pushes the selected window to the client. Write errors are
// almost always the viewer seeking or closing the tab, so they are logged at
// debug and swallowed.
func (h *Handler) copyStream(w http.ResponseWriter, src io.Reader, videoID, resolution string) {
	if _, err := io.Copy(w, src); err != nil {
		h.logger().Debug("stream interrupted",
			"videoId", videoID, "resolution", resolution, "error", err)
	}
}
