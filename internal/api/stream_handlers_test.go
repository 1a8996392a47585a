package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"vodserve/internal/models"
	"vodserve/internal/storage"
)

// publishWithSegment walks an uploaded video to Published and drops a
// rendition file of the given size into its output directory.
func (e *testEnv) publishWithSegment(t *testing.T, videoID string, size int) []byte {
	t.Helper()
	advanceToReadyToPublish(t, e.store, videoID)
	if _, err := e.store.UpdateVideoStatus(videoID, nil,
		storage.StatusUpdate{Status: models.StatusPublished}); err != nil {
		t.Fatalf("publish video: %v", err)
	}

	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.MkdirAll(e.library.VideoDir(videoID), 0o755); err != nil {
		t.Fatalf("create video dir: %v", err)
	}
	if err := os.WriteFile(e.library.RenditionPath(videoID, "segment_720p.ts"), content, 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	return content
}

func (e *testEnv) stream(t *testing.T, videoID, resolution, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+videoID+"/stream/"+resolution, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	e.handler.VideoByID(rec, req)
	return rec
}

func TestStreamWholeFileWithoutRange(t *testing.T) {
	env := newTestEnv(t)
	video := env.uploadVideo(t, "stream clip")
	content := env.publishWithSegment(t, video.ID, 1000)

	rec := env.stream(t, video.ID, "720", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp2t" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("missing Accept-Ranges header, got %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Fatalf("unexpected Content-Length %q", got)
	}
	if rec.Body.Len() != len(content) {
		t.Fatalf("expected full body, got %d bytes", rec.Body.Len())
	}
}

func TestStreamServesRequestedSlice(t *testing.T) {
	env := newTestEnv(t)
	video := env.uploadVideo(t, "slice clip")
	content := env.publishWithSegment(t, video.ID, 1000)

	rec := env.stream(t, video.ID, "720", "bytes=0-99")
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Fatalf("unexpected Content-Length %q", got)
	}
	body := rec.Body.Bytes()
	if len(body) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(body))
	}
	for i, b := range body {
		if b != content[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, b, content[i])
		}
	}
}

func TestStreamClampsOpenEndedAndOversizedRanges(t *testing.T) {
	env := newTestEnv(t)
	video := env.uploadVideo(t, "clamp clip")
	content := env.publishWithSegment(t, video.ID, 1000)

	for _, header := range []string{"bytes=900-", "bytes=900-2000"} {
		rec := env.stream(t, video.ID, "720", header)
		if rec.Code != http.StatusPartialContent {
			t.Fatalf("%s: expected 206, got %d", header, rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes 900-999/1000" {
			t.Fatalf("%s: unexpected Content-Range %q", header, got)
		}
		body := rec.Body.Bytes()
		if len(body) != 100 || body[0] != content[900] || body[99] != content[999] {
			t.Fatalf("%s: wrong tail slice", header)
		}
	}
}

func TestStreamRejectsUnsatisfiableRanges(t *testing.T) {
	env := newTestEnv(t)
	video := env.uploadVideo(t, "range errors")
	env.publishWithSegment(t, video.ID, 1000)

	headers := []string{
		"bytes=1000-1001", // starts past the end
		"bytes=500-100",   // inverted
		"bytes=-500",      // suffix range
		"bytes=abc-",      // not numeric
		"bytes=0-49,50-99", // multipart
		"items=0-99",      // wrong unit
	}
	for _, header := range headers {
		rec := env.stream(t, video.ID, "720", header)
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("%s: expected 416, got %d", header, rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
			t.Fatalf("%s: unexpected Content-Range %q", header, got)
		}
	}
}

func TestStreamRejectsUnknownResolution(t *testing.T) {
	env := newTestEnv(t)
	video := env.uploadVideo(t, "resolution check")
	env.publishWithSegment(t, video.ID, 100)

	rec := env.stream(t, video.ID, "480", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "720") {
		t.Fatalf("error should list available resolutions: %s", body)
	}
}

func TestStreamHiddenUntilPublished(t *testing.T) {
	env := newTestEnv(t)
	video := env.uploadVideo(t, "early stream")

	rec := env.stream(t, video.ID, "720", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before publish, got %d", rec.Code)
	}
}

func TestStreamUnknownVideoIs404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.stream(t, "nope", "720", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestParseByteRangeTable(t *testing.T) {
	cases := []struct {
		header  string
		size    int64
		want    byteRange
		wantErr bool
	}{
		{"bytes=0-0", 10, byteRange{0, 0}, false},
		{"bytes=0-9", 10, byteRange{0, 9}, false},
		{"bytes=0-", 10, byteRange{0, 9}, false},
		{"bytes=5-100", 10, byteRange{5, 9}, false},
		{"bytes=9-9", 10, byteRange{9, 9}, false},
		{"bytes=10-", 10, byteRange{}, true},
		{"bytes=-1", 10, byteRange{}, true},
		{"bytes=3-2", 10, byteRange{}, true},
		{"bytes=", 10, byteRange{}, true},
		{"", 10, byteRange{}, true},
	}
	for _, tc := range cases {
		got, err := parseByteRange(tc.header, tc.size)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error, got %+v", tc.header, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.header, got, tc.want)
		}
	}
}
