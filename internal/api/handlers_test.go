package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"vodserve/internal/media"
	"vodserve/internal/models"
	"vodserve/internal/storage"
)

type stubPipeline struct {
	started []string
	deleted []string
	fail    error
}

func (s *stubPipeline) StartTranscode(ctx context.Context, video models.Video) error {
	if s.fail != nil {
		return s.fail
	}
	s.started = append(s.started, video.ID)
	return nil
}

func (s *stubPipeline) HandleDelete(ctx context.Context, video models.Video) {
	s.deleted = append(s.deleted, video.ID)
}

type stubInspector struct {
	probeErr error
}

func (s *stubInspector) Probe(ctx context.Context, path string) (models.MediaInfo, error) {
	if s.probeErr != nil {
		return models.MediaInfo{}, s.probeErr
	}
	return models.MediaInfo{
		DurationSeconds: 12.5,
		FrameRate:       30,
		Resolution:      "1920x1080",
		VideoCodec:      "h264",
		AudioCodec:      "aac",
	}, nil
}

func (s *stubInspector) Thumbnail(ctx context.Context, input, outputPath string) error {
	return os.WriteFile(outputPath, []byte("jpg"), 0o644)
}

type testEnv struct {
	handler  *Handler
	store    *storage.Storage
	library  *media.Library
	pipeline *stubPipeline
	channel  models.Channel
	ownerKey string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewStorage()
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	library, err := media.NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary returned error: %v", err)
	}
	channel, ownerKey, err := store.CreateChannel(storage.CreateChannelParams{Name: "handler tests"})
	if err != nil {
		t.Fatalf("CreateChannel returned error: %v", err)
	}
	pipeline := &stubPipeline{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(store, pipeline, &stubInspector{}, library, logger)
	return &testEnv{
		handler:  handler,
		store:    store,
		library:  library,
		pipeline: pipeline,
		channel:  channel,
		ownerKey: ownerKey,
	}
}

func (e *testEnv) authorize(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+e.ownerKey)
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func (e *testEnv) uploadVideo(t *testing.T, title string) videoResponse {
	t.Helper()
	body, contentType := multipartUpload(t, map[string]string{"title": title}, "clip.mp4", []byte("movie bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	e.authorize(req)
	rec := httptest.NewRecorder()
	e.handler.Videos(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp videoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp
}

func TestCreateChannelReturnsOwnerKeyOnce(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/channels", strings.NewReader(`{"name":"movie night"}`))
	rec := httptest.NewRecorder()
	env.handler.Channels(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create channel returned %d: %s", rec.Code, rec.Body.String())
	}
	var created createChannelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.OwnerKey == "" {
		t.Fatal("expected owner key in creation response")
	}
	if !strings.HasPrefix(created.OwnerKey, created.ID+".") {
		t.Fatalf("owner key %q not scoped to channel %s", created.OwnerKey, created.ID)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	listRec := httptest.NewRecorder()
	env.handler.Channels(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list channels returned %d", listRec.Code)
	}
	if strings.Contains(listRec.Body.String(), "ownerKey") {
		t.Fatal("channel listing must not expose owner keys")
	}
}

func TestUploadCreatesReadyForProcessingVideo(t *testing.T) {
	env := newTestEnv(t)
	resp := env.uploadVideo(t, "launch trailer")

	if resp.Status != string(models.StatusReadyForProcessing) {
		t.Fatalf("expected status %s, got %s", models.StatusReadyForProcessing, resp.Status)
	}
	if resp.OriginalAsset == nil || resp.OriginalAsset.Resolution != "1920x1080" {
		t.Fatalf("expected probed original asset, got %+v", resp.OriginalAsset)
	}
	if resp.ThumbnailURL == "" {
		t.Fatal("expected thumbnail url after capture")
	}
	if _, err := os.Stat(env.library.ThumbnailPath(resp.ID)); err != nil {
		t.Fatalf("thumbnail not on disk: %v", err)
	}
	if _, err := os.Stat(env.library.UploadPath(resp.OriginalAsset.Filename)); err != nil {
		t.Fatalf("source not on disk: %v", err)
	}
}

func TestUploadRequiresOwnerKey(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t, map[string]string{"title": "clip"}, "clip.mp4", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without owner key, got %d", rec.Code)
	}
}

func TestUploadRejectsUnprobeableFile(t *testing.T) {
	env := newTestEnv(t)
	env.handler.Inspector = &stubInspector{probeErr: fmt.Errorf("moov atom not found")}

	body, contentType := multipartUpload(t, map[string]string{"title": "broken"}, "broken.mp4", []byte("not a video"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	env.authorize(req)
	rec := httptest.NewRecorder()
	env.handler.Videos(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unprobeable upload, got %d", rec.Code)
	}

	entries, err := os.ReadDir(env.library.Root() + "/uploads")
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d files behind", len(entries))
	}
}

func TestGetVideoHiddenUntilPublished(t *testing.T) {
	env := newTestEnv(t)
	resp := env.uploadVideo(t, "hidden clip")

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+resp.ID, nil)
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous viewer, got %d", rec.Code)
	}

	ownerReq := httptest.NewRequest(http.MethodGet, "/api/videos/"+resp.ID, nil)
	env.authorize(ownerReq)
	ownerRec := httptest.NewRecorder()
	env.handler.VideoByID(ownerRec, ownerReq)
	if ownerRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", ownerRec.Code)
	}
}

func TestPatchVideoRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	resp := env.uploadVideo(t, "patch target")

	req := httptest.NewRequest(http.MethodPatch, "/api/videos/"+resp.ID,
		strings.NewReader(`{"title":"new title","status":"Published"}`))
	env.authorize(req)
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d: %s", rec.Code, rec.Body.String())
	}

	okReq := httptest.NewRequest(http.MethodPatch, "/api/videos/"+resp.ID,
		strings.NewReader(`{"title":"new title"}`))
	env.authorize(okReq)
	okRec := httptest.NewRecorder()
	env.handler.VideoByID(okRec, okReq)
	if okRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for metadata patch, got %d: %s", okRec.Code, okRec.Body.String())
	}
	var updated videoResponse
	if err := json.Unmarshal(okRec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode patch response: %v", err)
	}
	if updated.Title != "new title" {
		t.Fatalf("title not updated: %q", updated.Title)
	}
}

func TestStartTranscodeAcceptsOnlyReadyForProcessing(t *testing.T) {
	env := newTestEnv(t)
	resp := env.uploadVideo(t, "transcode target")

	req := httptest.NewRequest(http.MethodPost, "/api/videos/"+resp.ID+"/transcode", nil)
	env.authorize(req)
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.pipeline.started) != 1 || env.pipeline.started[0] != resp.ID {
		t.Fatalf("pipeline not started for video: %v", env.pipeline.started)
	}

	// Move the record out of ReadyForProcessing; a second request conflicts.
	if _, err := env.store.UpdateVideoStatus(resp.ID, nil,
		storage.StatusUpdate{Status: models.StatusWaitingInQueue}); err != nil {
		t.Fatalf("advance status: %v", err)
	}
	again := httptest.NewRequest(http.MethodPost, "/api/videos/"+resp.ID+"/transcode", nil)
	env.authorize(again)
	againRec := httptest.NewRecorder()
	env.handler.VideoByID(againRec, again)
	if againRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when not ready for processing, got %d", againRec.Code)
	}
}

func advanceToReadyToPublish(t *testing.T, store *storage.Storage, videoID string) {
	t.Helper()
	steps := []storage.StatusUpdate{
		{Status: models.StatusWaitingInQueue},
		{Status: models.StatusProcessing},
		{
			Status: models.StatusReadyToPublish,
			Renditions: map[string]models.Rendition{
				"720": {Filename: "segment_720p.ts", Playlist: "manifest_720p.m3u8", SizeBytes: 1000},
			},
			AvailableResolutions: []string{"720"},
			ClearOriginalAsset:   true,
		},
	}
	for _, step := range steps {
		if _, err := store.UpdateVideoStatus(videoID, nil, step); err != nil {
			t.Fatalf("advance to %s: %v", step.Status, err)
		}
	}
}

func TestPublishRequiresReadyToPublish(t *testing.T) {
	env := newTestEnv(t)
	resp := env.uploadVideo(t, "publish target")

	early := httptest.NewRequest(http.MethodPost, "/api/videos/"+resp.ID+"/publish", nil)
	env.authorize(early)
	earlyRec := httptest.NewRecorder()
	env.handler.VideoByID(earlyRec, early)
	if earlyRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before transcode, got %d", earlyRec.Code)
	}

	advanceToReadyToPublish(t, env.store, resp.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/"+resp.ID+"/publish", nil)
	env.authorize(req)
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var published videoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &published); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	if !published.IsPublished || published.Status != string(models.StatusPublished) {
		t.Fatalf("video not published: %+v", published)
	}
}

func TestDeleteVideoDropsPipelineWork(t *testing.T) {
	env := newTestEnv(t)
	resp := env.uploadVideo(t, "delete target")

	req := httptest.NewRequest(http.MethodDelete, "/api/videos/"+resp.ID, nil)
	env.authorize(req)
	rec := httptest.NewRecorder()
	env.handler.VideoByID(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.pipeline.deleted) != 1 || env.pipeline.deleted[0] != resp.ID {
		t.Fatalf("pipeline delete hook not invoked: %v", env.pipeline.deleted)
	}

	// The record is gone from the API's point of view afterwards.
	again := httptest.NewRequest(http.MethodDelete, "/api/videos/"+resp.ID, nil)
	env.authorize(again)
	againRec := httptest.NewRecorder()
	env.handler.VideoByID(againRec, again)
	if againRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", againRec.Code)
	}
}

func TestChannelVideosHidesUnpublishedFromViewers(t *testing.T) {
	env := newTestEnv(t)
	hidden := env.uploadVideo(t, "unpublished clip")
	visible := env.uploadVideo(t, "published clip")
	advanceToReadyToPublish(t, env.store, visible.ID)
	if _, err := env.store.UpdateVideoStatus(visible.ID, nil,
		storage.StatusUpdate{Status: models.StatusPublished}); err != nil {
		t.Fatalf("publish video: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/channels/"+env.channel.ID+"/videos", nil)
	rec := httptest.NewRecorder()
	env.handler.ChannelByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
	}
	var listed []videoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != visible.ID {
		t.Fatalf("viewer listing should only contain the published video: %+v", listed)
	}
	if listed[0].ID == hidden.ID {
		t.Fatal("unpublished video leaked to anonymous listing")
	}

	ownerReq := httptest.NewRequest(http.MethodGet, "/api/channels/"+env.channel.ID+"/videos", nil)
	env.authorize(ownerReq)
	ownerRec := httptest.NewRecorder()
	env.handler.ChannelByID(ownerRec, ownerReq)
	var ownerListed []videoResponse
	if err := json.Unmarshal(ownerRec.Body.Bytes(), &ownerListed); err != nil {
		t.Fatalf("decode owner listing: %v", err)
	}
	if len(ownerListed) != 2 {
		t.Fatalf("owner listing should contain both videos, got %d", len(ownerListed))
	}
}

func TestHealthReportsDatastore(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.Health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"datastore"`) {
		t.Fatalf("health body missing datastore component: %s", rec.Body.String())
	}
}
