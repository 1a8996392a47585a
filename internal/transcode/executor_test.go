package transcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const probeJSON = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1280,"height":720,"bit_rate":"1000000","avg_frame_rate":"30000/1001"},{"codec_type":"audio","codec_name":"aac","bit_rate":"128000","channels":2}],"format":{"duration":"12.5","size":"4096","bit_rate":"1100000"}}`

func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub binaries require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func writeSourceFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "source.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestTranscodeCollectsRenditions(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeStub(t, dir, "ffmpeg", `
for n in 1080p 720p 360p; do
	printf '#EXTM3U\n' > "manifest_${n}.m3u8"
	printf 'segmentdata' > "segment_${n}.ts"
done
printf '#EXTM3U\n' > master.m3u8
`)
	ffprobe := writeStub(t, dir, "ffprobe", "printf '%s' '"+probeJSON+"'\n")
	source := writeSourceFile(t, dir)
	outputDir := filepath.Join(dir, "out")

	exec := NewExecutor(Config{
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	result, err := exec.Transcode(context.Background(), source, outputDir)
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}

	if len(result.Renditions) != 3 {
		t.Fatalf("expected 3 renditions, got %d", len(result.Renditions))
	}
	r1080, ok := result.Renditions["1080"]
	if !ok {
		t.Fatalf("missing 1080 rendition: %+v", result.Renditions)
	}
	if r1080.Filename != "segment_1080p.ts" || r1080.Playlist != "manifest_1080p.m3u8" {
		t.Fatalf("unexpected rendition files: %+v", r1080)
	}
	if r1080.SizeBytes != int64(len("segmentdata")) {
		t.Fatalf("unexpected rendition size %d", r1080.SizeBytes)
	}
	if r1080.Bitrate != 1100000 || r1080.Codec != "h264" {
		t.Fatalf("probe data not applied: %+v", r1080)
	}
	want := []string{"1080", "720", "360"}
	if strings.Join(result.AvailableResolutions, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected resolutions %v", result.AvailableResolutions)
	}
	if filepath.Base(result.MasterPlaylist) != "master.m3u8" {
		t.Fatalf("unexpected master playlist %q", result.MasterPlaylist)
	}
}

func TestTranscodeSurfacesStderrOnFailure(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeStub(t, dir, "ffmpeg", `
echo "Invalid data found when processing input" >&2
exit 1
`)
	source := writeSourceFile(t, dir)

	exec := NewExecutor(Config{
		FFmpegPath: ffmpeg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := exec.Transcode(context.Background(), source, filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("expected transcode failure")
	}
	var transcodeErr *Error
	if !errors.As(err, &transcodeErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !strings.Contains(transcodeErr.Stderr, "Invalid data found") {
		t.Fatalf("stderr not captured: %q", transcodeErr.Stderr)
	}
}

func TestTranscodeRejectsStderrOnCleanExit(t *testing.T) {
	dir := t.TempDir()
	// Writes every expected output and exits zero, but complains on the way.
	ffmpeg := writeStub(t, dir, "ffmpeg", `
for n in 1080p 720p 360p; do
	printf '#EXTM3U\n' > "manifest_${n}.m3u8"
	printf 'x' > "segment_${n}.ts"
done
printf '#EXTM3U\n' > master.m3u8
echo "corrupt packet in stream 0" >&2
`)
	source := writeSourceFile(t, dir)

	exec := NewExecutor(Config{
		FFmpegPath: ffmpeg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := exec.Transcode(context.Background(), source, filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("expected failure when ffmpeg writes to stderr")
	}
	var transcodeErr *Error
	if !errors.As(err, &transcodeErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !strings.Contains(transcodeErr.Stderr, "corrupt packet") {
		t.Fatalf("stderr not captured: %q", transcodeErr.Stderr)
	}
}

func TestTranscodeFailsWhenOutputsMissing(t *testing.T) {
	dir := t.TempDir()
	// Succeeds but only writes the master playlist.
	ffmpeg := writeStub(t, dir, "ffmpeg", "printf '#EXTM3U\\n' > master.m3u8\n")
	source := writeSourceFile(t, dir)

	exec := NewExecutor(Config{
		FFmpegPath: ffmpeg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if _, err := exec.Transcode(context.Background(), source, filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected error for missing variant outputs")
	}
}

func TestTranscodeResetsOutputDir(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeStub(t, dir, "ffmpeg", `
for n in 1080p 720p 360p; do
	printf '#EXTM3U\n' > "manifest_${n}.m3u8"
	printf 'x' > "segment_${n}.ts"
done
printf '#EXTM3U\n' > master.m3u8
`)
	ffprobe := writeStub(t, dir, "ffprobe", "printf '%s' '"+probeJSON+"'\n")
	source := writeSourceFile(t, dir)
	outputDir := filepath.Join(dir, "out")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("prepare stale dir: %v", err)
	}
	stale := filepath.Join(outputDir, "stale.ts")
	if err := os.WriteFile(stale, []byte("leftover"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	exec := NewExecutor(Config{
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if _, err := exec.Transcode(context.Background(), source, outputDir); err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale artifact survived the output reset")
	}
}

func TestProbeParsesStreams(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeStub(t, dir, "ffprobe", "printf '%s' '"+probeJSON+"'\n")
	source := writeSourceFile(t, dir)

	exec := NewExecutor(Config{
		FFprobePath: ffprobe,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	info, err := exec.Probe(context.Background(), source)
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if info.Resolution != "1280x720" {
		t.Fatalf("unexpected resolution %q", info.Resolution)
	}
	if info.FrameRate != 29.97 {
		t.Fatalf("unexpected frame rate %v", info.FrameRate)
	}
	if info.VideoCodec != "h264" || info.AudioCodec != "aac" || info.AudioChannels != 2 {
		t.Fatalf("unexpected codec info: %+v", info)
	}
	if info.DurationSeconds != 12.5 || info.SizeBytes != 4096 {
		t.Fatalf("unexpected format info: %+v", info)
	}
	if info.Filename != "source.mp4" {
		t.Fatalf("unexpected filename %q", info.Filename)
	}
}
