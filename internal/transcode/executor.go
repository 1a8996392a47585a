package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"vodserve/internal/models"

	"golang.org/x/sync/errgroup"
)

// Error wraps an ffmpeg or ffprobe failure together with the tail of its
// stderr output.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

const stderrTailBytes = 2048

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailBytes {
		return s
	}
	return s[len(s)-stderrTailBytes:]
}

// Result describes the artifacts a finished transcode produced.
type Result struct {
	Renditions           map[string]models.Rendition
	AvailableResolutions []string
	MasterPlaylist       string
}

// Config configures an Executor.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	Ladder      []Rung
	Logger      *slog.Logger
}

// Executor runs ffmpeg transcodes and ffprobe inspections as child
// processes.
type Executor struct {
	ffmpegPath  string
	ffprobePath string
	ladder      []Rung
	logger      *slog.Logger
}

// NewExecutor applies defaults and builds an executor. Binary paths fall
// back to "ffmpeg" and "ffprobe" on PATH.
func NewExecutor(cfg Config) *Executor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if len(cfg.Ladder) == 0 {
		cfg.Ladder = DefaultLadder()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		ladder:      cfg.Ladder,
		logger:      cfg.Logger,
	}
}

// Ladder returns the configured rung set.
func (e *Executor) Ladder() []Rung {
	return append([]Rung(nil), e.ladder...)
}

// Transcode renders the full ladder for one source file into outputDir. The
// directory is recreated first so a retried job never mixes old and new
// artifacts. On success every expected segment and playlist has been
// verified and probed.
func (e *Executor) Transcode(ctx context.Context, input, outputDir string) (*Result, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("source file: %w", err)
	}
	if err := os.RemoveAll(outputDir); err != nil {
		return nil, fmt.Errorf("reset output dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	plan, err := BuildPlan(input, outputDir, e.ladder)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, plan.Args...)
	cmd.Dir = outputDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	e.logger.Debug("starting ffmpeg", "input", input, "outputDir", outputDir)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Op: "transcode", Stderr: tail(stderr.String()), Err: err}
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		// ffmpeg runs with -loglevel error, so anything on stderr is a real
		// problem even when the exit status is zero.
		return nil, &Error{Op: "transcode", Stderr: tail(msg), Err: errors.New("ffmpeg reported errors")}
	}

	return e.collectResult(ctx, plan)
}

// collectResult verifies the plan's outputs exist and probes each segment
// for its final size and bitrate.
func (e *Executor) collectResult(ctx context.Context, plan *Plan) (*Result, error) {
	if _, err := os.Stat(plan.Master); err != nil {
		return nil, fmt.Errorf("master playlist missing: %w", err)
	}

	var mu sync.Mutex
	renditions := make(map[string]models.Rendition, len(plan.Segments))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(2)
	for name := range plan.Segments {
		name := name
		group.Go(func() error {
			segment := filepath.Join(plan.OutputDir, plan.Segments[name])
			playlist := filepath.Join(plan.OutputDir, plan.Playlists[name])
			if _, err := os.Stat(playlist); err != nil {
				return fmt.Errorf("playlist for %s missing: %w", name, err)
			}
			stat, err := os.Stat(segment)
			if err != nil {
				return fmt.Errorf("segment for %s missing: %w", name, err)
			}
			info, err := e.Probe(groupCtx, segment)
			if err != nil {
				return fmt.Errorf("probe rendition %s: %w", name, err)
			}
			mu.Lock()
			renditions[name] = models.Rendition{
				Filename:  plan.Segments[name],
				Playlist:  plan.Playlists[name],
				SizeBytes: stat.Size(),
				Bitrate:   info.OverallBitrate,
				Codec:     info.VideoCodec,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	available := make([]string, 0, len(e.ladder))
	for _, rung := range e.ladder {
		available = append(available, rung.Name)
	}
	return &Result{
		Renditions:           renditions,
		AvailableResolutions: available,
		MasterPlaylist:       plan.Master,
	}, nil
}
