package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Thumbnail grabs a single frame one second into the source and scales it to
// 640 pixels wide, writing a JPEG at outputPath.
func (e *Executor) Thumbnail(ctx context.Context, input, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-loglevel", "error",
		"-y",
		"-ss", "00:00:01.000",
		"-i", input,
		"-vframes", "1",
		"-vf", "scale=640:-2",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Op: "thumbnail", Stderr: tail(stderr.String()), Err: err}
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("thumbnail missing after generation: %w", err)
	}
	return nil
}
