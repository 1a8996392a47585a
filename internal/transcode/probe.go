package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"vodserve/internal/models"
)

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Channels     int    `json:"channels"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Probe inspects a media file with ffprobe and maps the first video and
// audio streams into MediaInfo.
func (e *Executor) Probe(ctx context.Context, path string) (models.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return models.MediaInfo{}, &Error{
			Op:     "probe",
			Stderr: tail(stderr.String()),
			Err:    err,
		}
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return models.MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var video, audio *probeStream
	for i := range out.Streams {
		stream := &out.Streams[i]
		switch stream.CodecType {
		case "video":
			if video == nil {
				video = stream
			}
		case "audio":
			if audio == nil {
				audio = stream
			}
		}
	}
	if video == nil {
		return models.MediaInfo{}, fmt.Errorf("no video stream in %s", filepath.Base(path))
	}

	info := models.MediaInfo{
		Filename:        filepath.Base(path),
		SizeBytes:       parseInt64(out.Format.Size),
		DurationSeconds: parseFloat(out.Format.Duration),
		FrameRate:       parseFrameRate(video.AvgFrameRate),
		Resolution:      fmt.Sprintf("%dx%d", video.Width, video.Height),
		VideoCodec:      video.CodecName,
		VideoBitrate:    parseInt64(video.BitRate),
		OverallBitrate:  parseInt64(out.Format.BitRate),
	}
	if info.SizeBytes == 0 {
		if stat, err := os.Stat(path); err == nil {
			info.SizeBytes = stat.Size()
		}
	}
	if audio != nil {
		info.AudioCodec = audio.CodecName
		info.AudioBitrate = parseInt64(audio.BitRate)
		info.AudioChannels = audio.Channels
	}
	return info, nil
}

func parseInt64(value string) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseFloat(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return parsed
}

// parseFrameRate evaluates ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0/0" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	if !found {
		return parseFloat(value)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	rate := n / d
	return float64(int(rate*100+0.5)) / 100
}
