package transcode

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Rung is one output variant of the transcoding ladder.
type Rung struct {
	// Name is the resolution label used in playlist names and the API,
	// e.g. "1080".
	Name string
	// Height in pixels; width follows the source aspect ratio.
	Height int
	// MaxRate caps the video bitrate in bits per second.
	MaxRate int64
	// Level is the H.264 level for the variant.
	Level string
	// AudioBitrate in bits per second.
	AudioBitrate int64
}

// DefaultLadder mirrors the standard VOD output set: three H.264 variants at
// 30 fps with stepped bitrates.
func DefaultLadder() []Rung {
	return []Rung{
		{Name: "1080", Height: 1080, MaxRate: 2_000_000, Level: "4.0", AudioBitrate: 192_000},
		{Name: "720", Height: 720, MaxRate: 1_200_000, Level: "3.1", AudioBitrate: 128_000},
		{Name: "360", Height: 360, MaxRate: 700_000, Level: "3.1", AudioBitrate: 96_000},
	}
}

const masterPlaylistName = "master.m3u8"

// Plan is a fully resolved ffmpeg invocation plus the output files it is
// expected to produce.
type Plan struct {
	Args      []string
	OutputDir string
	// Master is the path of the master playlist inside OutputDir.
	Master string
	// Segments maps rung names to their single-file segment outputs.
	Segments map[string]string
	// Playlists maps rung names to their media playlists.
	Playlists map[string]string
}

// BuildPlan assembles the ffmpeg argument list for one source file. Each
// rung becomes an HLS variant written as a single .ts file with its own
// media playlist, all referenced from a master playlist.
func BuildPlan(input, outputDir string, ladder []Rung) (*Plan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input source is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if len(ladder) == 0 {
		return nil, fmt.Errorf("transcoding ladder is empty")
	}

	// One fps-normalized split feeds a scaler per rung:
	// [0:v]fps=fps=30,split=3[v1][v2][v3];[v1]scale=...[1080p];...
	splitOutputs := make([]string, 0, len(ladder))
	scales := make([]string, 0, len(ladder))
	for i, rung := range ladder {
		in := fmt.Sprintf("[v%d]", i+1)
		out := fmt.Sprintf("[%sp]", rung.Name)
		splitOutputs = append(splitOutputs, in)
		scales = append(scales, fmt.Sprintf("%sscale=width=-2:height=%d%s", in, rung.Height, out))
	}
	filter := fmt.Sprintf("[0:v]fps=fps=30,split=%d%s;%s",
		len(ladder), strings.Join(splitOutputs, ""), strings.Join(scales, ";"))

	args := []string{
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-filter_complex", filter,
		"-codec:v", "libx264",
		"-crf:v", "23",
		"-profile:v", "high",
		"-pix_fmt:v", "yuv420p",
		"-rc-lookahead:v", "60",
		"-force_key_frames:v", "expr:gte(t,n_forced*2.000)",
		"-b-pyramid:v", "strict",
		"-preset:v", "medium",
	}
	for i, rung := range ladder {
		args = append(args,
			"-map", fmt.Sprintf("[%sp]", rung.Name),
			fmt.Sprintf("-maxrate:v:%d", i), fmt.Sprintf("%d", rung.MaxRate),
			fmt.Sprintf("-bufsize:v:%d", i), fmt.Sprintf("%d", 2*rung.MaxRate),
			fmt.Sprintf("-level:v:%d", i), rung.Level,
		)
	}
	args = append(args, "-codec:a", "aac", "-ac:a", "2")
	for i, rung := range ladder {
		args = append(args,
			"-map", "0:a:0",
			fmt.Sprintf("-b:a:%d", i), fmt.Sprintf("%d", rung.AudioBitrate),
		)
	}

	varStreamMap := make([]string, 0, len(ladder))
	segments := make(map[string]string, len(ladder))
	playlists := make(map[string]string, len(ladder))
	for i, rung := range ladder {
		varStreamMap = append(varStreamMap, fmt.Sprintf("v:%d,a:%d,name:%sp", i, i, rung.Name))
		segments[rung.Name] = fmt.Sprintf("segment_%sp.ts", rung.Name)
		playlists[rung.Name] = fmt.Sprintf("manifest_%sp.m3u8", rung.Name)
	}
	args = append(args,
		"-f", "hls",
		"-hls_flags", "+independent_segments+program_date_time+single_file",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-master_pl_name", masterPlaylistName,
		"-var_stream_map", strings.Join(varStreamMap, " "),
		"-hls_segment_filename", "segment_%v.ts",
		"manifest_%v.m3u8",
	)

	return &Plan{
		Args:      args,
		OutputDir: outputDir,
		Master:    filepath.Join(outputDir, masterPlaylistName),
		Segments:  segments,
		Playlists: playlists,
	}, nil
}
