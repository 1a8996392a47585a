package transcode

import (
	"strings"
	"testing"
)

func argsContainPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestBuildPlanDefaultLadder(t *testing.T) {
	plan, err := BuildPlan("/uploads/source.mp4", "/videos/abc", DefaultLadder())
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}

	wantFilter := "[0:v]fps=fps=30,split=3[v1][v2][v3];[v1]scale=width=-2:height=1080[1080p];[v2]scale=width=-2:height=720[720p];[v3]scale=width=-2:height=360[360p]"
	if !argsContainPair(plan.Args, "-filter_complex", wantFilter) {
		t.Fatalf("filter graph missing or wrong:\n%s", strings.Join(plan.Args, " "))
	}

	pairs := [][2]string{
		{"-i", "/uploads/source.mp4"},
		{"-map", "[1080p]"},
		{"-maxrate:v:0", "2000000"},
		{"-bufsize:v:0", "4000000"},
		{"-level:v:0", "4.0"},
		{"-map", "[720p]"},
		{"-maxrate:v:1", "1200000"},
		{"-level:v:1", "3.1"},
		{"-map", "[360p]"},
		{"-maxrate:v:2", "700000"},
		{"-b:a:0", "192000"},
		{"-b:a:1", "128000"},
		{"-b:a:2", "96000"},
		{"-hls_time", "6"},
		{"-hls_playlist_type", "vod"},
		{"-hls_flags", "+independent_segments+program_date_time+single_file"},
		{"-master_pl_name", "master.m3u8"},
		{"-var_stream_map", "v:0,a:0,name:1080p v:1,a:1,name:720p v:2,a:2,name:360p"},
		{"-hls_segment_filename", "segment_%v.ts"},
	}
	for _, pair := range pairs {
		if !argsContainPair(plan.Args, pair[0], pair[1]) {
			t.Fatalf("missing %s %s in:\n%s", pair[0], pair[1], strings.Join(plan.Args, " "))
		}
	}
	if plan.Args[len(plan.Args)-1] != "manifest_%v.m3u8" {
		t.Fatalf("last argument should be the playlist pattern, got %q", plan.Args[len(plan.Args)-1])
	}

	if plan.Segments["720"] != "segment_720p.ts" {
		t.Fatalf("unexpected segment name %q", plan.Segments["720"])
	}
	if plan.Playlists["360"] != "manifest_360p.m3u8" {
		t.Fatalf("unexpected playlist name %q", plan.Playlists["360"])
	}
	if !strings.HasSuffix(plan.Master, "master.m3u8") {
		t.Fatalf("unexpected master playlist path %q", plan.Master)
	}
}

func TestBuildPlanRejectsBadInput(t *testing.T) {
	if _, err := BuildPlan("", "/videos/abc", DefaultLadder()); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := BuildPlan("/uploads/source.mp4", "", DefaultLadder()); err == nil {
		t.Fatal("expected error for empty output dir")
	}
	if _, err := BuildPlan("/uploads/source.mp4", "/videos/abc", nil); err == nil {
		t.Fatal("expected error for empty ladder")
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"bad", 0},
	}
	for _, tc := range cases {
		if got := parseFrameRate(tc.in); got != tc.want {
			t.Fatalf("parseFrameRate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
