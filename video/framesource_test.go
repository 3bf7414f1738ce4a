package video

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TiunovNN/video-compression-model/subprocess"
)

func TestParseShowinfoLine(t *testing.T) {
	line := "[Parsed_showinfo_0 @ 0x5587] n:   3 pts:   1536 pts_time:0.12    pos:     3656 fmt:yuv420p sar:1/1 s:64x64 i:P iskey:1 type:I checksum:8DA63041"
	m, ok := parseShowinfoLine(line)
	require.True(t, ok)
	require.Equal(t, 3, m.n)
	require.Equal(t, int64(1536), m.pts)
	require.True(t, m.keyframe)
}

func TestParseShowinfoLineNonKeyframe(t *testing.T) {
	line := "[Parsed_showinfo_0 @ 0x5587] n:  10 pts:  -1024 pts_time:-0.08 fmt:yuv420p s:64x64 i:P iskey:0 type:B checksum:0"
	m, ok := parseShowinfoLine(line)
	require.True(t, ok)
	require.Equal(t, 10, m.n)
	require.Equal(t, int64(-1024), m.pts)
	require.False(t, m.keyframe)
}

func TestParseShowinfoIgnoresOtherLines(t *testing.T) {
	_, ok := parseShowinfoLine("Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'in.mp4':")
	require.False(t, ok)
	_, ok = parseShowinfoLine("[Parsed_showinfo_0 @ 0x5587] color_range:tv color_space:bt709")
	require.False(t, ok)
}

func TestScanStderrSignalsCompletion(t *testing.T) {
	fs := &FrameSource{
		stderrTail: subprocess.NewTail(),
		meta:       make(chan frameMeta, 64),
		scanDone:   make(chan struct{}),
	}
	stderr := "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'in.mp4':\n" +
		"[Parsed_showinfo_0 @ 0x1] n:   0 pts:      0 pts_time:0 fmt:gray s:8x8 i:P iskey:1 type:I checksum:0\n" +
		"in.mp4: decode error\n"
	fs.scanStderr(strings.NewReader(stderr))

	// The scanner owns the stderr pipe until it signals done; reap blocks
	// on this signal before calling Wait.
	select {
	case <-fs.scanDone:
	default:
		t.Fatal("scanner returned without signalling completion")
	}

	m := <-fs.meta
	require.Equal(t, 0, m.n)
	require.True(t, m.keyframe)
	_, open := <-fs.meta
	require.False(t, open)
	require.Contains(t, fs.stderrTail.String(), "decode error")
}

func TestPlaneDims(t *testing.T) {
	tests := []struct {
		pixFmt string
		w, h   int
		want   [][2]int
	}{
		{"yuv420p", 64, 64, [][2]int{{64, 64}, {32, 32}, {32, 32}}},
		{"yuv420p", 65, 65, [][2]int{{65, 65}, {33, 33}, {33, 33}}},
		{"yuv422p", 64, 64, [][2]int{{64, 64}, {32, 64}, {32, 64}}},
		{"yuv444p", 64, 64, [][2]int{{64, 64}, {64, 64}, {64, 64}}},
		{"gray", 64, 64, [][2]int{{64, 64}}},
	}
	for _, tt := range tests {
		dims, err := planeDims(tt.pixFmt, tt.w, tt.h)
		require.NoError(t, err, tt.pixFmt)
		require.Equal(t, tt.want, dims, tt.pixFmt)
	}

	_, err := planeDims("nv12", 64, 64)
	require.Error(t, err)
}

func TestNormalizePixFmt(t *testing.T) {
	require.Equal(t, "yuv420p", normalizePixFmt("yuv420p10le"))
	require.Equal(t, "yuv444p", normalizePixFmt("yuv444p"))
	require.Equal(t, "gray", normalizePixFmt("gray"))
}

func TestParseFps(t *testing.T) {
	fps, err := parseFps("30000/1001")
	require.NoError(t, err)
	require.InDelta(t, 29.97, fps, 0.001)

	fps, err = parseFps("25")
	require.NoError(t, err)
	require.Equal(t, float64(25), fps)

	fps, err = parseFps("0/0")
	require.NoError(t, err)
	require.Equal(t, float64(0), fps)
}

func TestParseTimeBase(t *testing.T) {
	num, den := parseTimeBase("1/12800")
	require.Equal(t, 1, num)
	require.Equal(t, 12800, den)

	num, den = parseTimeBase("bogus")
	require.Equal(t, 0, num)
	require.Equal(t, 0, den)
}
