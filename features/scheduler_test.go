package features

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TiunovNN/video-compression-model/video"
)

type sliceReader struct {
	frames []*video.Frame
	next   int
	err    error
}

func (r *sliceReader) Next() (*video.Frame, error) {
	if r.next >= len(r.frames) {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}
	f := r.frames[r.next]
	r.next++
	return f, nil
}

// rampFrames grow by a constant 7 per frame so the temporal diff is exact.
func rampFrames(n int) []*video.Frame {
	frames := make([]*video.Frame, n)
	for i := range frames {
		frames[i] = grayFrame(i, 8, 8, func(r, c int) uint8 {
			return uint8(i*7 + r*3 + c)
		})
		frames[i].PTS = int64(i * 512)
		frames[i].Keyframe = i == 0
	}
	return frames
}

func runScheduler(t *testing.T, workers, lookahead int, frames []*video.Frame) []*FrameRow {
	t.Helper()
	reg, err := NewCanonicalRegistry()
	require.NoError(t, err)
	var rows []*FrameRow
	err = NewScheduler(reg, workers, lookahead).Run(context.Background(), &sliceReader{frames: frames}, func(row *FrameRow) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	return rows
}

func TestSchedulerSerial(t *testing.T) {
	rows := runScheduler(t, 1, 1, rampFrames(4))
	require.Len(t, rows, 4)

	for i, row := range rows {
		require.Equal(t, i, row.Index)
		require.Equal(t, 8, row.Width)
		require.Equal(t, int64(i*512), row.PTS)
		// Luma mean of the ramp: i*7 + 3*mean(r) + mean(c).
		require.InDelta(t, float64(i*7)+14, row.Values["CTI_mean"], 1e-9)
	}

	// First frame has no temporal diff.
	require.True(t, math.IsNaN(rows[0].Values["TI_mean"]))
	for _, row := range rows[1:] {
		require.InDelta(t, 7, row.Values["TI_mean"], 1e-9)
		require.InDelta(t, 0, row.Values["TI_std"], 1e-9)
	}
}

func TestSchedulerParallelMatchesSerial(t *testing.T) {
	frames := rampFrames(6)
	serial := runScheduler(t, 1, 1, frames)
	parallel := runScheduler(t, 4, 3, frames)

	require.Len(t, parallel, len(serial))
	for i := range serial {
		require.Equal(t, serial[i].Index, parallel[i].Index)
		require.Equal(t, len(serial[i].Values), len(parallel[i].Values))
		for name, want := range serial[i].Values {
			got := parallel[i].Values[name]
			if math.IsNaN(want) {
				require.True(t, math.IsNaN(got), "frame %d %s", i, name)
				continue
			}
			require.InDelta(t, want, got, 1e-9, "frame %d %s", i, name)
		}
	}
}

func TestSchedulerSourceError(t *testing.T) {
	reg, err := NewCanonicalRegistry()
	require.NoError(t, err)
	boom := errors.New("decode exploded")
	src := &sliceReader{frames: rampFrames(2), err: boom}

	var rows []*FrameRow
	err = NewScheduler(reg, 2, 2).Run(context.Background(), src, func(row *FrameRow) error {
		rows = append(rows, row)
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestSchedulerEmitError(t *testing.T) {
	reg, err := NewCanonicalRegistry()
	require.NoError(t, err)
	boom := errors.New("sink full")

	err = NewScheduler(reg, 2, 2).Run(context.Background(), &sliceReader{frames: rampFrames(4)}, func(row *FrameRow) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestSchedulerInlineSet(t *testing.T) {
	reg, err := NewCanonicalRegistry()
	require.NoError(t, err)
	s := NewScheduler(reg, 2, 2)
	inline := s.inlineSet()

	// Frame roots and the stateful diff chain stay on the decode
	// goroutine.
	require.True(t, inline["Y"])
	require.True(t, inline["U"])
	require.True(t, inline["V"])
	require.True(t, inline["TI"])

	// Pure per-frame work fans out.
	require.False(t, inline["SI"])
	require.False(t, inline["GLCM"])
	require.False(t, inline["FHV13_frames"])
	require.False(t, inline["CTI_mean"])
}
