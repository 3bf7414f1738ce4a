package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/TiunovNN/video-compression-model/log"
	"github.com/TiunovNN/video-compression-model/subprocess"
)

// FrameSource streams decoded frames from a URL-addressable video. It runs
// an ffmpeg subprocess emitting raw planar frames on stdout and per-frame
// metadata (pts, keyframe flag) through the showinfo filter on stderr. The
// input leg carries the same HTTP reconnect flags as the encoder, so
// decoding a multi-GB source over a presigned URL survives transient
// network faults.
//
// Iteration is single-pass: Next reuses the frame buffer, so callers must
// not retain plane data past the following Next call.
type FrameSource struct {
	info      SourceInfo
	dims      [][2]int
	frameSize int

	cmd        *exec.Cmd
	stdout     *bufio.Reader
	stderrTail *subprocess.Tail
	meta       chan frameMeta
	scanDone   chan struct{}
	watchStop  chan struct{}
	watchOnce  sync.Once

	buf   []byte
	index int
	done  bool
}

type frameMeta struct {
	n        int
	pts      int64
	keyframe bool
}

// inputArgs is the reconnect-capable flag group shared with the encoder.
func inputArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"seekable":                   1,
		"reconnect_delay_max":        300,
		"multiple_requests":          1,
		"reconnect_on_http_error":    "429,5xx",
		"reconnect_on_network_error": 1,
	}
}

func OpenFrameSource(ctx context.Context, url string, info SourceInfo) (*FrameSource, error) {
	dims, err := planeDims(info.PixFmt, info.Width, info.Height)
	if err != nil {
		return nil, err
	}
	frameSize := 0
	for _, d := range dims {
		frameSize += d[0] * d[1]
	}

	cmd := ffmpeg.Input(url, inputArgs()).
		Output("pipe:1", ffmpeg.KwArgs{
			"f":       "rawvideo",
			"pix_fmt": info.PixFmt,
			"vf":      "showinfo",
			"an":      "",
			"sn":      "",
		}).
		GlobalArgs("-hide_banner", "-loglevel", "info", "-nostats").
		Compile()
	cmd.Stdout = nil
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	fs := &FrameSource{
		info:       info,
		dims:       dims,
		frameSize:  frameSize,
		cmd:        cmd,
		stdout:     bufio.NewReaderSize(stdout, 1<<20),
		stderrTail: subprocess.NewTail(),
		meta:       make(chan frameMeta, 64),
		scanDone:   make(chan struct{}),
		watchStop:  make(chan struct{}),
		buf:        make([]byte, frameSize),
	}
	go fs.scanStderr(stderr)

	// Tear the subprocess down if the surrounding job is cancelled. The
	// watcher exits with the source so a long-lived worker does not pile
	// these up.
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-fs.watchStop:
		}
	}()

	return fs, nil
}

var showinfoRe = regexp.MustCompile(`n:\s*(\d+)\s+pts:\s*(-?\d+).*\biskey:(\d)`)

func (fs *FrameSource) scanStderr(r io.Reader) {
	defer close(fs.scanDone)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m, ok := parseShowinfoLine(line)
		if !ok {
			_, _ = fs.stderrTail.Write([]byte(line + "\n"))
			continue
		}
		select {
		case fs.meta <- m:
		default:
			// Metadata backlog; the decode loop fell behind, drop the entry
			// and let Next fall back to computed timing.
		}
	}
	close(fs.meta)
}

func parseShowinfoLine(line string) (frameMeta, bool) {
	groups := showinfoRe.FindStringSubmatch(line)
	if groups == nil {
		return frameMeta{}, false
	}
	n, err := strconv.Atoi(groups[1])
	if err != nil {
		return frameMeta{}, false
	}
	pts, err := strconv.ParseInt(groups[2], 10, 64)
	if err != nil {
		return frameMeta{}, false
	}
	return frameMeta{n: n, pts: pts, keyframe: groups[3] == "1"}, true
}

// Next returns the next decoded frame, or io.EOF once the stream ends.
func (fs *FrameSource) Next() (*Frame, error) {
	if fs.done {
		return nil, io.EOF
	}
	_, err := io.ReadFull(fs.stdout, fs.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		fs.done = true
		waitErr := fs.reap()
		if waitErr != nil {
			return nil, fmt.Errorf("decoder exited: %s: %s", waitErr, fs.stderrTail.String())
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame at index %d: %s", fs.index, fs.stderrTail.String())
		}
		if fs.index == 0 {
			return nil, fmt.Errorf("decoder produced no frames: %s", fs.stderrTail.String())
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("error reading decoded frame: %w", err)
	}

	frame := &Frame{
		Index:  fs.index,
		Width:  fs.info.Width,
		Height: fs.info.Height,
		PixFmt: fs.info.PixFmt,
		Planes: make([]Plane, len(fs.dims)),
	}
	offset := 0
	for i, d := range fs.dims {
		size := d[0] * d[1]
		frame.Planes[i] = Plane{Width: d[0], Height: d[1], Data: fs.buf[offset : offset+size]}
		offset += size
	}

	meta := fs.popMeta()
	frame.PTS = meta.pts
	frame.DTS = meta.pts
	frame.Keyframe = meta.keyframe

	fs.index++
	return frame, nil
}

// popMeta pairs the frame being returned with its showinfo entry. If the
// entry is not available the timing is computed from the frame index.
func (fs *FrameSource) popMeta() frameMeta {
	computed := frameMeta{
		n:        fs.index,
		pts:      fs.computedPTS(fs.index),
		keyframe: fs.index == 0,
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-fs.meta:
			if !ok {
				return computed
			}
			if m.n < fs.index {
				continue
			}
			if m.n > fs.index {
				log.LogNoTaskID("showinfo metadata skipped ahead", "want", fs.index, "got", m.n)
				return computed
			}
			return m
		case <-deadline:
			return computed
		}
	}
}

func (fs *FrameSource) computedPTS(index int) int64 {
	if fs.info.FPS <= 0 || fs.info.TimeBaseNum <= 0 {
		return int64(index)
	}
	secondsPerFrame := 1 / fs.info.FPS
	ticksPerSecond := float64(fs.info.TimeBaseDen) / float64(fs.info.TimeBaseNum)
	return int64(float64(index) * secondsPerFrame * ticksPerSecond)
}

// reap joins the stderr scanner, releases the cancellation watcher and
// waits on the subprocess. Wait must not run while the scanner still
// reads the stderr pipe, or the tail can lose the decoder's last words.
func (fs *FrameSource) reap() error {
	<-fs.scanDone
	fs.watchOnce.Do(func() { close(fs.watchStop) })
	return fs.cmd.Wait()
}

// Close terminates the decoder subprocess. Safe to call after EOF.
func (fs *FrameSource) Close() error {
	fs.watchOnce.Do(func() { close(fs.watchStop) })
	if fs.cmd.Process != nil && !fs.done {
		_ = fs.cmd.Process.Kill()
		_ = fs.reap()
		fs.done = true
	}
	return nil
}
