package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/TiunovNN/video-compression-model/log"
)

// ErrNoVideoStream is returned when the probed container carries no video.
var ErrNoVideoStream = errors.New("no video stream found")

type Prober interface {
	ProbeSource(taskID, url string) (SourceInfo, error)
}

type Probe struct{}

func (p Probe) ProbeSource(taskID, url string) (SourceInfo, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, url, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return SourceInfo{}, fmt.Errorf("error probing: %w", err)
	}

	info, err := parseProbeData(data)
	if err != nil {
		return SourceInfo{}, err
	}
	log.Log(taskID, "probed source",
		"width", info.Width, "height", info.Height,
		"pix_fmt", info.PixFmt, "duration_ms", info.DurationMS, "fps", info.FPS)
	return info, nil
}

func parseProbeData(data *ffprobe.ProbeData) (SourceInfo, error) {
	stream := data.FirstVideoStream()
	if stream == nil {
		return SourceInfo{}, ErrNoVideoStream
	}
	if data.Format == nil {
		return SourceInfo{}, errors.New("error parsing input video: format information missing")
	}

	info := SourceInfo{
		Width:  stream.Width,
		Height: stream.Height,
		PixFmt: normalizePixFmt(stream.PixFmt),
		Format: data.Format.FormatName,
	}
	if info.Width <= 0 || info.Height <= 0 {
		return SourceInfo{}, fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}

	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = data.Format.DurationSeconds
	}
	info.DurationMS = int64(duration * 1000)

	info.TimeBaseNum, info.TimeBaseDen = parseTimeBase(stream.TimeBase)
	info.DurationTS = int64(stream.DurationTs)
	if info.DurationTS == 0 && info.TimeBaseNum > 0 {
		info.DurationTS = int64(duration * float64(info.TimeBaseDen) / float64(info.TimeBaseNum))
	}

	info.FPS, err = parseFps(stream.AvgFrameRate)
	if err != nil || info.FPS == 0 {
		info.FPS, _ = parseFps(stream.RFrameRate)
	}

	if size, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
		info.SizeBytes = size
	}
	return info, nil
}

func parseTimeBase(tb string) (num, den int) {
	parts := strings.SplitN(tb, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	den, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0
	}
	return num, den
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) == 1 {
		return strconv.ParseFloat(framerate, 64)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing fps numerator %q: %w", framerate, err)
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing fps denominator %q: %w", framerate, err)
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}
