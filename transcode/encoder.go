package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/TiunovNN/video-compression-model/log"
	"github.com/TiunovNN/video-compression-model/metrics"
	"github.com/TiunovNN/video-compression-model/model"
	"github.com/TiunovNN/video-compression-model/subprocess"
)

// Encoder drives the ffmpeg x265 encode of a source URL into a local
// temp file. TimeoutFactor bounds the encode wall time as a multiple of
// the source duration; zero disables the deadline.
type Encoder struct {
	TimeoutFactor float64
}

// inputArgs make ffmpeg survive flaky presigned-URL reads: long encodes
// outlive load balancer idle timeouts and transient 5xx from the object
// store.
func inputArgs(sourceURL string) []string {
	return []string{
		"-seekable", "1",
		"-reconnect_delay_max", "300",
		"-multiple_requests", "1",
		"-reconnect_on_http_error", "429,5xx",
		"-reconnect_on_network_error", "1",
		"-i", sourceURL,
	}
}

// paramArgs pick the rate-control setting. Anything short of a usable
// prediction encodes at the conservative CRF fallback.
func paramArgs(params *model.Prediction) []string {
	args := []string{"-c:v", "libx265", "-preset", "veryslow"}
	if params == nil || params.Status == model.StatusFailed {
		return append(args, "-crf", strconv.Itoa(model.FallbackCRF))
	}
	return append(args, "-"+params.Parameter, strconv.Itoa(params.Value))
}

func outputArgs(outPath string) []string {
	return []string{
		"-codec:a", "copy",
		"-sn",
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		outPath,
	}
}

func encodeArgs(sourceURL string, params *model.Prediction, outPath string) []string {
	args := inputArgs(sourceURL)
	args = append(args, paramArgs(params)...)
	return append(args, outputArgs(outPath)...)
}

// Encode runs ffmpeg and returns the path of the encoded temp file. The
// caller owns the file and removes it after upload. On error no file is
// left behind.
func (e *Encoder) Encode(ctx context.Context, taskID, sourceURL string, params *model.Prediction, duration time.Duration) (string, error) {
	out, err := os.CreateTemp("", "encoded-*.mp4")
	if err != nil {
		return "", fmt.Errorf("creating encode output file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	if e.TimeoutFactor > 0 && duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.TimeoutFactor*float64(duration)))
		defer cancel()
	}

	ffmpegPath, err := findFfmpeg()
	if err != nil {
		os.Remove(outPath)
		return "", err
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, encodeArgs(sourceURL, params, outPath)...)
	stderr := &subprocess.Tail{Limit: subprocess.DefaultTailLimit}
	cmd.Stderr = stderr

	log.Log(taskID, "starting encode", "args", fmt.Sprintf("%v", paramArgs(params)))
	start := time.Now()
	err = cmd.Run()
	metrics.Metrics.EncoderSubprocessDurationSec.Observe(time.Since(start).Seconds())
	if err != nil {
		os.Remove(outPath)
		if ctx.Err() != nil {
			return "", fmt.Errorf("encode aborted after %s: %w", time.Since(start), ctx.Err())
		}
		return "", fmt.Errorf("ffmpeg encode failed: %w: %s", err, stderr.String())
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg exited cleanly but produced no output")
	}
	log.Log(taskID, "encode finished", "duration", time.Since(start), "output_bytes", info.Size())
	return outPath, nil
}

// findFfmpeg looks on PATH first and falls back to a binary shipped next
// to the worker executable.
func findFfmpeg() (string, error) {
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	sibling := filepath.Join(filepath.Dir(self), "ffmpeg")
	if _, err := os.Stat(sibling); err != nil {
		return "", fmt.Errorf("ffmpeg not found on PATH or next to the executable")
	}
	return sibling, nil
}
