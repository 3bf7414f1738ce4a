package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/TiunovNN/video-compression-model/clients"
	"github.com/TiunovNN/video-compression-model/config"
	"github.com/TiunovNN/video-compression-model/features"
	"github.com/TiunovNN/video-compression-model/log"
	"github.com/TiunovNN/video-compression-model/metrics"
	"github.com/TiunovNN/video-compression-model/model"
	"github.com/TiunovNN/video-compression-model/queue"
	"github.com/TiunovNN/video-compression-model/store"
	"github.com/TiunovNN/video-compression-model/transcode"
	"github.com/TiunovNN/video-compression-model/video"
)

// Predictor is the slice of the model package the coordinator needs.
type Predictor interface {
	Predict(descriptors map[string]float64) (model.Prediction, error)
}

// Encoder drives one encode into a local temp file owned by the caller.
type Encoder interface {
	Encode(ctx context.Context, taskID, sourceURL string, params *model.Prediction, duration time.Duration) (string, error)
}

type frameSource interface {
	features.FrameReader
	Close() error
}

// Coordinator owns the worker side of a task's lifecycle. Every handler
// claims the task first: with at-least-once delivery a redelivered job
// for a finished task must land as a clean no-op, and Claim is the single
// gate deciding that.
type Coordinator struct {
	repo      store.Repository
	objects   clients.ObjectStore
	publisher queue.Publisher
	prober    video.Prober
	predictor Predictor
	encoder   Encoder
	workers   int
	lookahead int

	openSource func(ctx context.Context, url string, info video.SourceInfo) (frameSource, error)
}

func NewCoordinator(repo store.Repository, objects clients.ObjectStore, publisher queue.Publisher, prober video.Prober, predictor Predictor, encoder Encoder, workers, lookahead int) *Coordinator {
	return &Coordinator{
		repo:      repo,
		objects:   objects,
		publisher: publisher,
		prober:    prober,
		predictor: predictor,
		encoder:   encoder,
		workers:   workers,
		lookahead: lookahead,
		openSource: func(ctx context.Context, url string, info video.SourceInfo) (frameSource, error) {
			return video.OpenFrameSource(ctx, url, info)
		},
	}
}

var _ queue.Handler = (*Coordinator)(nil)

// HandleAnalyze extracts stream features, predicts the encode parameter
// and chains the transcode job. Task-level failures mark the task failed
// and consume the message; only claim-level infrastructure errors bubble
// up.
func (c *Coordinator) HandleAnalyze(ctx context.Context, job queue.AnalyzeJob) error {
	task, ok, err := c.claim(ctx, job.TaskID)
	if err != nil || !ok {
		return err
	}
	id := task.ID
	log.AddContext(job.TaskID, "source_key", job.SourceKey)

	start := time.Now()
	descriptors, err := c.analyze(ctx, job)
	if err != nil {
		metrics.Metrics.AnalyzeDurationSec.WithLabelValues("false").Observe(time.Since(start).Seconds())
		c.fail(ctx, id, job.TaskID, fmt.Errorf("analysis failed: %w", err))
		return nil
	}
	metrics.Metrics.AnalyzeDurationSec.WithLabelValues("true").Observe(time.Since(start).Seconds())

	prediction, err := c.predictor.Predict(descriptors)
	if err != nil {
		// The failed prediction still flows downstream; the encoder
		// degrades to the fallback setting.
		log.LogError(job.TaskID, "prediction failed, degrading to fallback", err)
	} else {
		log.Log(job.TaskID, "predicted encode parameter",
			"status", prediction.Status, "parameter", prediction.Parameter,
			"value", prediction.Value, "quality", prediction.Quality)
	}

	transcodeJob := queue.TranscodeJob{TaskID: job.TaskID, Params: &prediction}
	if err := c.publisher.PublishTranscode(ctx, transcodeJob); err != nil {
		c.fail(ctx, id, job.TaskID, fmt.Errorf("enqueueing transcode: %w", err))
		return nil
	}
	return nil
}

// HandleTranscode encodes the claimed task's source with the predicted
// parameters, uploads the result and completes the task.
func (c *Coordinator) HandleTranscode(ctx context.Context, job queue.TranscodeJob) error {
	task, ok, err := c.claim(ctx, job.TaskID)
	if err != nil || !ok {
		return err
	}
	id := task.ID

	url, err := c.objects.PresignGet(task.SourceFile, config.WorkerPresignExpiry)
	if err != nil {
		c.fail(ctx, id, job.TaskID, fmt.Errorf("presigning source: %w", err))
		return nil
	}
	info, err := c.prober.ProbeSource(job.TaskID, url)
	if err != nil {
		c.fail(ctx, id, job.TaskID, fmt.Errorf("probing source: %w", err))
		return nil
	}

	start := time.Now()
	outPath, err := c.encoder.Encode(ctx, job.TaskID, url, job.Params, time.Duration(info.DurationMS)*time.Millisecond)
	if err != nil {
		metrics.Metrics.TranscodeDurationSec.WithLabelValues("false").Observe(time.Since(start).Seconds())
		c.fail(ctx, id, job.TaskID, fmt.Errorf("encode failed: %w", err))
		return nil
	}
	defer os.Remove(outPath)
	metrics.Metrics.TranscodeDurationSec.WithLabelValues("true").Observe(time.Since(start).Seconds())

	key := clients.EncodedKey()
	size, err := c.objects.UploadFile(ctx, key, outPath, "video/mp4")
	if err != nil {
		c.fail(ctx, id, job.TaskID, fmt.Errorf("uploading encoded output: %w", err))
		return nil
	}

	if err := c.repo.MarkCompleted(ctx, id, key, size); err != nil {
		// The returned error requeues the job; Claim admits processing
		// tasks, so a redelivery retries the encode and this write.
		log.LogError(job.TaskID, "error completing task", err)
		return err
	}
	if job.Params == nil || job.Params.Status != model.StatusSuccess {
		metrics.Metrics.PredictorFallbackCount.Inc()
	}
	metrics.Metrics.TaskTerminalCount.WithLabelValues(string(store.TaskStatusCompleted)).Inc()
	log.Log(job.TaskID, "task completed", "output_file", key, "output_size", size)
	return nil
}

// claim parses the task id and moves the task into processing. A false
// return with a nil error means the message is spent: finished and
// missing tasks ack without work. An infrastructure error from the store
// comes back non-nil so the job is redelivered instead of lost.
func (c *Coordinator) claim(ctx context.Context, taskID string) (*store.Task, bool, error) {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		log.LogNoTaskID("dropping job with malformed task id", "task_id", taskID, "err", err)
		return nil, false, nil
	}
	task, err := c.repo.Claim(ctx, id)
	if errors.Is(err, store.ErrFinished) {
		log.Log(taskID, "task already finished, skipping redelivered job")
		return nil, false, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Log(taskID, "task not found, dropping job")
		return nil, false, nil
	}
	if err != nil {
		log.LogError(taskID, "error claiming task", err)
		return nil, false, fmt.Errorf("claiming task: %w", err)
	}
	return task, true, nil
}

func (c *Coordinator) analyze(ctx context.Context, job queue.AnalyzeJob) (map[string]float64, error) {
	url, err := c.objects.PresignGet(job.SourceKey, config.WorkerPresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presigning source: %w", err)
	}
	info, err := c.prober.ProbeSource(job.TaskID, url)
	if err != nil {
		return nil, err
	}

	src, err := c.openSource(ctx, url, info)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	registry, err := features.NewCanonicalRegistry()
	if err != nil {
		return nil, err
	}
	aggregator := features.NewAggregator()
	scheduler := features.NewScheduler(registry, c.workers, c.lookahead)

	err = scheduler.Run(ctx, src, func(row *features.FrameRow) error {
		aggregator.Add(row)
		metrics.Metrics.FramesProcessedCount.Inc()
		if aggregator.Frames()%config.ProgressLogInterval == 0 {
			keyvals := []interface{}{"frames", aggregator.Frames()}
			if info.DurationTS > 0 {
				pct := float64(row.PTS) / float64(info.DurationTS) * 100
				keyvals = append(keyvals, "progress_pct", fmt.Sprintf("%.1f", pct))
			}
			log.Log(job.TaskID, "analysis progress", keyvals...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Log(job.TaskID, "analysis finished", "frames", aggregator.Frames())
	return aggregator.Result(), nil
}

// fail marks the task failed. A cancelled context means the worker is
// shutting down mid-task; the terminal record says so, and the write runs
// on a fresh context so shutdown cannot also kill the bookkeeping.
func (c *Coordinator) fail(ctx context.Context, id int64, taskID string, taskErr error) {
	msg := taskErr.Error()
	if ctx.Err() != nil || errors.Is(taskErr, context.Canceled) {
		msg = "interrupted"
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.repo.MarkFailed(dbCtx, id, msg); err != nil {
		log.LogError(taskID, "error marking task failed", err)
		return
	}
	metrics.Metrics.TaskTerminalCount.WithLabelValues(string(store.TaskStatusFailed)).Inc()
	log.LogError(taskID, "task failed", taskErr)
}

var _ Encoder = (*transcode.Encoder)(nil)
