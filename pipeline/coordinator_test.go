package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TiunovNN/video-compression-model/model"
	"github.com/TiunovNN/video-compression-model/queue"
	"github.com/TiunovNN/video-compression-model/store"
	"github.com/TiunovNN/video-compression-model/video"
)

type stubRepo struct {
	tasks       map[int64]*store.Task
	claimErr    error
	completeErr error
}

func newStubRepo(tasks ...*store.Task) *stubRepo {
	r := &stubRepo{tasks: map[int64]*store.Task{}}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *stubRepo) Create(ctx context.Context, sourceFile string, sourceSize int64) (*store.Task, error) {
	panic("not used")
}

func (r *stubRepo) Claim(ctx context.Context, id int64) (*store.Task, error) {
	if r.claimErr != nil {
		return nil, r.claimErr
	}
	t, ok := r.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return nil, store.ErrFinished
	}
	t.Status = store.TaskStatusProcessing
	return t, nil
}

func (r *stubRepo) MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	t := r.tasks[id]
	t.Status = store.TaskStatusCompleted
	t.OutputFile = &outputFile
	t.OutputSize = &outputSize
	return nil
}

func (r *stubRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	t := r.tasks[id]
	t.Status = store.TaskStatusFailed
	t.ErrorMessage = &errorMessage
	return nil
}

func (r *stubRepo) Get(ctx context.Context, id int64) (*store.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (r *stubRepo) List(ctx context.Context, statuses []store.TaskStatus, limit, offset int) ([]*store.Task, error) {
	panic("not used")
}

type stubObjects struct {
	uploadedKey string
	uploadErr   error
}

func (o *stubObjects) PresignGet(key string, expiry time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?sig=1", nil
}

func (o *stubObjects) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	return nil
}

func (o *stubObjects) UploadFile(ctx context.Context, key, path, contentType string) (int64, error) {
	if o.uploadErr != nil {
		return 0, o.uploadErr
	}
	o.uploadedKey = key
	return 4096, nil
}

type stubPublisher struct {
	transcodes []queue.TranscodeJob
	err        error
}

func (p *stubPublisher) PublishAnalyze(ctx context.Context, job queue.AnalyzeJob) error { return nil }

func (p *stubPublisher) PublishTranscode(ctx context.Context, job queue.TranscodeJob) error {
	if p.err != nil {
		return p.err
	}
	p.transcodes = append(p.transcodes, job)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

type stubProber struct {
	info video.SourceInfo
	err  error
}

func (p *stubProber) ProbeSource(taskID, url string) (video.SourceInfo, error) {
	return p.info, p.err
}

type stubPredictor struct {
	prediction model.Prediction
	err        error
}

func (p *stubPredictor) Predict(descriptors map[string]float64) (model.Prediction, error) {
	return p.prediction, p.err
}

type stubEncoder struct {
	path string
	err  error
}

func (e *stubEncoder) Encode(ctx context.Context, taskID, sourceURL string, params *model.Prediction, duration time.Duration) (string, error) {
	return e.path, e.err
}

type stubFrameSource struct {
	frames []*video.Frame
	next   int
}

func (s *stubFrameSource) Next() (*video.Frame, error) {
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *stubFrameSource) Close() error { return nil }

func grayFrames(n int) []*video.Frame {
	frames := make([]*video.Frame, n)
	for i := range frames {
		data := make([]uint8, 64)
		for j := range data {
			data[j] = uint8(i*5 + j)
		}
		frames[i] = &video.Frame{
			Index:  i,
			Width:  8,
			Height: 8,
			PixFmt: "gray",
			PTS:    int64(i * 512),
			Planes: []video.Plane{{Width: 8, Height: 8, Data: data}},
		}
	}
	return frames
}

type fixture struct {
	repo      *stubRepo
	objects   *stubObjects
	publisher *stubPublisher
	prober    *stubProber
	predictor *stubPredictor
	encoder   *stubEncoder
	coord     *Coordinator
}

func newFixture(tasks ...*store.Task) *fixture {
	f := &fixture{
		repo:      newStubRepo(tasks...),
		objects:   &stubObjects{},
		publisher: &stubPublisher{},
		prober: &stubProber{info: video.SourceInfo{
			Width: 8, Height: 8, PixFmt: "gray",
			DurationMS: 2000, DurationTS: 25600, FPS: 25,
		}},
		predictor: &stubPredictor{prediction: model.Prediction{
			Status: model.StatusSuccess, Parameter: "crf", Value: 21, Quality: 95.2,
		}},
		encoder: &stubEncoder{path: "/tmp/encoded-test.mp4"},
	}
	f.coord = NewCoordinator(f.repo, f.objects, f.publisher, f.prober, f.predictor, f.encoder, 2, 2)
	f.coord.openSource = func(ctx context.Context, url string, info video.SourceInfo) (frameSource, error) {
		return &stubFrameSource{frames: grayFrames(4)}, nil
	}
	return f
}

func pendingTask(id int64) *store.Task {
	return &store.Task{ID: id, SourceFile: "source/abcd.mp4", Status: store.TaskStatusPending}
}

func TestHandleAnalyzeChainsTranscode(t *testing.T) {
	f := newFixture(pendingTask(7))

	err := f.coord.HandleAnalyze(context.Background(), queue.AnalyzeJob{TaskID: "7", SourceKey: "source/abcd.mp4"})
	require.NoError(t, err)

	require.Len(t, f.publisher.transcodes, 1)
	job := f.publisher.transcodes[0]
	require.Equal(t, "7", job.TaskID)
	require.NotNil(t, job.Params)
	require.Equal(t, model.StatusSuccess, job.Params.Status)
	require.Equal(t, 21, job.Params.Value)

	// Analysis leaves the task in processing; the transcode stage
	// finishes it.
	require.Equal(t, store.TaskStatusProcessing, f.repo.tasks[7].Status)
}

func TestHandleAnalyzeFinishedTaskIsNoOp(t *testing.T) {
	task := pendingTask(7)
	task.Status = store.TaskStatusCompleted
	f := newFixture(task)

	err := f.coord.HandleAnalyze(context.Background(), queue.AnalyzeJob{TaskID: "7", SourceKey: "source/abcd.mp4"})
	require.NoError(t, err)
	require.Empty(t, f.publisher.transcodes)
	require.Equal(t, store.TaskStatusCompleted, f.repo.tasks[7].Status)
}

func TestHandleAnalyzeProbeFailureMarksFailed(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.prober.err = errors.New("no video stream found")

	err := f.coord.HandleAnalyze(context.Background(), queue.AnalyzeJob{TaskID: "7", SourceKey: "source/abcd.mp4"})
	require.NoError(t, err)

	task := f.repo.tasks[7]
	require.Equal(t, store.TaskStatusFailed, task.Status)
	require.Contains(t, *task.ErrorMessage, "analysis failed")
	require.Empty(t, f.publisher.transcodes)
}

func TestHandleAnalyzePredictionFailureStillChains(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.predictor.prediction = model.Prediction{Status: model.StatusFailed, Parameter: "crf", Value: model.FallbackCRF}
	f.predictor.err = errors.New("descriptor \"SI_mean_mean\" missing")

	err := f.coord.HandleAnalyze(context.Background(), queue.AnalyzeJob{TaskID: "7", SourceKey: "source/abcd.mp4"})
	require.NoError(t, err)

	require.Len(t, f.publisher.transcodes, 1)
	require.Equal(t, model.StatusFailed, f.publisher.transcodes[0].Params.Status)
	require.Equal(t, model.FallbackCRF, f.publisher.transcodes[0].Params.Value)
}

func TestHandleAnalyzePublishFailureMarksFailed(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.publisher.err = errors.New("broker gone")

	err := f.coord.HandleAnalyze(context.Background(), queue.AnalyzeJob{TaskID: "7", SourceKey: "source/abcd.mp4"})
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusFailed, f.repo.tasks[7].Status)
}

func TestHandleAnalyzeClaimErrorPropagates(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.repo.claimErr = errors.New("driver: bad connection")

	err := f.coord.HandleAnalyze(context.Background(), queue.AnalyzeJob{TaskID: "7", SourceKey: "source/abcd.mp4"})
	require.Error(t, err)

	// The store never answered, so the task is untouched and the job must
	// come back for another attempt.
	require.Equal(t, store.TaskStatusPending, f.repo.tasks[7].Status)
	require.Empty(t, f.publisher.transcodes)
}

func TestHandleTranscodeCompletesTask(t *testing.T) {
	f := newFixture(pendingTask(7))

	params := &model.Prediction{Status: model.StatusSuccess, Parameter: "qp", Value: 30}
	err := f.coord.HandleTranscode(context.Background(), queue.TranscodeJob{TaskID: "7", Params: params})
	require.NoError(t, err)

	task := f.repo.tasks[7]
	require.Equal(t, store.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.OutputFile)
	require.True(t, strings.HasPrefix(*task.OutputFile, "encoded/"))
	require.Equal(t, int64(4096), *task.OutputSize)
	require.Equal(t, *task.OutputFile, f.objects.uploadedKey)
}

func TestHandleTranscodeEncodeFailureMarksFailed(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.encoder.err = errors.New("ffmpeg encode failed: exit status 1")

	err := f.coord.HandleTranscode(context.Background(), queue.TranscodeJob{TaskID: "7"})
	require.NoError(t, err)

	task := f.repo.tasks[7]
	require.Equal(t, store.TaskStatusFailed, task.Status)
	require.Contains(t, *task.ErrorMessage, "encode failed")
}

func TestHandleTranscodeUploadFailureMarksFailed(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.objects.uploadErr = errors.New("connection reset")

	err := f.coord.HandleTranscode(context.Background(), queue.TranscodeJob{TaskID: "7"})
	require.NoError(t, err)
	require.Equal(t, store.TaskStatusFailed, f.repo.tasks[7].Status)
}

func TestHandleTranscodeCompleteErrorPropagates(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.repo.completeErr = errors.New("driver: bad connection")

	err := f.coord.HandleTranscode(context.Background(), queue.TranscodeJob{TaskID: "7"})
	require.Error(t, err)

	// The encode and upload succeeded but the completion write did not;
	// the redelivered job re-claims the processing task and retries.
	require.Equal(t, store.TaskStatusProcessing, f.repo.tasks[7].Status)
	require.NotEmpty(t, f.objects.uploadedKey)
}

func TestHandleTranscodeClaimErrorPropagates(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.repo.claimErr = errors.New("driver: bad connection")

	err := f.coord.HandleTranscode(context.Background(), queue.TranscodeJob{TaskID: "7"})
	require.Error(t, err)
	require.Equal(t, store.TaskStatusPending, f.repo.tasks[7].Status)
	require.Empty(t, f.objects.uploadedKey)
}

func TestHandleTranscodeMalformedTaskID(t *testing.T) {
	f := newFixture()

	err := f.coord.HandleTranscode(context.Background(), queue.TranscodeJob{TaskID: "not-a-number"})
	require.NoError(t, err)
	require.Empty(t, f.objects.uploadedKey)
}

func TestHandleTranscodeCancelledContextMarksInterrupted(t *testing.T) {
	f := newFixture(pendingTask(7))
	f.encoder.err = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.coord.HandleTranscode(ctx, queue.TranscodeJob{TaskID: "7"})
	require.NoError(t, err)

	task := f.repo.tasks[7]
	require.Equal(t, store.TaskStatusFailed, task.Status)
	require.Equal(t, "interrupted", *task.ErrorMessage)
}
