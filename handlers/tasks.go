package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/TiunovNN/video-compression-model/clients"
	"github.com/TiunovNN/video-compression-model/errors"
	"github.com/TiunovNN/video-compression-model/log"
	"github.com/TiunovNN/video-compression-model/metrics"
	"github.com/TiunovNN/video-compression-model/queue"
	"github.com/TiunovNN/video-compression-model/store"
)

// TaskResponse is a task row plus, for completed tasks, a presigned
// download URL for the encoded output.
type TaskResponse struct {
	*store.Task
	DownloadURL *string `json:"download_url,omitempty"`
}

type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// CreateTask accepts a multipart video upload, stores it and enqueues the
// analysis job. The upload is streamed to the object store; the task row
// only exists once the bytes are safely stored, so a failed upload leaves
// nothing behind.
func (d *TranscodingAPIHandlersCollection) CreateTask() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		metrics.Metrics.CreateTaskRequestCount.Inc()
		status := http.StatusCreated
		start := time.Now()
		defer func() {
			metrics.Metrics.CreateTaskRequestDuration.
				WithLabelValues(strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
		}()

		mr, err := req.MultipartReader()
		if err != nil {
			status = errors.WriteHTTPUnsupportedMediaType(w, "Requires multipart/form-data content type", err).Status
			return
		}

		part, err := filePart(mr)
		if err != nil {
			status = errors.WriteHTTPBadRequest(w, "Missing file field", err).Status
			return
		}

		// Sniff before anything durable happens: a non-video payload must
		// be rejected without a task row or a stored object.
		sniff := make([]byte, 512)
		n, err := io.ReadFull(part, sniff)
		if err != nil && err != io.ErrUnexpectedEOF {
			status = errors.WriteHTTPBadRequest(w, "Cannot read file field", err).Status
			return
		}
		contentType := http.DetectContentType(sniff[:n])
		if !strings.HasPrefix(contentType, "video/") {
			status = errors.WriteHTTPBadRequest(w, "Uploaded file is not a video",
				fmt.Errorf("detected content type %q", contentType)).Status
			return
		}

		key := clients.SourceKey(part.FileName())
		body := &countingReader{r: io.MultiReader(bytes.NewReader(sniff[:n]), part)}
		if err := d.Objects.Upload(req.Context(), key, body, contentType); err != nil {
			status = errors.WriteHTTPBadGateway(w, "Failed to store uploaded file", err).Status
			return
		}

		task, err := d.Repo.Create(req.Context(), key, body.n)
		if err != nil {
			status = errors.WriteHTTPInternalServerError(w, "Failed to create task", err).Status
			return
		}
		taskID := strconv.FormatInt(task.ID, 10)
		log.AddContext(taskID, "source_key", key, "filename", part.FileName())

		job := queue.AnalyzeJob{TaskID: taskID, SourceKey: key}
		if err := d.Publisher.PublishAnalyze(req.Context(), job); err != nil {
			// The row exists but nothing will pick it up; surface the
			// failure instead of returning a task that never progresses.
			status = errors.WriteHTTPInternalServerError(w, "Failed to enqueue analysis", err).Status
			return
		}

		log.Log(taskID, "task created", "source_size", body.n, "content_type", contentType)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(TaskResponse{Task: task}); err != nil {
			log.LogError(taskID, "error writing task response", err)
		}
	}
}

func filePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("no file field in multipart body")
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
	}
}

// GetTask returns one task. Completed tasks carry a presigned download
// URL valid for the configured expiry.
func (d *TranscodingAPIHandlersCollection) GetTask() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id, err := strconv.ParseInt(params.ByName("id"), 10, 64)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Malformed task id", err)
			return
		}

		task, err := d.Repo.Get(req.Context(), id)
		if err == store.ErrNotFound {
			errors.WriteHTTPNotFound(w, "Task not found", nil)
			return
		}
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to read task", err)
			return
		}

		resp := TaskResponse{Task: task}
		if task.Status == store.TaskStatusCompleted && task.OutputFile != nil {
			url, err := d.Objects.PresignGet(*task.OutputFile, d.Cli.PresignExpiry())
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Failed to presign download URL", err)
				return
			}
			resp.DownloadURL = &url
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.LogNoTaskID("error writing task response", "err", err)
		}
	}
}

// ListTasks returns tasks newest first, optionally filtered by status,
// with limit/skip paging.
func (d *TranscodingAPIHandlersCollection) ListTasks() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		query := req.URL.Query()

		var statuses []store.TaskStatus
		if raw := query.Get("statuses"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				status := store.TaskStatus(strings.TrimSpace(s))
				if !status.IsValid() {
					errors.WriteHTTPBadRequest(w, "Unknown status filter", fmt.Errorf("status %q", s))
					return
				}
				statuses = append(statuses, status)
			}
		}

		limit, err := positiveIntParam(query.Get("limit"), 100)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Malformed limit", err)
			return
		}
		skip, err := positiveIntParam(query.Get("skip"), 0)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Malformed skip", err)
			return
		}

		tasks, err := d.Repo.List(req.Context(), statuses, limit, skip)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to list tasks", err)
			return
		}

		resp := ListTasksResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, TaskResponse{Task: t})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.LogNoTaskID("error writing task list response", "err", err)
		}
	}
}

func positiveIntParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", v)
	}
	return v, nil
}
