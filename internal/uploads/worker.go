package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/server/pkg/queue"
	"github.com/capturekit/server/pkg/storage"
)

const (
	dequeueTimeout   = 5 * time.Second
	progressInterval = time.Second
)

// Uploader stores one object. *storage.S3 implements it.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	KeyPrefix() string
}

// Metrics counts upload outcomes.
type Metrics interface {
	UploadFinished(bytes int64)
	UploadFailed()
}

// Worker processes upload jobs: read the video from the video directory, stream it to storage, record the result.
type Worker struct {
	service  *Service
	queue    *queue.Queue
	uploader Uploader
	videoDir string
	metrics  Metrics
	logger   *zap.Logger
	backoff  time.Duration
}

// NewWorker creates an upload worker.
func NewWorker(service *Service, q *queue.Queue, uploader Uploader, videoDir string, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{service: service, queue: q, uploader: uploader, videoDir: videoDir, logger: logger, backoff: queue.RetryBackoff}
}

// SetMetrics attaches an optional metrics sink.
func (w *Worker) SetMetrics(m Metrics) { w.metrics = m }

// Process executes one upload job.
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.UploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	id := payload.VideoID

	v, err := w.service.catalog.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("video %s: %w", id, err)
	}
	path := filepath.Join(w.videoDir, filepath.FromSlash(v.RelPath()))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat video: %w", err)
	}

	key := storage.CaptureKey(w.uploader.KeyPrefix(), v.Folder, v.Filename())
	w.service.markUploading(ctx, id, key, info.Size())

	body := &progressReader{r: f, every: progressInterval, report: func(n int64) {
		w.service.markProgress(ctx, id, n)
	}}
	url, err := w.uploader.Upload(ctx, key, storage.ContentTypeForFormat(v.Format), body, info.Size())
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	w.service.markFinished(ctx, id, url, body.n.Load())
	if w.metrics != nil {
		w.metrics.UploadFinished(body.n.Load())
	}
	w.logger.Info("upload completed", zap.String("video_id", id), zap.String("key", key), zap.Int64("size", info.Size()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("upload worker stopping")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			if _, err := w.service.Purge(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("upload purge failed", zap.Error(err))
			}
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := w.Process(ctx, job); err != nil {
			w.handleFailure(ctx, job, err)
			w.sleep(ctx)
		}
	}
}

func (w *Worker) handleFailure(ctx context.Context, job *queue.Job, cause error) {
	w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(cause))
	var payload queue.UploadPayload
	_ = json.Unmarshal(job.Payload, &payload)

	dead, err := w.queue.Retry(ctx, job)
	if err != nil {
		w.logger.Error("retry enqueue failed", zap.Error(err))
		dead = true
	}
	if payload.VideoID == "" {
		return
	}
	if dead {
		w.service.markError(ctx, payload.VideoID, cause)
		if w.metrics != nil {
			w.metrics.UploadFailed()
		}
		return
	}
	w.service.markRetry(ctx, payload.VideoID, cause)
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// progressReader reports the running byte count at most once per interval.
type progressReader struct {
	r      io.Reader
	n      atomic.Int64
	every  time.Duration
	last   time.Time
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	total := p.n.Add(int64(n))
	if now := time.Now(); p.report != nil && now.Sub(p.last) >= p.every {
		p.last = now
		p.report(total)
	}
	return n, err
}
