// Package uploads ships persisted capture videos to object storage and tracks their progress.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/pkg/queue"
)

var (
	// ErrNotFound is returned when no upload is tracked for an id.
	ErrNotFound = errors.New("upload not found")
	// ErrNotUploadable is returned for records whose capture has not finished.
	ErrNotUploadable = errors.New("video is not finished")
	// ErrAlreadyQueued is returned while an upload for the same video is scheduled or running.
	ErrAlreadyQueued = errors.New("upload already queued")
)

// statusKey is the Redis hash of video id -> UploadStatus JSON.
const statusKey = "capture:uploads:status"

// Catalog resolves video ids to stored records.
type Catalog interface {
	FindByID(ctx context.Context, id string) (*models.Video, error)
}

// ObjectRemover deletes uploaded objects. *storage.S3 implements it.
type ObjectRemover interface {
	DeleteObject(ctx context.Context, key string) error
}

// Service schedules uploads and keeps their status in Redis so the server and the
// worker process share it.
type Service struct {
	rdb     *redis.Client
	queue   *queue.Queue
	catalog Catalog
	keep    time.Duration
	remover ObjectRemover
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the upload service. Finished uploads are dropped from the status
// list after keep; keep <= 0 keeps them forever.
func NewService(rdb *redis.Client, q *queue.Queue, catalog Catalog, keep time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rdb: rdb, queue: q, catalog: catalog, keep: keep, logger: logger, now: time.Now}
}

// Enqueue schedules the upload of a finished capture.
func (s *Service) Enqueue(ctx context.Context, id string) (models.UploadStatus, error) {
	v, err := s.catalog.FindByID(ctx, id)
	if err != nil {
		return models.UploadStatus{}, err
	}
	if v.FinishedAt == nil {
		return models.UploadStatus{}, fmt.Errorf("%w: %s", ErrNotUploadable, id)
	}
	cur, err := s.Get(ctx, id)
	switch {
	case err == nil && (cur.State == models.UploadScheduled || cur.State == models.UploadUploading):
		return cur, fmt.Errorf("%w: %s is %s", ErrAlreadyQueued, id, cur.State)
	case err != nil && !errors.Is(err, ErrNotFound):
		return models.UploadStatus{}, err
	}

	st := models.UploadStatus{ID: id, State: models.UploadScheduled, Scheduled: s.now()}
	if err := s.save(ctx, st); err != nil {
		return models.UploadStatus{}, err
	}
	job, err := s.queue.EnqueueUpload(ctx, queue.UploadPayload{VideoID: id})
	if err != nil {
		st = s.markError(ctx, id, err)
		return st, fmt.Errorf("enqueue upload: %w", err)
	}
	s.logger.Info("upload scheduled", zap.String("video_id", id), zap.String("job_id", job.ID))
	return st, nil
}

// Get returns the tracked status of id.
func (s *Service) Get(ctx context.Context, id string) (models.UploadStatus, error) {
	raw, err := s.rdb.HGet(ctx, statusKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return models.UploadStatus{}, ErrNotFound
	}
	if err != nil {
		return models.UploadStatus{}, fmt.Errorf("hget: %w", err)
	}
	var st models.UploadStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return models.UploadStatus{}, fmt.Errorf("decode upload status %s: %w", id, err)
	}
	return st, nil
}

// Statuses lists every tracked upload sorted by id, after purging expired finished ones.
func (s *Service) Statuses(ctx context.Context) ([]models.UploadStatus, error) {
	if _, err := s.Purge(ctx); err != nil {
		return nil, err
	}
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// Purge drops finished uploads older than keep. Returns how many were dropped.
func (s *Service) Purge(ctx context.Context) (int, error) {
	if s.keep <= 0 {
		return 0, nil
	}
	all, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.keep)
	var expired []string
	for _, st := range all {
		if st.State == models.UploadFinished && st.Finished != nil && st.Finished.Before(cutoff) {
			expired = append(expired, st.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.rdb.HDel(ctx, statusKey, expired...).Err(); err != nil {
		return 0, fmt.Errorf("hdel: %w", err)
	}
	s.logger.Debug("finished uploads purged", zap.Int("count", len(expired)))
	return len(expired), nil
}

// SetRemover makes Forget delete the uploaded object as well.
func (s *Service) SetRemover(r ObjectRemover) { s.remover = r }

// Forget stops tracking id, removing the uploaded object when a remover is set.
func (s *Service) Forget(ctx context.Context, id string) error {
	st, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.remover != nil && st.State == models.UploadFinished && st.Key != "" {
		if err := s.remover.DeleteObject(ctx, st.Key); err != nil {
			return fmt.Errorf("delete object %s: %w", st.Key, err)
		}
		s.logger.Info("uploaded object deleted", zap.String("video_id", id), zap.String("key", st.Key))
	}
	if err := s.rdb.HDel(ctx, statusKey, id).Err(); err != nil {
		return fmt.Errorf("hdel: %w", err)
	}
	return nil
}

func (s *Service) markUploading(ctx context.Context, id, key string, total int64) models.UploadStatus {
	return s.update(ctx, id, func(st *models.UploadStatus) {
		now := s.now()
		st.State = models.UploadUploading
		st.Key = key
		st.Total = total
		st.Transferred = 0
		st.ErrorMessage = ""
		st.Started = &now
		st.Updated = &now
	})
}

func (s *Service) markProgress(ctx context.Context, id string, transferred int64) {
	s.update(ctx, id, func(st *models.UploadStatus) {
		now := s.now()
		st.Transferred = transferred
		st.Updated = &now
	})
}

func (s *Service) markFinished(ctx context.Context, id, url string, transferred int64) models.UploadStatus {
	return s.update(ctx, id, func(st *models.UploadStatus) {
		now := s.now()
		st.State = models.UploadFinished
		st.URL = url
		st.Transferred = transferred
		st.Updated = &now
		st.Finished = &now
	})
}

// markRetry puts the upload back to scheduled, keeping the last error for display.
func (s *Service) markRetry(ctx context.Context, id string, cause error) models.UploadStatus {
	return s.update(ctx, id, func(st *models.UploadStatus) {
		now := s.now()
		st.State = models.UploadScheduled
		st.ErrorMessage = cause.Error()
		st.Updated = &now
	})
}

func (s *Service) markError(ctx context.Context, id string, cause error) models.UploadStatus {
	return s.update(ctx, id, func(st *models.UploadStatus) {
		now := s.now()
		st.State = models.UploadError
		st.ErrorMessage = cause.Error()
		st.Updated = &now
	})
}

// update applies fn to the stored status of id. Failures are logged; status is advisory.
func (s *Service) update(ctx context.Context, id string, fn func(*models.UploadStatus)) models.UploadStatus {
	st, err := s.Get(ctx, id)
	if err != nil {
		st = models.UploadStatus{ID: id, Scheduled: s.now()}
	}
	fn(&st)
	if err := s.save(ctx, st); err != nil {
		s.logger.Warn("upload status not saved", zap.String("video_id", id), zap.Error(err))
	}
	return st
}

func (s *Service) save(ctx context.Context, st models.UploadStatus) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode upload status: %w", err)
	}
	if err := s.rdb.HSet(ctx, statusKey, st.ID, raw).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

func (s *Service) all(ctx context.Context) ([]models.UploadStatus, error) {
	raw, err := s.rdb.HGetAll(ctx, statusKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make([]models.UploadStatus, 0, len(raw))
	for id, r := range raw {
		var st models.UploadStatus
		if err := json.Unmarshal([]byte(r), &st); err != nil {
			s.logger.Warn("invalid upload status", zap.String("video_id", id), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	return out, nil
}
