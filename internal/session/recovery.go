package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/videos"
	"github.com/capturekit/server/pkg/utils"
)

// RecoveredError is stored on records rebuilt from an interrupted capture.
const RecoveredError = "recovered after interrupted capture"

func sidecarPath(dir, id string) string { return filepath.Join(dir, id+videos.SessionSidecarSuffix) }

// writeSidecar records a starting session next to its temp video so a restart can find it.
func writeSidecar(dir string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return utils.WriteFileAtomic(sidecarPath(dir, s.ID), data, 0o640)
}

func removeSidecar(dir, id string) {
	_ = os.Remove(sidecarPath(dir, id))
}

// Recover turns sessions left behind by a previous process into FAILED records. Each
// sidecar in the temp dir without a live session is a capture that never reached
// Persisted; its partial video, if any, is moved to the capture folder. Run it before
// accepting new captures. Returns the number of records recovered.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(e.cfg.TempDir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	var (
		recovered int
		errs      []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), videos.SessionSidecarSuffix) {
			continue
		}
		path := filepath.Join(e.cfg.TempDir, entry.Name())
		ok, err := e.recoverOne(ctx, path)
		if err != nil {
			e.log.Error("capture recovery failed", zap.String("sidecar", path), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		e.log.Info("interrupted captures recovered", zap.Int("count", recovered))
	}
	return recovered, errors.Join(errs...)
}

func (e *Engine) recoverOne(ctx context.Context, sidecar string) (bool, error) {
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return false, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.ID == "" {
		_ = os.Remove(sidecar)
		return false, fmt.Errorf("decode %s: invalid sidecar", sidecar)
	}
	if _, live := e.table()[s.ID]; live {
		return false, nil
	}

	_, err = e.store.FindByID(ctx, s.ID)
	switch {
	case err == nil:
		// Saved before the process died; only the sidecar is left.
		_ = os.Remove(sidecar)
		return false, nil
	case !errors.Is(err, videos.ErrNotFound):
		return false, err
	}

	finished := e.now()
	v := &models.Video{
		VideoRecord:     s.Record,
		SessionMetadata: s.Meta,
		Environment:     utils.MergeMaps(e.cfg.Environment),
	}
	v.Status = models.StatusFailed
	v.Error = RecoveredError

	if info, statErr := os.Stat(s.TempPath); statErr == nil && info.Size() > 0 {
		finished = info.ModTime()
		if err := utils.MoveFile(s.TempPath, e.videoPath(s.Record)); err != nil {
			return false, fmt.Errorf("move %s: %w", s.TempPath, err)
		}
	} else {
		removeQuietly(s.TempPath)
	}
	v.FinishedAt = &finished
	if !s.StartedAt.IsZero() && finished.After(s.StartedAt) {
		v.DurationSeconds = finished.Sub(s.StartedAt).Seconds()
	}

	if err := e.store.Save(ctx, v); err != nil {
		return false, err
	}
	_ = os.Remove(sidecar)
	e.log.Warn("interrupted capture recovered", zap.String("session_id", s.ID), zap.String("folder", s.Record.Folder))
	return true, nil
}
