// Package session drives capture sessions from start to a persisted video record.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/server/internal/encoder"
	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/recorder"
	"github.com/capturekit/server/internal/videos"
	"github.com/capturekit/server/pkg/utils"
)

// Lifecycle events handed to the Publisher.
const (
	EventCaptureStarted  = "capture_started"
	EventCaptureFinished = "capture_finished"
	EventCaptureFailed   = "capture_failed"
	EventCaptureDeleted  = "capture_deleted"
)

// Recorder is the single encoding slot the engine drives.
type Recorder interface {
	Record(ctx context.Context, rec models.VideoRecord, outputPath string) error
	Stop(ctx context.Context) error
	Status() recorder.Status
}

// Metrics receives lifecycle counts. Implementations must not block.
type Metrics interface {
	SessionStarted()
	SessionFailed(code string)
	SessionFinished(status string, took time.Duration)
	ActiveSessions(n int)
}

// Publisher fans lifecycle events out to observers.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Event is the payload of every lifecycle event.
type Event struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Folder    string    `json:"folder"`
	Status    string    `json:"status,omitempty"`
	Code      Code      `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Config fixes where captures are written.
type Config struct {
	VideoDir      string
	TempDir       string
	Format        string
	DefaultRegion models.Region
	// Environment is copied into every persisted record.
	Environment map[string]string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDGenerator replaces the id generator used when the caller gives no id.
func WithIDGenerator(gen func(time.Time) string) Option { return func(e *Engine) { e.newID = gen } }

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithPublisher attaches an event publisher.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.events = p } }

// Engine owns the live session table and moves sessions through
// starting, recording, stopping, finishing and persisted (or failed).
type Engine struct {
	cfg     Config
	rec     Recorder
	store   videos.Store
	log     *zap.Logger
	now     func() time.Time
	newID   func(time.Time) string
	metrics Metrics
	events  Publisher

	// mu serializes writers of live. Readers load the map without locking; a stored
	// map is never modified again.
	mu   sync.Mutex
	live atomic.Pointer[map[string]*Session]
}

// New creates an engine. The video and temp directories are created if missing.
func New(cfg Config, rec Recorder, store videos.Store, log *zap.Logger, opts ...Option) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Format == "" {
		cfg.Format = models.FormatAVI
	}
	for _, dir := range []string{cfg.VideoDir, cfg.TempDir} {
		if dir == "" {
			return nil, errors.New("session: video and temp directories are required")
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	e := &Engine{
		cfg:   cfg,
		rec:   rec,
		store: store,
		log:   log,
		now:   time.Now,
		newID: utils.GenerateID,
	}
	for _, opt := range opts {
		opt(e)
	}
	empty := map[string]*Session{}
	e.live.Store(&empty)
	return e, nil
}

// Start creates a session and begins recording. A failed start returns the failed
// session together with an *Error; nothing is persisted for it and the session stays
// in the live table, in state failed, until Delete.
func (e *Engine) Start(ctx context.Context, p StartParams) (Session, error) {
	region := e.cfg.DefaultRegion
	if p.Region != nil {
		region = *p.Region
	}
	id := strings.TrimSpace(p.ID)
	if !region.Valid() {
		return Session{}, newError(id, fmt.Errorf("%w: region %s must have positive width and height", ErrInvalidParameter, region))
	}

	now := e.now()
	if id == "" {
		id = e.newID(now)
	} else if err := e.ensureUnused(ctx, id); err != nil {
		return Session{}, err
	}

	rec := models.VideoRecord{
		ID:        id,
		Folder:    folderFor(p, id),
		Format:    e.cfg.Format,
		Region:    region,
		CreatedAt: now,
	}
	s := &Session{
		ID:     id,
		State:  StateStarting,
		Record: rec,
		Meta: models.SessionMetadata{
			Project:     strings.TrimSpace(p.Project),
			Feature:     strings.TrimSpace(p.Feature),
			Scenario:    strings.TrimSpace(p.Scenario),
			SID:         p.SID,
			Description: strings.TrimSpace(p.Description),
			Meta:        utils.MergeMaps(p.Meta),
		},
		TempPath:  filepath.Join(e.cfg.TempDir, rec.Filename()),
		StartedAt: now,
	}

	e.mu.Lock()
	if _, taken := e.table()[id]; taken {
		e.mu.Unlock()
		return Session{}, newError(id, fmt.Errorf("%w: id %q is in use", ErrInvalidParameter, id))
	}
	e.put(s)
	e.mu.Unlock()

	if err := writeSidecar(e.cfg.TempDir, s); err != nil {
		e.log.Warn("session sidecar not written, capture will not be recoverable", zap.String("session_id", id), zap.Error(err))
	}

	if err := e.rec.Record(ctx, rec, s.TempPath); err != nil {
		// The failed session stays in the live table until Delete.
		failed := s.with(StateFailed)
		failed.Error = err.Error()
		e.transition(failed)
		removeSidecar(e.cfg.TempDir, id)
		removeQuietly(s.TempPath)

		serr := newError(id, err)
		e.log.Warn("capture start failed", zap.String("session_id", id), zap.String("code", string(serr.Code)), zap.Error(err))
		e.observeFailed(ctx, failed, serr.Code)
		return *failed, serr
	}

	s = e.transition(s.with(StateRecording))
	e.log.Info("capture started", zap.String("session_id", id), zap.String("region", region.String()), zap.String("folder", rec.Folder))
	if e.metrics != nil {
		e.metrics.SessionStarted()
	}
	e.publish(ctx, EventCaptureStarted, s, "")
	return *s, nil
}

// Finish stops the recording, merges p into the start metadata, moves the video to its
// folder and saves the record. It blocks until the video file is final.
//
// When the encoder cannot finalize the file a record with status FAILED is still
// saved and returned together with the error.
func (e *Engine) Finish(ctx context.Context, id string, p FinishParams) (models.VideoSummary, error) {
	p = p.normalized()
	if !models.ValidTestStatus(p.Status) {
		return models.VideoSummary{}, newError(id, fmt.Errorf("%w: status %q must be one of PASS, FAIL, ERROR, OTHER", ErrInvalidParameter, p.Status))
	}

	e.mu.Lock()
	cur, ok := e.table()[id]
	var s *Session
	if ok && cur.State == StateRecording {
		s = cur.with(StateStopping)
		e.put(s)
	}
	e.mu.Unlock()
	if !ok {
		return models.VideoSummary{}, e.notLive(ctx, id)
	}
	if s == nil {
		return models.VideoSummary{}, newError(id, fmt.Errorf("%w: session is %s", ErrInvalidSessionState, cur.State))
	}

	// Once issued the stop always runs to the end, even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	began := time.Now()
	failure := e.rec.Stop(ctx)
	if failure == nil {
		s = e.transition(s.with(StateFinishing))
	}

	v := e.buildVideo(s, p)
	if err := utils.MoveFile(s.TempPath, e.videoPath(s.Record)); err != nil {
		e.log.Error("video not moved to its folder", zap.String("session_id", id), zap.String("output", s.TempPath), zap.Error(err))
		if failure == nil {
			failure = fmt.Errorf("%w: move video: %v", encoder.ErrIO, err)
		}
	}
	if failure != nil {
		markFailed(v, failure)
		failed := s.with(StateFailed)
		failed.Error = failure.Error()
		s = e.transition(failed)
	}

	if err := e.store.Save(ctx, v); err != nil {
		failed := s.with(StateFailed)
		failed.Error = err.Error()
		s = e.transition(failed)
		serr := newError(id, err)
		e.log.Error("capture record not saved", zap.String("session_id", id), zap.Error(err))
		e.observeFailed(ctx, s, serr.Code)
		return v.Summary(), serr
	}

	e.mu.Lock()
	e.drop(id)
	e.mu.Unlock()
	removeSidecar(e.cfg.TempDir, id)

	if failure != nil {
		serr := newError(id, failure)
		e.log.Warn("capture finished with a failed recording", zap.String("session_id", id), zap.String("code", string(serr.Code)), zap.Error(failure))
		e.observeFailed(ctx, s, serr.Code)
		return v.Summary(), serr
	}

	took := time.Since(began)
	e.log.Info("capture finished", zap.String("session_id", id), zap.String("status", v.Status), zap.String("folder", v.Folder), zap.Duration("took", took))
	if e.metrics != nil {
		e.metrics.SessionFinished(v.Status, took)
	}
	persisted := s.with(StatePersisted)
	e.publish(ctx, EventCaptureFinished, persisted, v.Status)
	return v.Summary(), nil
}

// Delete removes a persisted or failed capture with its files. Live sessions that have
// not failed are rejected with ErrSessionBusy. Unknown ids are not an error.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	s, live := e.table()[id]
	if live && s.State != StateFailed {
		e.mu.Unlock()
		return newError(id, fmt.Errorf("%w: session is %s", ErrSessionBusy, s.State))
	}
	if live {
		e.drop(id)
	}
	e.mu.Unlock()

	deleted := false
	if live {
		removeQuietly(s.TempPath)
		videoPath := e.videoPath(s.Record)
		removeQuietly(videoPath)
		utils.PruneEmptyDirs(filepath.Dir(videoPath), e.cfg.VideoDir)
		removeSidecar(e.cfg.TempDir, id)
		deleted = true
	}

	v, err := e.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, videos.ErrNotFound):
	case err != nil:
		return newError(id, err)
	default:
		if err := e.store.Delete(ctx, id); err != nil {
			return newError(id, err)
		}
		videoPath := e.videoPath(v.VideoRecord)
		if err := os.Remove(videoPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			e.log.Warn("video file not removed", zap.String("session_id", id), zap.String("path", videoPath), zap.Error(err))
		}
		utils.PruneEmptyDirs(filepath.Dir(videoPath), e.cfg.VideoDir)
		deleted = true
	}

	if deleted {
		e.log.Info("capture deleted", zap.String("session_id", id))
		gone := &Session{ID: id, State: StateDeleted}
		if v != nil {
			gone.Record = v.VideoRecord
		} else if s != nil {
			gone.Record = s.Record
		}
		e.publish(ctx, EventCaptureDeleted, gone, "")
	}
	return nil
}

// List returns a summary of every stored capture, newest first.
func (e *Engine) List(ctx context.Context) ([]models.VideoSummary, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		return nil, newError("", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// Get returns the full stored record.
func (e *Engine) Get(ctx context.Context, id string) (*models.Video, error) {
	v, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, newError(id, err)
	}
	return v, nil
}

// VideoPath returns where the video file of rec lives once persisted.
func (e *Engine) VideoPath(rec models.VideoRecord) string { return e.videoPath(rec) }

// Status reports the live sessions and the recorder. It never takes the writer lock.
func (e *Engine) Status() Status {
	table := e.table()
	now := e.now()
	st := Status{Sessions: make([]LiveSession, 0, len(table)), Recorder: e.rec.Status()}
	for _, s := range table {
		ls := LiveSession{
			ID:        s.ID,
			State:     s.State,
			Folder:    s.Record.Folder,
			Region:    s.Record.Region,
			StartedAt: s.StartedAt,
			Error:     s.Error,
		}
		if !s.State.Terminal() {
			ls.ElapsedSeconds = now.Sub(s.StartedAt).Seconds()
		}
		if s.State == StateRecording {
			st.Recording = true
		}
		st.Sessions = append(st.Sessions, ls)
	}
	sort.Slice(st.Sessions, func(i, j int) bool {
		if st.Sessions[i].StartedAt.Equal(st.Sessions[j].StartedAt) {
			return st.Sessions[i].ID < st.Sessions[j].ID
		}
		return st.Sessions[i].StartedAt.Before(st.Sessions[j].StartedAt)
	})
	return st
}

// Session returns the live session with id, if any.
func (e *Engine) Session(id string) (Session, bool) {
	s, ok := e.table()[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (e *Engine) ensureUnused(ctx context.Context, id string) error {
	if id != utils.FolderFriendly(id) {
		return newError(id, fmt.Errorf("%w: id %q may only contain lowercase letters, digits, '-' and '_'", ErrInvalidParameter, id))
	}
	if _, live := e.table()[id]; live {
		return newError(id, fmt.Errorf("%w: id %q is in use", ErrInvalidParameter, id))
	}
	_, err := e.store.FindByID(ctx, id)
	switch {
	case err == nil:
		return newError(id, fmt.Errorf("%w: id %q is in use", ErrInvalidParameter, id))
	case errors.Is(err, videos.ErrNotFound):
		return nil
	default:
		return newError(id, err)
	}
}

// notLive explains why id has no live session: already persisted or unknown.
func (e *Engine) notLive(ctx context.Context, id string) error {
	_, err := e.store.FindByID(ctx, id)
	if err == nil {
		return newError(id, fmt.Errorf("%w: session already persisted", ErrInvalidSessionState))
	}
	return newError(id, err)
}

func (e *Engine) buildVideo(s *Session, p FinishParams) *models.Video {
	finished := e.now()
	meta := s.Meta
	meta.Meta = utils.MergeMaps(s.Meta.Meta, p.Meta)
	if p.Description != "" {
		meta.Description = p.Description
	}
	meta.Status = p.Status
	meta.Error = p.Error
	meta.StackTrace = p.StackTrace
	meta.Logs = append([]models.LogEntry(nil), p.Logs...)

	return &models.Video{
		VideoRecord:     s.Record,
		SessionMetadata: meta,
		Environment:     utils.MergeMaps(e.cfg.Environment),
		FinishedAt:      &finished,
		DurationSeconds: finished.Sub(s.StartedAt).Seconds(),
	}
}

func markFailed(v *models.Video, err error) {
	msg := "capture failed: " + err.Error()
	if v.Error != "" {
		msg += "\n" + v.Error
	}
	v.Status = models.StatusFailed
	v.Error = msg
}

func (e *Engine) videoPath(rec models.VideoRecord) string {
	return filepath.Join(e.cfg.VideoDir, filepath.FromSlash(rec.RelPath()))
}

// folderFor builds project/feature/scenario/id, or project/sid/id when a sid is given.
func folderFor(p StartParams, id string) string {
	var parts []string
	if p.SID != nil {
		parts = utils.FolderFriendlyList(p.Project, strconv.FormatInt(*p.SID, 10))
	} else {
		parts = utils.FolderFriendlyList(p.Project, p.Feature, p.Scenario)
	}
	return path.Join(append(parts, id)...)
}

func (e *Engine) observeFailed(ctx context.Context, s *Session, code Code) {
	if e.metrics != nil {
		e.metrics.SessionFailed(string(code))
	}
	e.publishWith(ctx, EventCaptureFailed, Event{
		SessionID: s.ID,
		State:     StateFailed,
		Folder:    s.Record.Folder,
		Code:      code,
		Error:     s.Error,
		At:        e.now(),
	})
}

func (e *Engine) publish(ctx context.Context, event string, s *Session, status string) {
	e.publishWith(ctx, event, Event{
		SessionID: s.ID,
		State:     s.State,
		Folder:    s.Record.Folder,
		Status:    status,
		At:        e.now(),
	})
}

func (e *Engine) publishWith(ctx context.Context, event string, ev Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event, ev); err != nil {
		e.log.Warn("event not published", zap.String("event", event), zap.String("session_id", ev.SessionID), zap.Error(err))
	}
}

func (e *Engine) table() map[string]*Session { return *e.live.Load() }

// transition stores s as the current value of its session.
func (e *Engine) transition(s *Session) *Session {
	e.mu.Lock()
	e.put(s)
	e.mu.Unlock()
	return s
}

// put and drop must be called with mu held.
func (e *Engine) put(s *Session) {
	old := e.table()
	next := make(map[string]*Session, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[s.ID] = s
	e.live.Store(&next)
	e.reportActive(next)
}

func (e *Engine) drop(id string) {
	old := e.table()
	if _, ok := old[id]; !ok {
		return
	}
	next := make(map[string]*Session, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	e.live.Store(&next)
	e.reportActive(next)
}

func (e *Engine) reportActive(table map[string]*Session) {
	if e.metrics == nil {
		return
	}
	n := 0
	for _, s := range table {
		if !s.State.Terminal() {
			n++
		}
	}
	e.metrics.ActiveSessions(n)
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
