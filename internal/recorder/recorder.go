package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/server/internal/encoder"
	"github.com/capturekit/server/internal/models"
)

// ErrAlreadyRecording is returned by Record while the slot is occupied.
var ErrAlreadyRecording = errors.New("already recording")

// State of the recorder's single encoding slot.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// Status is the last known recorder state.
type Status struct {
	State          State          `json:"state"`
	VideoID        string         `json:"video_id,omitempty"`
	Region         *models.Region `json:"region,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds,omitempty"`
}

// Recorder owns one encoding slot. It holds at most one encoder handle and nothing else
// references that handle.
type Recorder struct {
	enc encoder.Encoder
	log *zap.Logger

	mu      sync.Mutex
	state   State
	handle  *encoder.Handle
	videoID string

	// snapshot is swapped on every transition so Status never waits on mu.
	snapshot atomic.Pointer[Status]
}

// New creates a recorder around enc.
func New(enc encoder.Encoder, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{enc: enc, log: log, state: StateIdle}
	r.snapshot.Store(&Status{State: StateIdle})
	return r
}

// Record claims the slot and starts encoding rec's region into outputPath.
// The slot stays claimed until Stop has finalized the file.
func (r *Recorder) Record(ctx context.Context, rec models.VideoRecord, outputPath string) error {
	r.mu.Lock()
	if r.state != StateIdle {
		current := r.videoID
		r.mu.Unlock()
		r.log.Info("record rejected, slot busy", zap.String("video_id", rec.ID), zap.String("active_video_id", current))
		return ErrAlreadyRecording
	}
	r.state = StateStarting
	r.videoID = rec.ID
	r.publish(nil)
	r.mu.Unlock()

	h, err := r.enc.Begin(ctx, rec.Region, outputPath, rec.Format)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateIdle
		r.videoID = ""
		r.publish(nil)
		return err
	}
	r.state = StateRecording
	r.handle = &h
	r.publish(&h)
	r.log.Info("recording started", zap.String("video_id", rec.ID), zap.String("region", rec.Region.String()), zap.String("output", outputPath))
	return nil
}

// Stop finalizes the active encode and blocks until the file is closed.
// It is a no-op when nothing is recording.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRecording || r.handle == nil {
		r.mu.Unlock()
		return nil
	}
	h := *r.handle
	r.state = StateStopping
	r.publish(&h)
	r.mu.Unlock()

	err := r.enc.End(ctx, h)

	r.mu.Lock()
	r.state = StateIdle
	r.handle = nil
	videoID := r.videoID
	r.videoID = ""
	r.publish(nil)
	r.mu.Unlock()

	if err != nil {
		r.log.Error("recording stop failed", zap.String("video_id", videoID), zap.Error(err))
		return err
	}
	r.log.Info("recording stopped", zap.String("video_id", videoID), zap.String("output", h.OutputPath), zap.Duration("duration", time.Since(h.StartedAt)))
	return nil
}

// Status returns the last published state without blocking on Record or Stop.
func (r *Recorder) Status() Status {
	s := *r.snapshot.Load()
	if s.StartedAt != nil && (s.State == StateRecording || s.State == StateStopping) {
		s.ElapsedSeconds = time.Since(*s.StartedAt).Seconds()
	}
	return s
}

// Active reports whether the slot is claimed.
func (r *Recorder) Active() bool {
	return r.snapshot.Load().State != StateIdle
}

// publish must be called with mu held.
func (r *Recorder) publish(h *encoder.Handle) {
	s := &Status{State: r.state, VideoID: r.videoID}
	if h != nil {
		region := h.Region
		started := h.StartedAt
		s.Region = &region
		s.StartedAt = &started
	}
	r.snapshot.Store(s)
}
