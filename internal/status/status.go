// Package status composes the engine and upload views into one report.
package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/session"
)

// Info is static data about the running server.
type Info struct {
	Version       string        `json:"version,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	DefaultRegion models.Region `json:"default_region"`
}

// UploadSummary counts tracked uploads by state.
type UploadSummary struct {
	Total     int                   `json:"total"`
	Scheduled int                   `json:"scheduled"`
	Uploading int                   `json:"uploading"`
	Finished  int                   `json:"finished"`
	Failed    int                   `json:"failed"`
	Items     []models.UploadStatus `json:"items"`
	Error     string                `json:"error,omitempty"`
}

// CombinedStatus is what GET /api and the status websocket report.
type CombinedStatus struct {
	Info
	Recording     bool           `json:"recording"`
	Engine        session.Status `json:"engine"`
	Uploads       UploadSummary  `json:"uploads"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Aggregate builds the combined status. It has no side effects and keeps no state.
func Aggregate(engine session.Status, uploads []models.UploadStatus, info Info, now time.Time) CombinedStatus {
	items := make([]models.UploadStatus, len(uploads))
	copy(items, uploads)
	sum := UploadSummary{Total: len(items), Items: items}
	for _, u := range items {
		switch u.State {
		case models.UploadScheduled:
			sum.Scheduled++
		case models.UploadUploading:
			sum.Uploading++
		case models.UploadFinished:
			sum.Finished++
		case models.UploadError:
			sum.Failed++
		}
	}
	var uptime float64
	if !info.StartedAt.IsZero() {
		uptime = now.Sub(info.StartedAt).Seconds()
	}
	return CombinedStatus{
		Info:          info,
		Recording:     engine.Recording,
		Engine:        engine,
		Uploads:       sum,
		UptimeSeconds: uptime,
		GeneratedAt:   now,
	}
}

// EngineSource is read for the live capture state.
type EngineSource interface {
	Status() session.Status
}

// UploadSource is polled for the upload snapshot.
type UploadSource interface {
	Statuses(ctx context.Context) ([]models.UploadStatus, error)
}

// Reporter pulls both sources on every call.
type Reporter struct {
	engine  EngineSource
	uploads UploadSource
	info    Info
	log     *zap.Logger
	now     func() time.Time
}

// NewReporter creates a reporter. uploads may be nil when the upload subsystem is disabled.
func NewReporter(engine EngineSource, uploads UploadSource, info Info, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{engine: engine, uploads: uploads, info: info, log: log, now: time.Now}
}

// Snapshot returns the current combined status. An unreachable upload source is
// reported in Uploads.Error rather than failing the whole report.
func (r *Reporter) Snapshot(ctx context.Context) CombinedStatus {
	var (
		uploads []models.UploadStatus
		upErr   error
	)
	if r.uploads != nil {
		uploads, upErr = r.uploads.Statuses(ctx)
	}
	cs := Aggregate(r.engine.Status(), uploads, r.info, r.now())
	if upErr != nil {
		r.log.Warn("upload status unavailable", zap.Error(upErr))
		cs.Uploads.Error = upErr.Error()
	}
	return cs
}
