package session

import (
	"strings"
	"time"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/recorder"
)

// State is a session's position in the capture lifecycle.
type State string

const (
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateFinishing State = "finishing"
	StatePersisted State = "persisted"
	StateFailed    State = "failed"
	StateDeleted   State = "deleted"
)

// Terminal reports whether no further transition other than delete is possible.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed || s == StateDeleted
}

// Session is one capture as the engine sees it. Values are never mutated in place;
// every transition stores a new copy.
type Session struct {
	ID        string                 `json:"id"`
	State     State                  `json:"state"`
	Record    models.VideoRecord     `json:"record"`
	Meta      models.SessionMetadata `json:"meta"`
	TempPath  string                 `json:"temp_path"`
	StartedAt time.Time              `json:"started_at"`
	Error     string                 `json:"error,omitempty"`
}

func (s *Session) with(state State) *Session {
	next := *s
	next.State = state
	return &next
}

// StartParams are the caller supplied values for a new capture.
type StartParams struct {
	// ID is optional; an id is generated when empty.
	ID          string
	Region      *models.Region
	Project     string
	Feature     string
	Scenario    string
	SID         *int64
	Description string
	Meta        map[string]string
}

// FinishParams are the values merged into the session metadata at finish.
type FinishParams struct {
	Status      string
	Description string
	Error       string
	StackTrace  string
	Meta        map[string]string
	Logs        []models.LogEntry
}

func (p FinishParams) normalized() FinishParams {
	p.Status = strings.ToUpper(strings.TrimSpace(p.Status))
	p.Description = strings.TrimSpace(p.Description)
	p.Error = strings.TrimSpace(p.Error)
	return p
}

// LiveSession is the status view of a session in the live table.
type LiveSession struct {
	ID             string        `json:"id"`
	State          State         `json:"state"`
	Folder         string        `json:"folder"`
	Region         models.Region `json:"region"`
	StartedAt      time.Time     `json:"started_at"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Error          string        `json:"error,omitempty"`
}

// Status is the engine's read-only view: live sessions plus the recorder slot.
type Status struct {
	Recording bool            `json:"recording"`
	Sessions  []LiveSession   `json:"sessions"`
	Recorder  recorder.Status `json:"recorder"`
}
