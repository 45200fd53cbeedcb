package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Test status tags supplied when a capture is finished.
const (
	StatusPass  = "PASS"
	StatusFail  = "FAIL"
	StatusError = "ERROR"
	StatusOther = "OTHER"
	// StatusFailed marks a capture whose recording could not be finalized.
	StatusFailed = "FAILED"
)

// Container formats the encoder can write.
const (
	FormatAVI = "avi"
	FormatMP4 = "mp4"
)

// MaskedValue replaces sensitive meta values in API responses.
const MaskedValue = "########"

// ValidTestStatus reports whether s is a status a caller may finish with.
func ValidTestStatus(s string) bool {
	switch s {
	case StatusPass, StatusFail, StatusError, StatusOther:
		return true
	}
	return false
}

// Region is the screen rectangle sampled by the encoder, in pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the region has a positive size.
func (r Region) Valid() bool { return r.Width > 0 && r.Height > 0 }

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// ParseRegion reads the WIDTHxHEIGHT+X+Y form produced by String. The offset is optional.
func ParseRegion(s string) (Region, error) {
	var r Region
	s = strings.TrimSpace(s)
	var err error
	if strings.Contains(s, "+") {
		_, err = fmt.Sscanf(s, "%dx%d+%d+%d", &r.Width, &r.Height, &r.X, &r.Y)
	} else {
		_, err = fmt.Sscanf(s, "%dx%d", &r.Width, &r.Height)
	}
	if err != nil {
		return Region{}, fmt.Errorf("parse region %q: %w", s, err)
	}
	if !r.Valid() {
		return Region{}, fmt.Errorf("parse region %q: width and height must be positive", s)
	}
	return r, nil
}

// LogEntry is one test log line attached at finish.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message"`
}

// VideoRecord fixes where and how a capture is encoded. Immutable once a session starts.
type VideoRecord struct {
	ID        string    `json:"id"`
	Folder    string    `json:"folder"`
	Format    string    `json:"format"`
	Region    Region    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

// Filename returns the video file name, e.g. 2024-01-02_10-00-00_ab12cd.avi.
func (r VideoRecord) Filename() string { return r.ID + "." + r.Format }

// RelPath returns the slash separated video path relative to the video directory.
func (r VideoRecord) RelPath() string { return path.Join(r.Folder, r.Filename()) }

// SessionMetadata is the test data glued to a recording.
type SessionMetadata struct {
	Project     string            `json:"project,omitempty"`
	Feature     string            `json:"feature,omitempty"`
	Scenario    string            `json:"scenario,omitempty"`
	SID         *int64            `json:"sid,omitempty"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	Error       string            `json:"error,omitempty"`
	StackTrace  string            `json:"stack_trace,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Logs        []LogEntry        `json:"logs,omitempty"`
}

// Video is the persisted capture: the record, its metadata and timing.
type Video struct {
	VideoRecord
	SessionMetadata
	Environment     map[string]string `json:"environment,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
}

// Failed reports whether the capture itself failed (as opposed to the test).
func (v *Video) Failed() bool { return v.Status == StatusFailed }

// Summary projects the video for listings.
func (v *Video) Summary() VideoSummary {
	return VideoSummary{
		ID:         v.ID,
		Folder:     v.Folder,
		Format:     v.Format,
		Status:     v.Status,
		Project:    v.Project,
		Feature:    v.Feature,
		Scenario:   v.Scenario,
		Error:      v.Error,
		CreatedAt:  v.CreatedAt,
		FinishedAt: v.FinishedAt,
	}
}

// Masked returns a copy whose meta values are hidden for every key in keys, or for all keys when all is set.
func (v Video) Masked(keys []string, all bool) Video {
	if len(v.Meta) == 0 {
		return v
	}
	hide := make(map[string]bool, len(keys))
	for _, k := range keys {
		hide[k] = true
	}
	meta := make(map[string]string, len(v.Meta))
	for k, val := range v.Meta {
		if all || hide[k] {
			val = MaskedValue
		}
		meta[k] = val
	}
	v.Meta = meta
	return v
}

// VideoSummary is the listing view of a persisted video. Never stored.
type VideoSummary struct {
	ID         string     `json:"id"`
	Folder     string     `json:"folder"`
	Format     string     `json:"format"`
	Status     string     `json:"status"`
	Project    string     `json:"project,omitempty"`
	Feature    string     `json:"feature,omitempty"`
	Scenario   string     `json:"scenario,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
