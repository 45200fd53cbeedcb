package models

import "time"

// UploadState is the upload lifecycle of a persisted video.
const (
	UploadScheduled = "scheduled"
	UploadUploading = "uploading"
	UploadFinished  = "finished"
	UploadError     = "error"
)

// UploadStatus is the snapshot the upload subsystem reports per video.
type UploadStatus struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	URL          string     `json:"url,omitempty"`
	Key          string     `json:"key,omitempty"`
	Scheduled    time.Time  `json:"scheduled"`
	Started      *time.Time `json:"started,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
	Finished     *time.Time `json:"finished,omitempty"`
	Total        int64      `json:"total,omitempty"`
	Transferred  int64      `json:"transferred,omitempty"`
	ErrorMessage string     `json:"error,omitempty"`
}
