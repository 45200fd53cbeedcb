package session

import (
	"errors"
	"fmt"

	"github.com/capturekit/server/internal/encoder"
	"github.com/capturekit/server/internal/recorder"
	"github.com/capturekit/server/internal/videos"
)

var (
	// ErrInvalidSessionState is returned when an operation does not apply to the session's current state.
	ErrInvalidSessionState = errors.New("invalid session state")
	// ErrSessionBusy is returned when deleting a session that is still live.
	ErrSessionBusy = errors.New("session busy")
	// ErrInvalidParameter is returned for a bad region, missing finish status or an id already in use.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Code classifies an engine failure for callers that cannot use errors.Is (wire, CLI).
type Code string

const (
	CodeAlreadyRecording    Code = "ALREADY_RECORDING"
	CodeEncoderUnavailable  Code = "ENCODER_UNAVAILABLE"
	CodeEncoderIO           Code = "ENCODER_IO_ERROR"
	CodeInvalidSessionState Code = "INVALID_SESSION_STATE"
	CodeSessionBusy         Code = "SESSION_BUSY"
	CodeStoreIO             Code = "STORE_IO_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidParameter    Code = "INVALID_PARAMETER"
	CodeInternal            Code = "INTERNAL"
)

// Error is returned by every Engine operation that fails.
type Error struct {
	Code      Code
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(id string, err error) *Error {
	return &Error{Code: classify(err), SessionID: id, Err: err}
}

// CodeOf returns the code carried by err, classifying plain errors by their sentinel.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return classify(err)
}

func classify(err error) Code {
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return CodeAlreadyRecording
	case errors.Is(err, encoder.ErrUnavailable):
		return CodeEncoderUnavailable
	case errors.Is(err, encoder.ErrIO):
		return CodeEncoderIO
	case errors.Is(err, ErrInvalidSessionState):
		return CodeInvalidSessionState
	case errors.Is(err, ErrSessionBusy):
		return CodeSessionBusy
	case errors.Is(err, ErrInvalidParameter):
		return CodeInvalidParameter
	case errors.Is(err, videos.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, videos.ErrStoreIO):
		return CodeStoreIO
	default:
		return CodeInternal
	}
}
