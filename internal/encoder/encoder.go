// Package encoder turns a screen region into a video file through an external capture tool.
package encoder

import (
	"context"
	"errors"
	"time"

	"github.com/capturekit/server/internal/models"
)

var (
	// ErrUnavailable means the capture resource (display, binary) could not be acquired.
	ErrUnavailable = errors.New("encoder unavailable")
	// ErrIO means the output file could not be finalized.
	ErrIO = errors.New("encoder io error")
	// ErrUnknownHandle is returned by End for a handle this encoder did not issue or already ended.
	ErrUnknownHandle = errors.New("unknown encoder handle")
)

// Handle identifies one running encode. Only the encoder that issued it can end it.
type Handle struct {
	ID         string
	OutputPath string
	Format     string
	Region     models.Region
	StartedAt  time.Time
}

// Encoder samples a screen region into outputPath until End is called.
type Encoder interface {
	// Begin starts encoding and returns once frames are being captured.
	Begin(ctx context.Context, region models.Region, outputPath, format string) (Handle, error)
	// End stops the encode and blocks until the file is flushed and closed.
	End(ctx context.Context, h Handle) error
}
