package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capturekit/server/internal/encoder"
	"github.com/capturekit/server/internal/recorder"
	"github.com/capturekit/server/internal/videos"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{recorder.ErrAlreadyRecording, CodeAlreadyRecording},
		{fmt.Errorf("%w: no display", encoder.ErrUnavailable), CodeEncoderUnavailable},
		{encoder.ErrIO, CodeEncoderIO},
		{ErrInvalidSessionState, CodeInvalidSessionState},
		{ErrSessionBusy, CodeSessionBusy},
		{ErrInvalidParameter, CodeInvalidParameter},
		{videos.ErrNotFound, CodeNotFound},
		{fmt.Errorf("%w: disk", videos.ErrStoreIO), CodeStoreIO},
		{errors.New("other"), CodeInternal},
		{&Error{Code: CodeSessionBusy, Err: errors.New("x")}, CodeSessionBusy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), "%v", tt.err)
	}
}

func TestError_Message(t *testing.T) {
	err := newError("s1", ErrSessionBusy)
	assert.Equal(t, "session s1: SESSION_BUSY: session busy", err.Error())
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, "NOT_FOUND: video not found", newError("", videos.ErrNotFound).Error())
}
