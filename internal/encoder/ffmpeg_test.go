package encoder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/server/internal/models"
)

func TestBuildArgs_X11Grab(t *testing.T) {
	cfg := FFmpegConfig{InputFormat: "x11grab", Display: ":1.0", FrameRate: 15, MaxDurationSec: 60}
	region := models.Region{X: 10, Y: 20, Width: 800, Height: 600}

	args := BuildArgs(cfg, region, "/tmp/out.avi", models.FormatAVI)
	assert.Equal(t, []string{
		"-f", "x11grab", "-framerate", "15", "-video_size", "800x600", "-i", ":1.0+10,20",
		"-c:v", "mpeg4", "-q:v", "5",
		"-t", "60",
		"-y", "/tmp/out.avi",
	}, args)
}

func TestBuildArgs_GDIGrabMP4(t *testing.T) {
	cfg := FFmpegConfig{InputFormat: "gdigrab", Display: "desktop", FrameRate: 10}
	region := models.Region{X: 0, Y: 0, Width: 1920, Height: 1200}

	args := BuildArgs(cfg, region, "out.mp4", models.FormatMP4)
	assert.Contains(t, args, "-offset_x")
	assert.Contains(t, args, "libx264")
	assert.NotContains(t, args, "-t")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestBuildArgs_AVFoundationCrops(t *testing.T) {
	cfg := FFmpegConfig{InputFormat: "avfoundation", Display: "1", FrameRate: 10}
	args := BuildArgs(cfg, models.Region{X: 5, Y: 6, Width: 100, Height: 200}, "o.avi", models.FormatAVI)
	assert.Contains(t, args, "1:none")
	assert.Contains(t, args, "crop=100:200:5:6")
}

func TestFFmpeg_BeginMissingBinary(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{Binary: "definitely-not-ffmpeg-binary"}, nil)
	out := filepath.Join(t.TempDir(), "x.avi")

	_, err := f.Begin(context.Background(), models.Region{Width: 10, Height: 10}, out, models.FormatAVI)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFFmpeg_BeginInvalidRegion(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{}, nil)
	_, err := f.Begin(context.Background(), models.Region{Width: 0, Height: 10}, "x.avi", models.FormatAVI)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFFmpeg_EndUnknownHandle(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{}, nil)
	err := f.End(context.Background(), Handle{ID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}

// The fake ffmpeg scripts receive the output path as their last argument, like the real
// binary, and treat "q" on stdin as the stop request.
const (
	fakeFFmpegGraceful = `#!/bin/sh
for out; do :; done
printf frames > "$out"
read q
printf +trailer >> "$out"
`
	fakeFFmpegSlowTrailer = `#!/bin/sh
for out; do :; done
printf frames > "$out"
read q
sleep 0.3
printf +trailer >> "$out"
`
	fakeFFmpegNoDisplay = `#!/bin/sh
echo "cannot open display" >&2
exit 1
`
	fakeFFmpegEmptyOutput = `#!/bin/sh
for out; do :; done
: > "$out"
read q
`
	fakeFFmpegIgnoresQuit = `#!/bin/sh
for out; do :; done
printf frames > "$out"
trap '' INT
exec sleep 30
`
)

func fakeFFmpeg(t *testing.T, script string) *FFmpeg {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return NewFFmpeg(FFmpegConfig{
		Binary:       bin,
		InputFormat:  "x11grab",
		StartupGrace: 100 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	}, nil)
}

func beginFake(t *testing.T, f *FFmpeg) Handle {
	t.Helper()
	out := filepath.Join(t.TempDir(), "nested", "cap.avi")
	h, err := f.Begin(context.Background(), models.Region{Width: 64, Height: 48}, out, models.FormatAVI)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	assert.Equal(t, out, h.OutputPath)
	return h
}

func TestFFmpeg_GracefulStopWritesTrailer(t *testing.T) {
	f := fakeFFmpeg(t, fakeFFmpegGraceful)
	h := beginFake(t, f)

	require.NoError(t, f.End(context.Background(), h))
	data, err := os.ReadFile(h.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "frames+trailer", string(data))

	assert.ErrorIs(t, f.End(context.Background(), h), ErrUnknownHandle)
}

func TestFFmpeg_EndFinishesWhenCallerCancels(t *testing.T) {
	f := fakeFFmpeg(t, fakeFFmpegSlowTrailer)
	h := beginFake(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	defer cancel()

	require.NoError(t, f.End(ctx, h))
	data, err := os.ReadFile(h.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "frames+trailer", string(data))
}

func TestFFmpeg_ExitDuringStartup(t *testing.T) {
	f := fakeFFmpeg(t, fakeFFmpegNoDisplay)
	out := filepath.Join(t.TempDir(), "cap.avi")

	_, err := f.Begin(context.Background(), models.Region{Width: 64, Height: 48}, out, models.FormatAVI)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "cannot open display")
	assert.NoFileExists(t, out)
}

func TestFFmpeg_EmptyOutputIsIOError(t *testing.T) {
	f := fakeFFmpeg(t, fakeFFmpegEmptyOutput)
	h := beginFake(t, f)

	assert.ErrorIs(t, f.End(context.Background(), h), ErrIO)
}

func TestFFmpeg_KilledAfterStopTimeoutKeepsFlushedFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the stop timeout and kill grace")
	}
	f := fakeFFmpeg(t, fakeFFmpegIgnoresQuit)
	f.cfg.StopTimeout = 100 * time.Millisecond
	h := beginFake(t, f)

	began := time.Now()
	require.NoError(t, f.End(context.Background(), h))
	assert.Less(t, time.Since(began), 10*time.Second)

	data, err := os.ReadFile(h.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
}
