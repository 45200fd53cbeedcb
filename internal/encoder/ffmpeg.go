package encoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
)

const (
	defaultFrameRate   = 10
	defaultStopTimeout = 10 * time.Second
	// ffmpeg exits within this window when the display cannot be opened.
	defaultStartupGrace = 500 * time.Millisecond
	stderrTailBytes     = 4096
)

// FFmpegConfig configures the ffmpeg screen grabber.
type FFmpegConfig struct {
	Binary         string        // ffmpeg executable; empty = "ffmpeg" from PATH
	InputFormat    string        // x11grab, gdigrab or avfoundation; empty = picked from GOOS
	Display        string        // x11grab display (":0.0"), gdigrab "desktop", avfoundation screen index
	FrameRate      int           // frames per second; <= 0 = 10
	MaxDurationSec int           // ffmpeg -t; 0 = unlimited
	StopTimeout    time.Duration // time to wait for a graceful quit before killing
	StartupGrace   time.Duration
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	done   chan error
}

// FFmpeg implements Encoder by running one ffmpeg process per handle.
type FFmpeg struct {
	cfg   FFmpegConfig
	log   *zap.Logger
	mu    sync.Mutex
	procs map[string]*process
}

// NewFFmpeg creates an ffmpeg-backed encoder.
func NewFFmpeg(cfg FFmpegConfig, log *zap.Logger) *FFmpeg {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat(runtime.GOOS)
	}
	if cfg.Display == "" {
		cfg.Display = defaultDisplay(cfg.InputFormat)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = defaultFrameRate
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = defaultStartupGrace
	}
	return &FFmpeg{cfg: cfg, log: log, procs: make(map[string]*process)}
}

// Begin starts ffmpeg for the region. The request ctx is not attached to the process so
// the recording outlives the call that started it.
func (f *FFmpeg) Begin(_ context.Context, region models.Region, outputPath, format string) (Handle, error) {
	if !region.Valid() {
		return Handle{}, fmt.Errorf("%w: invalid region %s", ErrUnavailable, region)
	}
	bin, err := exec.LookPath(f.cfg.Binary)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %s not found: %v", ErrUnavailable, f.cfg.Binary, err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return Handle{}, fmt.Errorf("%w: create output dir: %v", ErrUnavailable, err)
	}

	cmd := exec.Command(bin, BuildArgs(f.cfg, region, outputPath, format)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("%w: stdin pipe: %v", ErrUnavailable, err)
	}
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stdout = nil
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("%w: start ffmpeg: %v", ErrUnavailable, err)
	}

	p := &process{cmd: cmd, stdin: stdin, stderr: stderr, done: make(chan error, 1)}
	go func() { p.done <- cmd.Wait() }()

	select {
	case werr := <-p.done:
		_ = os.Remove(outputPath)
		return Handle{}, fmt.Errorf("%w: ffmpeg exited during startup (%v): %s", ErrUnavailable, werr, stderr.String())
	case <-time.After(f.cfg.StartupGrace):
	}

	h := Handle{
		ID:         uuid.New().String(),
		OutputPath: outputPath,
		Format:     format,
		Region:     region,
		StartedAt:  time.Now(),
	}
	f.mu.Lock()
	f.procs[h.ID] = p
	f.mu.Unlock()

	f.log.Info("encoder started", zap.String("handle", h.ID), zap.String("region", region.String()), zap.String("output", outputPath), zap.Int("pid", cmd.Process.Pid))
	return h, nil
}

// End asks ffmpeg to quit, waits for it to write the trailer, and kills it after StopTimeout.
// A killed process still leaves whatever was flushed on disk. ctx is ignored: cancelling
// a stop halfway would lose the trailer, so only StopTimeout bounds the wait.
func (f *FFmpeg) End(_ context.Context, h Handle) error {
	f.mu.Lock()
	p, ok := f.procs[h.ID]
	delete(f.procs, h.ID)
	f.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}

	// "q" on stdin is ffmpeg's graceful stop: it finishes the container index before exiting.
	_, _ = io.WriteString(p.stdin, "q")
	_ = p.stdin.Close()

	var waitErr error
	select {
	case waitErr = <-p.done:
	case <-time.After(f.cfg.StopTimeout):
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case waitErr = <-p.done:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			waitErr = <-p.done
		}
	}

	info, statErr := os.Stat(h.OutputPath)
	if statErr != nil || info.Size() == 0 {
		return fmt.Errorf("%w: output %s missing or empty (exit: %v): %s", ErrIO, h.OutputPath, waitErr, p.stderr.String())
	}
	if waitErr != nil {
		f.log.Warn("ffmpeg exited with error after stop", zap.String("handle", h.ID), zap.Error(waitErr))
	}
	f.log.Info("encoder stopped", zap.String("handle", h.ID), zap.String("output", h.OutputPath), zap.Int64("size", info.Size()))
	return nil
}

// BuildArgs returns the ffmpeg argument list for grabbing region into outputPath.
func BuildArgs(cfg FFmpegConfig, region models.Region, outputPath, format string) []string {
	fps := strconv.Itoa(cfg.FrameRate)
	size := fmt.Sprintf("%dx%d", region.Width, region.Height)

	var args []string
	switch cfg.InputFormat {
	case "gdigrab":
		args = []string{"-f", "gdigrab", "-framerate", fps,
			"-offset_x", strconv.Itoa(region.X), "-offset_y", strconv.Itoa(region.Y),
			"-video_size", size, "-i", cfg.Display}
	case "avfoundation":
		// avfoundation grabs the whole screen; crop to the region.
		args = []string{"-f", "avfoundation", "-framerate", fps, "-capture_cursor", "1",
			"-i", cfg.Display + ":none",
			"-vf", fmt.Sprintf("crop=%d:%d:%d:%d", region.Width, region.Height, region.X, region.Y)}
	default:
		args = []string{"-f", "x11grab", "-framerate", fps, "-video_size", size,
			"-i", fmt.Sprintf("%s+%d,%d", cfg.Display, region.X, region.Y)}
	}

	switch format {
	case models.FormatMP4:
		args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p")
	default:
		args = append(args, "-c:v", "mpeg4", "-q:v", "5")
	}
	if cfg.MaxDurationSec > 0 {
		args = append(args, "-t", strconv.Itoa(cfg.MaxDurationSec))
	}
	return append(args, "-y", outputPath)
}

func defaultInputFormat(goos string) string {
	switch goos {
	case "windows":
		return "gdigrab"
	case "darwin":
		return "avfoundation"
	default:
		return "x11grab"
	}
}

func defaultDisplay(inputFormat string) string {
	switch inputFormat {
	case "gdigrab":
		return "desktop"
	case "avfoundation":
		return "1"
	default:
		if d := os.Getenv("DISPLAY"); d != "" {
			return d
		}
		return ":0.0"
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
