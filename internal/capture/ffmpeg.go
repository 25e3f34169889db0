package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/speechlink/internal/infrastructure/config"
	"github.com/nerrad567/speechlink/internal/process"
)

// ffmpegStopTimeout is how long ffmpeg gets to flush the container after SIGINT.
const ffmpegStopTimeout = 2 * time.Second

// ffmpegStartupWindow bounds how long Open waits for the first output or an
// early exit. A process still running silently after it counts as recording.
const ffmpegStartupWindow = 1500 * time.Millisecond

// errNoOutput is reported when ffmpeg exits cleanly before writing anything.
var errNoOutput = errors.New("ffmpeg exited before producing audio")

// FFmpegDevice records the microphone through an ffmpeg subprocess, one
// process per session, with the WebM/Opus container streamed on stdout.
//
// Echo cancellation is not something ffmpeg does; it is expected from the
// configured input (for example PulseAudio's module-echo-cancel source).
// Noise suppression uses ffmpeg's afftdn filter.
type FFmpegDevice struct {
	cfg           config.CaptureConfig
	logger        Logger
	startupWindow time.Duration
}

// NewFFmpegDevice creates a device from capture configuration.
func NewFFmpegDevice(cfg config.CaptureConfig) *FFmpegDevice {
	return &FFmpegDevice{cfg: cfg, logger: noopLogger{}, startupWindow: ffmpegStartupWindow}
}

// SetLogger sets the logger used for the device and its subprocesses.
func (d *FFmpegDevice) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Args returns the ffmpeg command line for profile.
func (d *FFmpegDevice) Args(profile Profile) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-f", d.cfg.InputFormat,
		"-i", d.cfg.InputDevice,
		"-ac", strconv.Itoa(profile.Channels),
		"-ar", strconv.Itoa(profile.SampleRate),
	}
	if profile.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	args = append(args,
		"-c:a", "lib"+profile.Codec,
		"-f", profile.Container,
		"pipe:1",
	)
	return args
}

// Open starts ffmpeg for one session. It returns once ffmpeg has written
// its first output or has kept running for the startup window. A process
// that exits before either, such as one that cannot open the input, is
// reported as ErrDeviceUnavailable and the sink never hears from it.
func (d *FFmpegDevice) Open(ctx context.Context, profile Profile, sink Sink) (Stream, error) {
	if _, err := exec.LookPath(d.cfg.FFmpeg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if profile.EchoCancellation && !strings.Contains(strings.ToLower(d.cfg.InputDevice), "echo") {
		d.logger.Debug("echo cancellation relies on the input source",
			"input_device", d.cfg.InputDevice,
		)
	}

	gate := newStartupSink(sink)
	mgr := process.NewManager(process.Config{
		Name:            "ffmpeg",
		Binary:          d.cfg.FFmpeg,
		Args:            d.Args(profile),
		StopSignal:      syscall.SIGINT,
		GracefulTimeout: ffmpegStopTimeout,
		OnStdout:        gate.Fragment,
		OnStop:          gate.Stopped,
	})
	mgr.SetLogger(d.logger)

	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	window := time.NewTimer(d.startupWindow)
	defer window.Stop()

	select {
	case err := <-gate.ready:
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	case <-window.C:
		if !gate.settle() {
			// Output or exit raced the timer.
			if err := <-gate.ready; err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
			}
		}
	case <-ctx.Done():
		if !gate.settle() {
			if err := <-gate.ready; err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
			}
		}
		mgr.Stop() //nolint:errcheck // best effort
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, ctx.Err())
	}

	return &ffmpegStream{mgr: mgr}, nil
}

// startupSink forwards device callbacks to the session sink and reports
// on ready how startup ended: nil for first output, the exit error when
// the process stopped first. An exit before startup settles is not
// forwarded.
type startupSink struct {
	sink  Sink
	once  sync.Once
	ready chan error
}

func newStartupSink(sink Sink) *startupSink {
	return &startupSink{sink: sink, ready: make(chan error, 1)}
}

func (g *startupSink) Fragment(data []byte) {
	g.once.Do(func() { g.ready <- nil })
	g.sink.Fragment(data)
}

func (g *startupSink) Stopped(err error) {
	early := false
	g.once.Do(func() {
		early = true
		if err == nil {
			err = errNoOutput
		}
		g.ready <- err
	})
	if !early {
		g.sink.Stopped(err)
	}
}

// settle ends the startup phase without output. It reports false when a
// fragment or exit got there first, in which case ready holds the result.
func (g *startupSink) settle() bool {
	settled := false
	g.once.Do(func() { settled = true })
	return settled
}

// Probe runs "ffmpeg -version" and returns its first line.
func (d *FFmpegDevice) Probe(ctx context.Context) (string, error) {
	var (
		mu  sync.Mutex
		out bytes.Buffer
	)
	done := make(chan error, 1)

	mgr := process.NewManager(process.Config{
		Name:   "ffmpeg-probe",
		Binary: d.cfg.FFmpeg,
		Args:   []string{"-hide_banner", "-version"},
		OnStdout: func(chunk []byte) {
			mu.Lock()
			out.Write(chunk)
			mu.Unlock()
		},
		OnStop: func(err error) { done <- err },
	})
	mgr.SetLogger(d.logger)

	if err := mgr.Start(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	case <-ctx.Done():
		mgr.Stop() //nolint:errcheck // best effort
		return "", fmt.Errorf("probing ffmpeg: %w", ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	first, _, _ := strings.Cut(out.String(), "\n")
	return strings.TrimSpace(first), nil
}

// ffmpegStream is one running ffmpeg recording.
type ffmpegStream struct {
	mgr  *process.Manager
	once sync.Once
}

// Stop signals ffmpeg in the background; the manager's OnStop delivers the
// acknowledgement once stdout is drained.
func (s *ffmpegStream) Stop() error {
	s.once.Do(func() {
		go s.mgr.Stop() //nolint:errcheck // outcome arrives via OnStop
	})
	return nil
}
