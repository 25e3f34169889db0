package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// outputBufferSize is the buffer size for reading subprocess stdout/stderr.
const outputBufferSize = 4096

// stderrTailSize is how much trailing stderr is kept for error reports.
const stderrTailSize = 512

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// StopSignal is sent to the process group by Stop. Defaults to SIGTERM.
	// ffmpeg finishes its container cleanly on SIGINT.
	StopSignal syscall.Signal

	// GracefulTimeout is how long to wait after StopSignal before SIGKILL.
	GracefulTimeout time.Duration

	// OnStdout receives every chunk read from stdout, in order.
	// The slice is owned by the callee. If nil, stdout is logged at debug level.
	OnStdout func(chunk []byte)

	// OnStart is called when the process starts successfully.
	OnStart func()

	// OnStop is called exactly once per Start, after stdout has been fully
	// drained. err is nil when the exit followed a Stop request or the
	// process exited cleanly.
	OnStop func(err error)
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs a single subprocess from Start until it exits, streaming
// its stdout to a callback.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	lastError     error
	stopRequested bool
	stderrTail    []byte

	// Closed when the process has exited and OnStop has returned.
	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.StopSignal == 0 {
		cfg.StopSignal = syscall.SIGTERM
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it.
// Returns an error if the process fails to start; OnStop is not called then.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.stderrTail = nil
	m.done = make(chan struct{})
	m.mu.Unlock()

	readers, err := m.startProcess(ctx)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(readers)

	return nil
}

// startProcess actually starts the subprocess and its output readers.
func (m *Manager) startProcess(ctx context.Context) (*sync.WaitGroup, error) {
	m.logger.Debug("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from operator config

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.mu.Unlock()

	// cmd.Wait closes the pipes, so it must not run until both readers finish
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.captureStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		m.captureStderr(stderr)
	}()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}

	return &readers, nil
}

// captureStdout forwards stdout chunks to OnStdout, or logs them.
func (m *Manager) captureStdout(r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if m.config.OnStdout != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				m.config.OnStdout(chunk)
			} else {
				m.logger.Debug("process output",
					"name", m.config.Name,
					"stream", "stdout",
					"output", string(buf[:n]),
				)
			}
		}
		if err != nil {
			return
		}
	}
}

// captureStderr logs stderr and keeps its tail for error reports.
func (m *Manager) captureStderr(r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("process output",
				"name", m.config.Name,
				"stream", "stderr",
				"output", string(buf[:n]),
			)
			m.mu.Lock()
			m.stderrTail = append(m.stderrTail, buf[:n]...)
			if len(m.stderrTail) > stderrTailSize {
				m.stderrTail = m.stderrTail[len(m.stderrTail)-stderrTailSize:]
			}
			m.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("output stream closed",
					"name", m.config.Name,
					"stream", "stderr",
				)
			}
			return
		}
	}
}

// monitor waits for the process to exit and reports how it ended.
func (m *Manager) monitor(readers *sync.WaitGroup) {
	m.mu.RLock()
	cmd := m.cmd
	done := m.done
	m.mu.RUnlock()

	readers.Wait()
	err := cmd.Wait()

	m.mu.Lock()
	stopRequested := m.stopRequested
	tail := strings.TrimSpace(string(m.stderrTail))
	m.mu.Unlock()

	var reported error
	switch {
	case stopRequested:
		m.logger.Debug("process stopped as requested", "name", m.config.Name)
		m.setStopped(StatusStopped, nil)
	case err != nil:
		reported = fmt.Errorf("%s exited: %w", m.config.Name, err)
		if tail != "" {
			reported = fmt.Errorf("%w (stderr: %s)", reported, lastLine(tail))
		}
		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"error", reported,
		)
		m.setStopped(StatusFailed, reported)
	default:
		m.logger.Debug("process exited", "name", m.config.Name)
		m.setStopped(StatusStopped, nil)
	}

	if m.config.OnStop != nil {
		m.config.OnStop(reported)
	}
	close(done)
}

func (m *Manager) setStopped(status Status, err error) {
	m.mu.Lock()
	m.status = status
	m.lastError = err
	m.mu.Unlock()
}

// lastLine returns the final line of s.
func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Stop asks the subprocess to exit and blocks until it has, OnStop included.
// It sends StopSignal to the process group, then SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done // Capture done channel under lock to avoid race
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Debug("stopping process", "name", m.config.Name, "pid", pid)

	// Use negative PID to signal the process group (created via Setpgid)
	if err := syscall.Kill(-pid, m.config.StopSignal); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to signal process group", "name", m.config.Name, "error", err)
		}
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
		}
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)

	return nil
}

// Done returns a channel closed once the current run has ended.
// It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError returns the error that ended the last run, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// PID returns the process ID, or 0 if never started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}
