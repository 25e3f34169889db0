package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/speechlink/internal/infrastructure/config"
	"github.com/nerrad567/speechlink/internal/utterance"
)

// eventQueueSize bounds pending input and device events.
const eventQueueSize = 256

// UtteranceHandler consumes a finished utterance. It is called on the
// controller loop, so it must not block for long.
type UtteranceHandler interface {
	HandleUtterance(ctx context.Context, u utterance.Utterance) utterance.Outcome
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tunes the controller.
type Options struct {
	Profile Profile

	// MaxDuration releases a session automatically. 0 disables the limit.
	MaxDuration time.Duration

	// StopTimeout finalizes with what was received if the device never
	// acknowledges a stop. 0 waits forever.
	StopTimeout time.Duration

	// GestureWindow suppresses an engage from a different source arriving
	// this soon after a release.
	GestureWindow time.Duration
}

// OptionsFromConfig builds controller options from the capture section.
// The container and codec are fixed; only the input side is configurable.
func OptionsFromConfig(cfg config.CaptureConfig) Options {
	profile := DefaultProfile()
	if cfg.SampleRate > 0 {
		profile.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		profile.Channels = cfg.Channels
	}
	profile.EchoCancellation = cfg.EchoCancellation
	profile.NoiseSuppression = cfg.NoiseSuppression

	return Options{
		Profile:       profile,
		MaxDuration:   cfg.GetMaxDuration(),
		StopTimeout:   cfg.GetStopTimeout(),
		GestureWindow: cfg.GetGestureWindow(),
	}
}

type eventKind int

const (
	evEngage eventKind = iota
	evRelease
	evFragment
	evStopped
	evMaxDuration
	evStopTimeout
)

type event struct {
	kind      eventKind
	source    Source
	sessionID string
	data      []byte
	err       error
}

// Controller is the push-to-talk state machine.
//
// Engage and Release only enqueue; Run is the single consumer that performs
// every transition, fragment append and stop acknowledgement in order.
type Controller struct {
	device  Device
	handler UtteranceHandler
	opts    Options
	logger  Logger
	now     func() time.Time

	events  chan event
	stopped chan struct{} // closed when Run returns
	runOnce sync.Once

	// Loop-owned state. Only Run reads or writes these.
	state             State
	session           *Session
	stream            Stream
	stopRequested     bool
	lastRelease       time.Time
	lastReleaseSource Source
	maxTimer          *time.Timer
	stopTimer         *time.Timer

	// Published copy of state for State().
	stateMu       sync.RWMutex
	observedState State

	callbackMu    sync.RWMutex
	onStateChange func(State)
	onOutcome     func(utterance.Outcome)
}

// NewController creates a controller in the Idle state. Call Run to start it.
func NewController(device Device, handler UtteranceHandler, opts Options) *Controller {
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}
	return &Controller{
		device:  device,
		handler: handler,
		opts:    opts,
		logger:  noopLogger{},
		now:     time.Now,
		events:  make(chan event, eventQueueSize),
		stopped: make(chan struct{}),
		state:   StateIdle,
	}
}

// SetLogger sets the logger. Call before Run.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetOnStateChange sets a callback invoked on the loop after every transition.
func (c *Controller) SetOnStateChange(callback func(State)) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetOnOutcome sets a callback invoked on the loop for every session outcome.
func (c *Controller) SetOnOutcome(callback func(utterance.Outcome)) {
	c.callbackMu.Lock()
	c.onOutcome = callback
	c.callbackMu.Unlock()
}

// State returns the current control state.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.observedState
}

// Engage requests the start of a recording.
func (c *Controller) Engage(source Source) {
	c.post(event{kind: evEngage, source: source})
}

// Release requests the end of the current recording.
func (c *Controller) Release(source Source) {
	c.post(event{kind: evRelease, source: source})
}

// post enqueues an event. Events posted after Run has returned are dropped.
func (c *Controller) post(ev event) {
	select {
	case <-c.stopped:
	case c.events <- ev:
	}
}

// sessionSink tags device callbacks with the session they belong to.
type sessionSink struct {
	c         *Controller
	sessionID string
}

func (s sessionSink) Fragment(data []byte) {
	s.c.post(event{kind: evFragment, sessionID: s.sessionID, data: data})
}

func (s sessionSink) Stopped(err error) {
	s.c.post(event{kind: evStopped, sessionID: s.sessionID, err: err})
}

// Run processes events until ctx is cancelled. An open session is stopped
// and discarded on the way out. Run may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("capture: controller already running")
	}
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evEngage:
		c.handleEngage(ctx, ev.source)
	case evRelease:
		c.handleRelease(ev.source)
	case evFragment:
		if c.current(ev.sessionID) && c.state != StateIdle {
			c.session.append(ev.data)
		}
	case evStopped:
		c.handleStopped(ctx, ev.sessionID, ev.err)
	case evMaxDuration:
		if c.current(ev.sessionID) && c.state == StateRecording {
			c.logger.Info("maximum recording duration reached, releasing",
				"session_id", ev.sessionID,
				"max_duration", c.opts.MaxDuration,
			)
			c.requestStop()
		}
	case evStopTimeout:
		if c.current(ev.sessionID) && c.state == StateFinalizing {
			c.logger.Warn("device did not acknowledge stop, finalizing",
				"session_id", ev.sessionID,
				"timeout", c.opts.StopTimeout,
			)
			c.finalize(ctx)
		}
	}
}

// current reports whether id names the open session.
func (c *Controller) current(id string) bool {
	return c.session != nil && c.session.ID == id
}

func (c *Controller) handleEngage(ctx context.Context, source Source) {
	if c.state != StateIdle {
		c.logger.Debug("engage ignored", "state", c.state.String(), "source", source.String())
		return
	}

	now := c.now()
	if !c.lastRelease.IsZero() &&
		source != c.lastReleaseSource &&
		now.Sub(c.lastRelease) < c.opts.GestureWindow {
		c.logger.Debug("engage ignored as duplicate gesture",
			"source", source.String(),
			"previous_source", c.lastReleaseSource.String(),
		)
		return
	}

	session := newSession(now)
	stream, err := c.device.Open(ctx, c.opts.Profile, sessionSink{c: c, sessionID: session.ID})
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		c.logger.Warn("capture device unavailable", "error", err, "source", source.String())
		c.emitOutcome(utterance.Outcome{
			Result: utterance.ResultDeviceUnavailable,
			At:     now.UTC(),
			Err:    err,
		})
		return
	}

	c.session = session
	c.stream = stream
	c.stopRequested = false

	if c.opts.MaxDuration > 0 {
		id := session.ID
		c.maxTimer = time.AfterFunc(c.opts.MaxDuration, func() {
			c.post(event{kind: evMaxDuration, sessionID: id})
		})
	}

	c.logger.Info("recording started", "session_id", session.ID, "source", source.String())
	c.setState(StateRecording)
}

func (c *Controller) handleRelease(source Source) {
	if c.state != StateRecording {
		c.logger.Debug("release ignored", "state", c.state.String(), "source", source.String())
		return
	}

	c.lastRelease = c.now()
	c.lastReleaseSource = source
	c.requestStop()
}

// requestStop asks the device to stop and waits for the acknowledgement in
// Finalizing, so fragments still in flight are kept.
func (c *Controller) requestStop() {
	c.stopRequested = true
	c.stopTimerOff(&c.maxTimer)

	if err := c.stream.Stop(); err != nil {
		c.logger.Warn("device stop request failed", "session_id", c.session.ID, "error", err)
	}

	if c.opts.StopTimeout > 0 {
		id := c.session.ID
		c.stopTimer = time.AfterFunc(c.opts.StopTimeout, func() {
			c.post(event{kind: evStopTimeout, sessionID: id})
		})
	}

	c.setState(StateFinalizing)
}

func (c *Controller) handleStopped(ctx context.Context, id string, err error) {
	if !c.current(id) {
		return
	}

	switch {
	case c.state == StateFinalizing:
		if err != nil {
			c.logger.Debug("device reported error on requested stop", "session_id", id, "error", err)
		}
		c.finalize(ctx)

	case c.state == StateRecording && err != nil:
		failure := fmt.Errorf("%w: %w", ErrDeviceFailed, err)
		c.logger.Error("capture device failed, discarding session",
			"session_id", id,
			"error", failure,
		)
		outcome := utterance.Outcome{
			SessionID: id,
			Result:    utterance.ResultDiscarded,
			Size:      c.session.Size(),
			Fragments: c.session.Fragments(),
			Duration:  c.now().Sub(c.session.StartedAt),
			At:        c.now().UTC(),
			Err:       failure,
		}
		c.session.discard()
		c.clearSession()
		c.setState(StateIdle)
		c.emitOutcome(outcome)

	case c.state == StateRecording:
		// The device ended cleanly without being asked; keep what it produced
		c.logger.Info("capture device ended stream", "session_id", id)
		c.finalize(ctx)
	}
}

// finalize closes the session, hands the utterance on and returns to Idle.
func (c *Controller) finalize(ctx context.Context) {
	u := c.session.close(c.now())
	c.clearSession()

	c.logger.Info("recording finished",
		"session_id", u.SessionID,
		"bytes", u.Size(),
		"fragments", u.Fragments,
		"duration", u.Duration,
	)

	var outcome utterance.Outcome
	if c.handler != nil {
		outcome = c.handler.HandleUtterance(ctx, u)
	} else {
		outcome = utterance.OutcomeFor(u, utterance.ResultDiscarded, nil)
	}

	c.setState(StateIdle)
	c.emitOutcome(outcome)
}

// shutdown stops and discards an open session when Run exits.
func (c *Controller) shutdown() {
	if c.session == nil {
		return
	}
	if !c.stopRequested {
		if err := c.stream.Stop(); err != nil {
			c.logger.Warn("device stop on shutdown failed", "error", err)
		}
	}
	c.logger.Info("discarding open session on shutdown", "session_id", c.session.ID)
	c.session.discard()
	c.clearSession()
	c.setState(StateIdle)
}

func (c *Controller) clearSession() {
	c.stopTimerOff(&c.maxTimer)
	c.stopTimerOff(&c.stopTimer)
	c.session = nil
	c.stream = nil
	c.stopRequested = false
}

func (c *Controller) stopTimerOff(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s

	c.stateMu.Lock()
	c.observedState = s
	c.stateMu.Unlock()

	c.logger.Debug("capture state changed", "from", prev.String(), "to", s.String())

	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

func (c *Controller) emitOutcome(o utterance.Outcome) {
	c.callbackMu.RLock()
	callback := c.onOutcome
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(o)
	}
}
