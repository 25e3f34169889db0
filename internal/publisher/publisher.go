// Package publisher sends finished utterances to the broker.
//
// It is stateless: each utterance is encoded, wrapped in the speech
// envelope and handed to the connection once. Nothing is retried or
// queued; if the connection is down the utterance is dropped and the
// outcome says so.
package publisher

import (
	"context"
	"errors"

	"github.com/nerrad567/speechlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/speechlink/internal/utterance"
)

// Conn is the broker connection the publisher sends through.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Recorder stores outcomes (the utterance journal).
type Recorder interface {
	Record(ctx context.Context, o utterance.Outcome) error
}

// Observer receives outcomes for metrics.
type Observer interface {
	ObserveOutcome(o utterance.Outcome)
}

// Logger defines the logging interface for the publisher.
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

// Publisher implements capture.UtteranceHandler.
type Publisher struct {
	conn      Conn
	qos       byte
	logger    Logger
	recorder  Recorder
	observers []Observer
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithQoS sets the publish QoS (default 0).
func WithQoS(qos byte) Option {
	return func(p *Publisher) { p.qos = qos }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecorder stores every outcome through r.
func WithRecorder(r Recorder) Option {
	return func(p *Publisher) { p.recorder = r }
}

// WithObserver adds a metrics observer.
func WithObserver(o Observer) Option {
	return func(p *Publisher) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// New creates a publisher sending through conn.
func New(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{conn: conn, logger: noopLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleUtterance publishes u at most once and returns what happened.
// The outcome is not reported here; the controller delivers every outcome,
// including ones that never reach the publisher, to Report.
func (p *Publisher) HandleUtterance(_ context.Context, u utterance.Utterance) utterance.Outcome {
	encoded, err := utterance.Encode(u)
	if err != nil {
		return utterance.OutcomeFor(u, utterance.ResultEmpty, err)
	}

	msg := utterance.NewMessage(encoded)
	payload, err := msg.Marshal()
	if err != nil {
		return utterance.OutcomeFor(u, utterance.ResultPublishFailed, err)
	}

	err = p.conn.Publish(msg.Topic, payload, p.qos, false)
	switch {
	case err == nil:
		return utterance.OutcomeFor(u, utterance.ResultPublished, nil)
	case errors.Is(err, mqtt.ErrNotConnected):
		return utterance.OutcomeFor(u, utterance.ResultDroppedNotConnected, err)
	default:
		return utterance.OutcomeFor(u, utterance.ResultPublishFailed, err)
	}
}

// Report logs an outcome and passes it to the recorder and observers.
func (p *Publisher) Report(ctx context.Context, o utterance.Outcome) {
	args := []any{
		"session_id", o.SessionID,
		"result", string(o.Result),
		"bytes", o.Size,
		"duration", o.Duration,
	}
	if o.Err != nil {
		args = append(args, "error", o.Err)
	}

	switch o.Result {
	case utterance.ResultPublished:
		p.logger.Info("utterance published", args...)
	case utterance.ResultEmpty:
		p.logger.Debug("empty utterance not published", args...)
	case utterance.ResultDroppedNotConnected, utterance.ResultDeviceUnavailable, utterance.ResultDiscarded:
		p.logger.Warn("utterance not published", args...)
	default:
		p.logger.Error("utterance publish failed", args...)
	}

	for _, obs := range p.observers {
		obs.ObserveOutcome(o)
	}

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, o); err != nil {
			p.logger.Warn("failed to record utterance outcome", "error", err, "session_id", o.SessionID)
		}
	}
}
