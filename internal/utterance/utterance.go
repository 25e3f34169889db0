// Package utterance turns a finished capture into the message the voice
// backend consumes.
//
// An Utterance is the contiguous audio of one push-to-talk session. The
// encoder base64-encodes it and wraps it in the transport envelope:
//
//	{"speech":["<base64 of the WebM/Opus bytes>"]}
//
// The array always holds exactly one element per message.
package utterance

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SpeechTopic is the topic every utterance is published on.
const SpeechTopic = "peopleconnect/speech"

// Utterance is the immutable result of one capture session.
type Utterance struct {
	SessionID string
	StartedAt time.Time
	Duration  time.Duration

	// Fragments is the number of device chunks concatenated into the data.
	Fragments int

	data []byte
}

// New builds an Utterance by concatenating fragments in order.
// The fragments are copied; later changes to them do not affect the result.
func New(sessionID string, startedAt time.Time, duration time.Duration, fragments [][]byte) Utterance {
	size := 0
	for _, f := range fragments {
		size += len(f)
	}
	data := make([]byte, 0, size)
	for _, f := range fragments {
		data = append(data, f...)
	}
	return Utterance{
		SessionID: sessionID,
		StartedAt: startedAt,
		Duration:  duration,
		Fragments: len(fragments),
		data:      data,
	}
}

// Bytes returns a copy of the audio data.
func (u Utterance) Bytes() []byte {
	out := make([]byte, len(u.data))
	copy(out, u.data)
	return out
}

// Size returns the audio length in bytes.
func (u Utterance) Size() int {
	return len(u.data)
}

// Empty reports whether the utterance carries no audio.
func (u Utterance) Empty() bool {
	return len(u.data) == 0
}

// Encode returns the standard base64 (RFC 4648, padded) text of the audio.
func Encode(u Utterance) (string, error) {
	if u.Empty() {
		return "", ErrEmptyCapture
	}
	return base64.StdEncoding.EncodeToString(u.data), nil
}

// Envelope is the JSON payload schema: {"speech":[...]}.
type Envelope struct {
	Speech []string `json:"speech"`
}

// TransportMessage is a topic plus the envelope published on it.
type TransportMessage struct {
	Topic   string
	Payload Envelope
}

// NewMessage wraps encoded audio in a message for SpeechTopic.
func NewMessage(encoded string) TransportMessage {
	return TransportMessage{
		Topic:   SpeechTopic,
		Payload: Envelope{Speech: []string{encoded}},
	}
}

// Marshal returns the JSON wire form of the payload.
func (m TransportMessage) Marshal() ([]byte, error) {
	b, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling speech envelope: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a wire payload and returns the decoded audio of each
// element. Used by the dry-run CLI and tests to check what would be sent.
func DecodeMessage(payload []byte) ([][]byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if len(env.Speech) == 0 {
		return nil, fmt.Errorf("%w: speech array is empty", ErrInvalidMessage)
	}

	out := make([][]byte, 0, len(env.Speech))
	for i, s := range env.Speech {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrInvalidMessage, i, err)
		}
		out = append(out, b)
	}
	return out, nil
}
