package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/speechlink/internal/utterance"
)

// Measurement names.
const (
	measurementUtterance = "ptt_utterance"
	measurementBroker    = "mqtt_connection"
)

// WriteUtterance writes one point describing a finished session.
//
// Tags: result, client_id. Fields: size_bytes, fragments, duration_ms, and
// error when the session failed.
func (c *Client) WriteUtterance(o utterance.Outcome) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(utterancePoint(c.clientTag(), o))
}

// ObserveOutcome lets the client be registered as a publisher observer.
func (c *Client) ObserveOutcome(o utterance.Outcome) {
	c.WriteUtterance(o)
}

// WriteBrokerState records a broker connection state change.
func (c *Client) WriteBrokerState(state string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(brokerPoint(c.clientTag(), state, time.Now()))
}

func utterancePoint(clientTag string, o utterance.Outcome) *write.Point {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]interface{}{
		"size_bytes":  o.Size,
		"fragments":   o.Fragments,
		"duration_ms": o.Duration.Milliseconds(),
	}
	if msg := o.Error(); msg != "" {
		fields["error"] = msg
	}

	return write.NewPoint(measurementUtterance, tags(clientTag, "result", string(o.Result)), fields, at)
}

func brokerPoint(clientTag, state string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementBroker,
		tags(clientTag, "state", state),
		map[string]interface{}{"value": 1},
		at,
	)
}

func tags(clientTag, key, value string) map[string]string {
	t := map[string]string{key: value}
	if clientTag != "" {
		t["client_id"] = clientTag
	}
	return t
}
