package utterance

import "time"

// Result names how a capture session ended.
type Result string

const (
	ResultPublished           Result = "published"
	ResultEmpty               Result = "empty"
	ResultDroppedNotConnected Result = "dropped_not_connected"
	ResultPublishFailed       Result = "publish_failed"
	ResultDiscarded           Result = "discarded"
	ResultDeviceUnavailable   Result = "device_unavailable"
)

// Outcome is reported once for every engage that reached the device,
// successful or not.
type Outcome struct {
	SessionID string        `json:"session_id,omitempty"`
	Result    Result        `json:"result"`
	Size      int           `json:"size_bytes"`
	Fragments int           `json:"fragments"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
	Err       error         `json:"-"`
}

// Error returns the error text, or "" when the outcome carries none.
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// OutcomeFor builds an Outcome describing u.
func OutcomeFor(u Utterance, result Result, err error) Outcome {
	return Outcome{
		SessionID: u.SessionID,
		Result:    result,
		Size:      u.Size(),
		Fragments: u.Fragments,
		Duration:  u.Duration,
		At:        time.Now().UTC(),
		Err:       err,
	}
}
