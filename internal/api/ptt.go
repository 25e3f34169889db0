package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/speechlink/internal/capture"
)

// TriggerRequest is the optional body of engage and release requests.
type TriggerRequest struct {
	Source string `json:"source"`
}

// StateResponse reports push-to-talk and broker state.
type StateResponse struct {
	State  string `json:"state"`
	Broker string `json:"broker"`
}

// handleEngage asks the controller to start recording. The request is
// accepted as soon as it is queued; watch ptt.state_changed for the result.
func (s *Server) handleEngage(w http.ResponseWriter, r *http.Request) {
	source, ok := s.decodeSource(w, r)
	if !ok {
		return
	}
	s.trigger.Engage(source)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"action":   "engage",
		"source":   source.String(),
	})
}

// handleRelease asks the controller to stop recording and publish.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	source, ok := s.decodeSource(w, r)
	if !ok {
		return
	}
	s.trigger.Release(source)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"action":   "release",
		"source":   source.String(),
	})
}

// handlePTTState returns the current control and broker state.
func (s *Server) handlePTTState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		State:  s.trigger.State().String(),
		Broker: s.brokerState().String(),
	})
}

// decodeSource reads the optional trigger body. An empty body means the
// API itself is the input source.
func (s *Server) decodeSource(w http.ResponseWriter, r *http.Request) (capture.Source, bool) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return 0, false
	}

	source, err := capture.ParseSource(req.Source)
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, false
	}
	return source, true
}
