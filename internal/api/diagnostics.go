package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/speechlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/speechlink/internal/journal"
)

// recentEntries is how many journal entries diagnostics includes.
const recentEntries = 10

// Diagnostics is the response of GET /api/v1/diagnostics.
type Diagnostics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Capture       CaptureStatus   `json:"capture"`
	Broker        BrokerInfo      `json:"broker"`
	WebSocket     WSMetrics       `json:"websocket"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Journal       *JournalSummary `json:"journal,omitempty"`
}

// CaptureStatus contains push-to-talk state.
type CaptureStatus struct {
	State string `json:"state"`
}

// BrokerInfo contains the broker connection state.
type BrokerInfo struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// JournalSummary contains outcome counts and the most recent entries.
type JournalSummary struct {
	Counts map[string]int  `json:"counts"`
	Recent []journal.Entry `json:"recent"`
	Error  string          `json:"error,omitempty"`
}

// handleDiagnostics reports everything needed to tell why an utterance did
// not arrive: control state, broker state, and what happened to recent ones.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	broker := s.brokerState()
	diag := Diagnostics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Capture:       CaptureStatus{State: s.trigger.State().String()},
		Broker: BrokerInfo{
			State:     broker.String(),
			Connected: broker == mqtt.StateConnected,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.journal != nil {
		diag.Journal = s.journalSummary(r)
	}

	writeJSON(w, http.StatusOK, diag)
}

// journalSummary never fails the request; a journal error is reported inline.
func (s *Server) journalSummary(r *http.Request) *JournalSummary {
	summary := &JournalSummary{Counts: map[string]int{}, Recent: []journal.Entry{}}

	counts, err := s.journal.Counts(r.Context())
	if err != nil {
		s.logger.Warn("diagnostics: journal counts failed", "error", err)
		summary.Error = err.Error()
		return summary
	}
	for result, n := range counts {
		summary.Counts[string(result)] = n
	}

	recent, err := s.journal.List(r.Context(), journal.Filter{Limit: recentEntries})
	if err != nil {
		s.logger.Warn("diagnostics: journal list failed", "error", err)
		summary.Error = err.Error()
		return summary
	}
	summary.Recent = recent.Entries
	return summary
}
