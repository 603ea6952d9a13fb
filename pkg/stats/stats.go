// Package stats tracks per-session counters and keeps a ledger of finished sessions.
package stats

import (
	"fmt"
	"time"
)

// DefaultCostPerToken is the flat estimate applied when no rate is configured.
const DefaultCostPerToken = 0.0001

// SessionStats counts the activity of one session. The counters only grow; EndTime is
// stamped once by Complete.
type SessionStats struct {
	SessionID     string     `json:"session_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	TotalMessages int64      `json:"total_messages"`
	TotalTokens   int64      `json:"total_tokens"`
	TotalCost     float64    `json:"total_cost"`

	costPerToken float64
}

// New starts the counters for a session. A non-positive rate uses DefaultCostPerToken.
func New(sessionID string, costPerToken float64) *SessionStats {
	if costPerToken <= 0 {
		costPerToken = DefaultCostPerToken
	}
	return &SessionStats{
		SessionID:    sessionID,
		StartTime:    time.Now().UTC(),
		costPerToken: costPerToken,
	}
}

func (s *SessionStats) AddMessage() {
	s.TotalMessages++
}

// AddTokens adds n tokens and their estimated cost. Negative counts are ignored.
func (s *SessionStats) AddTokens(n int64) {
	if n <= 0 {
		return
	}
	s.TotalTokens += n
	s.TotalCost += float64(n) * s.costPerToken
}

// Complete stamps the end time. Later calls keep the first stamp.
func (s *SessionStats) Complete() {
	if s.EndTime != nil {
		return
	}
	now := time.Now().UTC()
	s.EndTime = &now
}

// Completed reports whether Complete was called.
func (s *SessionStats) Completed() bool {
	return s.EndTime != nil
}

// Duration is measured up to EndTime, or up to now for a running session.
func (s *SessionStats) Duration() time.Duration {
	end := time.Now().UTC()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	d := end.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

func (s *SessionStats) Summary() string {
	return fmt.Sprintf("Session %s stats:\nDuration: %s\nMessages: %d\nTokens: %d\nEstimated cost: $%.4f",
		s.SessionID,
		s.Duration().Round(time.Millisecond),
		s.TotalMessages,
		s.TotalTokens,
		s.TotalCost,
	)
}

// Snapshot returns a copy that shares no memory with s.
func (s *SessionStats) Snapshot() SessionStats {
	out := *s
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return out
}
