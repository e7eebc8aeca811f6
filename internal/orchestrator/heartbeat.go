// Heartbeat daemon: a thin consumer of the scheduler that periodically
// checks in with the assistant through a dedicated conversation, expecting
// a short acknowledgement. Status tracking and token stripping follow the
// same shape as the runtime's other monitor/config types, reduced to what's
// actually driven through this repo's own scheduler rather than a
// standalone timer loop.
package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// HeartbeatConfig configures the check-in cadence and how a response is
// judged to be a plain acknowledgement versus something worth surfacing.
type HeartbeatConfig struct {
	Enabled         bool
	Interval        time.Duration
	Prompt          string
	MaxAckChars     int
	MissedThreshold int
}

// DefaultHeartbeatPrompt is sent on every check-in tick.
const DefaultHeartbeatPrompt = "This is a scheduled check-in. If there is nothing to report, reply with exactly HEARTBEAT_OK and nothing else."

// DefaultHeartbeatConfig returns a 30-minute cadence with a 300-character
// acknowledgement budget and a missed-response threshold of 3, matching the
// reference DefaultConfig shape used elsewhere in this repo.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Enabled:         true,
		Interval:        30 * time.Minute,
		Prompt:          DefaultHeartbeatPrompt,
		MaxAckChars:     300,
		MissedThreshold: 3,
	}
}

// ResolvePrompt returns custom if non-empty, else DefaultHeartbeatPrompt.
func ResolvePrompt(custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return DefaultHeartbeatPrompt
}

// HeartbeatStatus is one conversation's last-known check-in health.
type HeartbeatStatus struct {
	ConversationID string
	LastSeen       time.Time
	LastResponse   string
	Healthy        bool
	MissedCount    int
}

// HeartbeatMonitor tracks per-conversation check-in health.
type HeartbeatMonitor struct {
	mu     sync.Mutex
	status map[string]*HeartbeatStatus
	cfg    HeartbeatConfig
}

// NewHeartbeatMonitor creates a monitor using cfg's missed-response
// threshold to decide health.
func NewHeartbeatMonitor(cfg HeartbeatConfig) *HeartbeatMonitor {
	return &HeartbeatMonitor{status: make(map[string]*HeartbeatStatus), cfg: cfg}
}

// Record marks a successful check-in response for conversationID.
func (m *HeartbeatMonitor) Record(conversationID, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[conversationID] = &HeartbeatStatus{
		ConversationID: conversationID,
		LastSeen:       time.Now(),
		LastResponse:   response,
		Healthy:        true,
		MissedCount:    0,
	}
}

// MarkMissed increments the missed-response counter for conversationID,
// flipping Healthy to false once MissedThreshold is reached.
func (m *HeartbeatMonitor) MarkMissed(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[conversationID]
	if !ok {
		s = &HeartbeatStatus{ConversationID: conversationID}
		m.status[conversationID] = s
	}
	s.MissedCount++
	if s.MissedCount >= m.cfg.MissedThreshold {
		s.Healthy = false
	}
}

// GetStatus returns the current status for conversationID, if any.
func (m *HeartbeatMonitor) GetStatus(conversationID string) (HeartbeatStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[conversationID]
	if !ok {
		return HeartbeatStatus{}, false
	}
	return *s, true
}

// GetAllStatuses returns a snapshot of every tracked conversation's status.
func (m *HeartbeatMonitor) GetAllStatuses() []HeartbeatStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HeartbeatStatus, 0, len(m.status))
	for _, s := range m.status {
		out = append(out, *s)
	}
	return out
}

// Remove drops conversationID from tracking (session closed).
func (m *HeartbeatMonitor) Remove(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, conversationID)
}

// heartbeatOKToken is the literal acknowledgement the check-in prompt asks
// for when there is nothing worth surfacing.
const heartbeatOKToken = "HEARTBEAT_OK"

// StripHeartbeatResult is the outcome of inspecting a check-in response.
type StripHeartbeatResult struct {
	// ShouldSkip is true when the response is a pure acknowledgement and
	// nothing should be surfaced to the user.
	ShouldSkip bool
	// Text is the response with the acknowledgement token removed, or the
	// original response unchanged if no token was present.
	Text string
	// DidStrip reports whether the token was found and removed.
	DidStrip bool
}

// StripHeartbeatToken inspects a heartbeat check-in response for the
// HEARTBEAT_OK acknowledgement token. A response containing the token whose
// remaining text (with the token removed) is no longer than maxAckChars is
// treated as a silent ack; a response without the token, or with more text
// than that, is left for the caller to surface.
func StripHeartbeatToken(raw string, maxAckChars int) StripHeartbeatResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StripHeartbeatResult{ShouldSkip: true, Text: "", DidStrip: false}
	}
	if maxAckChars <= 0 {
		maxAckChars = DefaultHeartbeatConfig().MaxAckChars
	}

	idx := strings.Index(strings.ToUpper(trimmed), heartbeatOKToken)
	if idx == -1 {
		return StripHeartbeatResult{ShouldSkip: false, Text: trimmed, DidStrip: false}
	}

	rest := strings.TrimSpace(trimmed[:idx] + trimmed[idx+len(heartbeatOKToken):])
	if rest == "" {
		return StripHeartbeatResult{ShouldSkip: true, Text: "", DidStrip: true}
	}
	// Whatever's left of the token is still short enough to count as a
	// decorated ack ("HEARTBEAT_OK - all good") rather than a substantive
	// update worth surfacing.
	if len(rest) <= maxAckChars {
		return StripHeartbeatResult{ShouldSkip: true, Text: "", DidStrip: true}
	}
	return StripHeartbeatResult{ShouldSkip: false, Text: rest, DidStrip: true}
}
