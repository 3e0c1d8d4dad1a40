// Package event fans routed records out to the attached sessions of a user.
package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/memohai/relay/internal/conversation"
	"github.com/memohai/relay/internal/message"
	"github.com/memohai/relay/internal/metrics"
)

// Type names an outbound session event.
type Type string

const (
	TypeMessage Type = "msg"
	TypeJoin    Type = "join"
	TypePreview Type = "msg:preview"
)

// DefaultSessionBuffer is the number of events a slow session may lag behind
// before it is evicted.
const DefaultSessionBuffer = 256

// Event is one frame sent to an attached session.
type Event struct {
	Type         Type                  `json:"type"`
	Network      string                `json:"network"`
	Chan         int64                 `json:"chan"`
	Msg          *message.Record       `json:"msg,omitempty"`
	Notify       bool                  `json:"notify,omitempty"`
	Conversation *conversation.Summary `json:"conversation,omitempty"`
	Preview      *message.Preview      `json:"preview,omitempty"`
}

// Hub tracks attached sessions per user. A session whose buffer is full is
// evicted and its stream closed.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int

	mu       sync.RWMutex
	sessions map[string]map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		logger:   log.With(slog.String("component", "event_hub")),
		metrics:  m,
		buffer:   DefaultSessionBuffer,
		sessions: map[string]map[string]chan Event{},
	}
	m.GaugeFunc("attached_sessions", "Sessions currently attached.", func() float64 {
		return float64(h.Total())
	})
	return h
}

// Subscribe attaches a session for user. The returned cancel detaches it and
// is safe to call more than once.
func (h *Hub) Subscribe(user string) (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.sessions[user] == nil {
		h.sessions[user] = map[string]chan Event{}
	}
	h.sessions[user][id] = ch
	count := len(h.sessions[user])
	h.mu.Unlock()

	h.logger.Info("session attached", slog.String("user", user), slog.String("session_id", id), slog.Int("attached", count))
	return id, ch, func() { h.detach(user, id, "closed") }
}

func (h *Hub) detach(user, id, reason string) {
	h.mu.Lock()
	sessions := h.sessions[user]
	ch, ok := sessions[id]
	if ok {
		delete(sessions, id)
		if len(sessions) == 0 {
			delete(h.sessions, user)
		}
		close(ch)
	}
	h.mu.Unlock()
	if ok {
		h.logger.Info("session detached", slog.String("user", user), slog.String("session_id", id), slog.String("reason", reason))
	}
}

// Publish offers ev to every session of user without blocking and returns how
// many sessions accepted it.
func (h *Hub) Publish(user string, ev Event) int {
	var slow []string
	delivered := 0

	h.mu.RLock()
	for id, ch := range h.sessions[user] {
		select {
		case ch <- ev:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.metrics.RecordPublished(string(ev.Type), false)
		h.logger.Warn("session too slow, evicting", slog.String("user", user), slog.String("session_id", id))
		h.detach(user, id, "slow")
	}
	for i := 0; i < delivered; i++ {
		h.metrics.RecordPublished(string(ev.Type), true)
	}
	return delivered
}

// Attached returns the number of sessions of user.
func (h *Hub) Attached(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[user])
}

// Total returns the number of sessions across users.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.sessions {
		n += len(sessions)
	}
	return n
}

// Joined announces a newly created conversation.
func (h *Hub) Joined(user, networkID string, c conversation.Summary) {
	h.Publish(user, Event{Type: TypeJoin, Network: networkID, Chan: c.ID, Conversation: &c})
}

// Message delivers a routed record. notify asks clients to alert the user.
func (h *Hub) Message(user, networkID string, chanID int64, rec *message.Record, notify bool) {
	h.Publish(user, Event{Type: TypeMessage, Network: networkID, Chan: chanID, Msg: rec.Clone(), Notify: notify})
}

// Preview delivers a preview for an earlier toggle anchor.
func (h *Hub) Preview(user, networkID string, chanID int64, p message.Preview) {
	h.Publish(user, Event{Type: TypePreview, Network: networkID, Chan: chanID, Preview: &p})
}
