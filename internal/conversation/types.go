// Package conversation holds the per-network conversation log and its
// member mode table.
package conversation

import (
	"sync"
	"sync/atomic"

	"github.com/memohai/relay/internal/irc"
	"github.com/memohai/relay/internal/message"
)

// Kind constants.
const (
	KindBroadcast Kind = "lobby"
	KindChannel   Kind = "channel"
	KindDirect    Kind = "query"
)

// Kind classifies a conversation.
type Kind string

var lastID atomic.Int64

// Conversation is an ordered log of records plus the mode prefix of every
// known member. The log is appended only by the owning router; readers get
// copies.
type Conversation struct {
	id         int64
	name       string
	kind       Kind
	maxHistory int

	mu       sync.RWMutex
	messages []*message.Record
	modes    map[string]string
}

// Summary is the read model of a conversation used by list endpoints and
// "join" events.
type Summary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"type"`
	Messages int    `json:"messages"`
}

// New creates a conversation with a process-unique id. maxHistory caps the
// log length; zero or less keeps everything.
func New(name string, kind Kind, maxHistory int) *Conversation {
	return &Conversation{
		id:         lastID.Add(1),
		name:       name,
		kind:       kind,
		maxHistory: maxHistory,
		modes:      map[string]string{},
	}
}

func (c *Conversation) ID() int64    { return c.id }
func (c *Conversation) Name() string { return c.name }
func (c *Conversation) Kind() Kind   { return c.kind }

// Append adds rec to the end of the log, dropping the oldest records when the
// history cap is exceeded.
func (c *Conversation) Append(rec *message.Record) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, rec)
	if c.maxHistory > 0 && len(c.messages) > c.maxHistory {
		drop := len(c.messages) - c.maxHistory
		clear(c.messages[:drop])
		c.messages = append(c.messages[:0:0], c.messages[drop:]...)
	}
}

// Messages returns copies of the logged records, oldest first.
func (c *Conversation) Messages() []*message.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*message.Record, 0, len(c.messages))
	for _, rec := range c.messages {
		out = append(out, rec.Clone())
	}
	return out
}

// Len returns the number of logged records.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// AttachPreview stores p on the toggle anchor whose id equals p.ID. It
// returns false when the anchor is unknown, is not a toggle, or already
// carries a preview.
func (c *Conversation) AttachPreview(p message.Preview) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		rec := c.messages[i]
		if rec.ID != p.ID {
			continue
		}
		if rec.Kind != message.KindToggle || rec.Preview != nil {
			return false
		}
		rec.Preview = &p
		return true
	}
	return false
}

// Mode returns the mode prefix of nick, or "" when the member is unknown.
func (c *Conversation) Mode(nick string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes[irc.Casefold(nick)]
}

// SetMode records the mode prefix of nick. An empty mode keeps the member
// with no prefix.
func (c *Conversation) SetMode(nick, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes[irc.Casefold(nick)] = mode
}

// RemoveMember forgets nick.
func (c *Conversation) RemoveMember(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modes, irc.Casefold(nick))
}

// Summary returns the list view of the conversation.
func (c *Conversation) Summary() Summary {
	return Summary{
		ID:       c.id,
		Name:     c.name,
		Kind:     c.kind,
		Messages: c.Len(),
	}
}
