// Package network models one live chat connection of a user: its identity,
// the local nickname and the ordered set of conversations it owns.
package network

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/memohai/relay/internal/conversation"
	"github.com/memohai/relay/internal/highlight"
	"github.com/memohai/relay/internal/irc"
)

// Options describe a network at construction time.
type Options struct {
	Owner      string
	Name       string
	Host       string
	Nick       string
	Highlights []string
	Channels   []string
	MaxHistory int
}

// Network owns the conversations of one connection. The conversation list is
// appended only by the router of the network; reads are safe from any
// goroutine.
type Network struct {
	id    string
	owner string
	name  string
	host  string

	maxHistory int
	highlights []string

	mu            sync.RWMutex
	nick          string
	detector      *highlight.Detector
	conversations []*conversation.Conversation
}

// New creates a network with its broadcast conversation at index 0 followed
// by one channel conversation per configured channel.
func New(opts Options) *Network {
	host := strings.TrimSpace(opts.Host)
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = host
	}
	n := &Network{
		id:         uuid.NewString(),
		owner:      strings.TrimSpace(opts.Owner),
		name:       name,
		host:       host,
		maxHistory: opts.MaxHistory,
		highlights: append([]string(nil), opts.Highlights...),
	}
	n.conversations = append(n.conversations, conversation.New(name, conversation.KindBroadcast, opts.MaxHistory))
	for _, ch := range opts.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" || n.Find(ch) != nil {
			continue
		}
		n.conversations = append(n.conversations, conversation.New(ch, conversation.KindChannel, opts.MaxHistory))
	}
	n.SetNick(opts.Nick)
	return n
}

func (n *Network) ID() string    { return n.id }
func (n *Network) Owner() string { return n.owner }
func (n *Network) Name() string  { return n.name }

// Host is the server identity used as sender of server-originated notices.
func (n *Network) Host() string { return n.host }

// Nick returns the current local nickname.
func (n *Network) Nick() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nick
}

// SetNick changes the local nickname and rebuilds the highlight detector.
func (n *Network) SetNick(nick string) {
	nick = strings.TrimSpace(nick)
	detector := highlight.New(nick, n.highlights...)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nick = nick
	n.detector = detector
}

// IsNick reports whether name is the local nickname under protocol casefolding.
func (n *Network) IsNick(name string) bool {
	nick := n.Nick()
	return nick != "" && irc.EqualFold(nick, name)
}

// Highlights reports whether text mentions the local user.
func (n *Network) Highlights(text string) bool {
	n.mu.RLock()
	detector := n.detector
	n.mu.RUnlock()
	return detector.Match(text)
}

// Broadcast returns the server conversation, always at index 0.
func (n *Network) Broadcast() *conversation.Conversation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conversations[0]
}

// Find looks up a conversation by name under protocol casefolding.
func (n *Network) Find(name string) *conversation.Conversation {
	folded := irc.Casefold(name)
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.conversations {
		if irc.Casefold(c.Name()) == folded {
			return c
		}
	}
	return nil
}

// Lookup finds a conversation by id.
func (n *Network) Lookup(id int64) *conversation.Conversation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.conversations {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// AddDirect creates a direct conversation with peer and appends it.
func (n *Network) AddDirect(peer string) *conversation.Conversation {
	c := conversation.New(peer, conversation.KindDirect, n.maxHistory)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conversations = append(n.conversations, c)
	return c
}

// Conversations returns the conversations in order.
func (n *Network) Conversations() []*conversation.Conversation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*conversation.Conversation(nil), n.conversations...)
}

// Summary is the list view of a network.
type Summary struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Host          string                 `json:"host"`
	Nick          string                 `json:"nick"`
	Conversations []conversation.Summary `json:"conversations"`
}

// Summary returns the list view of the network.
func (n *Network) Summary() Summary {
	convs := n.Conversations()
	items := make([]conversation.Summary, 0, len(convs))
	for _, c := range convs {
		items = append(items, c.Summary())
	}
	return Summary{
		ID:            n.id,
		Name:          n.name,
		Host:          n.host,
		Nick:          n.Nick(),
		Conversations: items,
	}
}
