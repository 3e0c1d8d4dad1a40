// Package notify decides whether a highlighted message becomes a push
// notification and hands the payload to the push gateway.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/relay/internal/irc"
	"github.com/memohai/relay/internal/metrics"
)

const (
	// StaleAfter is the age past which a highlight no longer notifies.
	StaleAfter = 6 * time.Hour
	// TitlePrefix labels every notification title.
	TitlePrefix = "Relay"
	// DefaultPushTimeout bounds one delivery to one destination.
	DefaultPushTimeout = 10 * time.Second
)

// Notification results reported to metrics.
const (
	ResultSent          = "sent"
	ResultFailed        = "failed"
	ResultNoDestination = "skipped_no_destination"
	ResultAttached      = "skipped_attached"
	ResultStale         = "skipped_stale"
)

// Destination is one push endpoint registered by a user.
type Destination struct {
	ID       string
	Endpoint string
	Token    string
}

// Payload is what the push gateway receives.
type Payload struct {
	ChanID    int64  `json:"chanId"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// Highlight describes a message that mentioned the user.
type Highlight struct {
	User         string
	ChanID       int64
	Conversation string
	Direct       bool
	Sender       string
	Text         string
	// Time is when the message was sent; zero means now.
	Time time.Time
}

// Destinations lists the push endpoints of a user.
type Destinations interface {
	Destinations(user string) []Destination
}

// Presence reports how many sessions of a user are attached.
type Presence interface {
	Attached(user string) int
}

// Pusher delivers one payload to one destination.
type Pusher interface {
	Push(ctx context.Context, dest Destination, payload Payload) error
}

// Dispatcher applies the notification rules. Deliveries run on their own
// goroutines; MaybeNotify never blocks on the network.
type Dispatcher struct {
	destinations Destinations
	presence     Presence
	pusher       Pusher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	timeout      time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. timeout bounds every delivery; zero
// uses DefaultPushTimeout.
func NewDispatcher(log *slog.Logger, destinations Destinations, presence Presence, pusher Pusher, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	return &Dispatcher{
		destinations: destinations,
		presence:     presence,
		pusher:       pusher,
		metrics:      m,
		logger:       log.With(slog.String("component", "notify")),
		timeout:      timeout,
		now:          time.Now,
	}
}

// MaybeNotify sends h to every destination of its user unless the user has
// no destination, has an attached session, or the message is stale. It
// reports whether deliveries were started.
func (d *Dispatcher) MaybeNotify(ctx context.Context, h Highlight) bool {
	var dests []Destination
	if d.destinations != nil {
		dests = d.destinations.Destinations(h.User)
	}
	if len(dests) == 0 {
		d.metrics.RecordNotification(ResultNoDestination)
		return false
	}
	if d.presence != nil && d.presence.Attached(h.User) > 0 {
		d.metrics.RecordNotification(ResultAttached)
		return false
	}
	now := d.now()
	if !h.Time.IsZero() && !h.Time.After(now.Add(-StaleAfter)) {
		d.metrics.RecordNotification(ResultStale)
		return false
	}
	if d.pusher == nil {
		return false
	}

	payload := BuildPayload(h, now)
	for _, dest := range dests {
		d.wg.Add(1)
		go d.deliver(context.WithoutCancel(ctx), h.User, dest, payload)
	}
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, user string, dest Destination, payload Payload) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.pusher.Push(ctx, dest, payload); err != nil {
		d.metrics.RecordNotification(ResultFailed)
		d.logger.Warn("push failed",
			slog.String("user", user),
			slog.String("destination", dest.ID),
			slog.Any("error", err),
		)
		return
	}
	d.metrics.RecordNotification(ResultSent)
}

// Wait blocks until every started delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// BuildPayload formats h. now stamps messages that carry no time.
func BuildPayload(h Highlight, now time.Time) Payload {
	ts := h.Time
	if ts.IsZero() {
		ts = now
	}
	var title string
	if h.Direct {
		title = fmt.Sprintf("%s: %s sent you a message", TitlePrefix, h.Sender)
	} else {
		title = fmt.Sprintf("%s: %s (%s) mentioned you", TitlePrefix, h.Sender, h.Conversation)
	}
	return Payload{
		ChanID:    h.ChanID,
		Timestamp: ts.UnixMilli(),
		Title:     title,
		Body:      irc.StripControl(h.Text),
	}
}
