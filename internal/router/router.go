// Package router turns decoded chat events into conversation records. Each
// network has one Router whose event loop is the only writer of that
// network's conversations; preview completions are posted back into the
// same loop.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memohai/relay/internal/conversation"
	"github.com/memohai/relay/internal/message"
	"github.com/memohai/relay/internal/metrics"
	"github.com/memohai/relay/internal/network"
	"github.com/memohai/relay/internal/notify"
	"github.com/memohai/relay/internal/preview"
)

// DefaultTaskBuffer is the capacity of a router's task queue.
const DefaultTaskBuffer = 256

// ErrStopped indicates the router loop has exited.
var ErrStopped = errors.New("router stopped")

// Sink receives everything the router emits for attached sessions.
type Sink interface {
	Joined(user, networkID string, c conversation.Summary)
	Message(user, networkID string, chanID int64, rec *message.Record, notify bool)
	Preview(user, networkID string, chanID int64, p message.Preview)
}

// Notifier is consulted for highlighted messages from other users.
type Notifier interface {
	MaybeNotify(ctx context.Context, h notify.Highlight) bool
}

// Previewer accepts link preview jobs.
type Previewer interface {
	Enabled() bool
	Submit(job preview.Job) bool
}

type task func(ctx context.Context)

// Router routes the events of one network.
type Router struct {
	network   *network.Network
	sink      Sink
	notifier  Notifier
	previewer Previewer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	tasks   chan task
	done    chan struct{}
	runOnce sync.Once
	running atomic.Bool
}

// New creates a router for net. notifier and previewer may be nil.
func New(log *slog.Logger, net *network.Network, sink Sink, notifier Notifier, previewer Previewer, m *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		network:   net,
		sink:      sink,
		notifier:  notifier,
		previewer: previewer,
		metrics:   m,
		logger: log.With(
			slog.String("component", "router"),
			slog.String("network_id", net.ID()),
			slog.String("owner", net.Owner()),
		),
		now:   time.Now,
		tasks: make(chan task, DefaultTaskBuffer),
		done:  make(chan struct{}),
	}
}

// Network returns the network this router owns.
func (r *Router) Network() *network.Network {
	return r.network
}

// Run processes queued events and preview completions in arrival order until
// ctx is done. Only the first call runs the loop.
func (r *Router) Run(ctx context.Context) {
	r.runOnce.Do(func() {
		defer close(r.done)
		r.running.Store(true)
		defer r.running.Store(false)
		r.logger.Info("router start")
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("router stop")
				return
			case t := <-r.tasks:
				t(ctx)
			}
		}
	})
}

// Dispatch queues ev for routing. It blocks while the queue is full.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	return r.post(ctx, func(ctx context.Context) {
		r.Route(ctx, ev)
	})
}

// Running reports whether the loop is processing events.
func (r *Router) Running() bool {
	return r.running.Load()
}

// Backlog returns the number of queued tasks.
func (r *Router) Backlog() int {
	return len(r.tasks)
}

func (r *Router) post(ctx context.Context, t task) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.tasks <- t:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Route resolves the conversation of ev, appends the resulting record and
// fans it out. It must run on the router loop, or with no loop running.
func (r *Router) Route(ctx context.Context, ev Event) *message.Record {
	net := r.network
	owner := net.Owner()

	kind := message.KindMessage
	fromServer := false
	nick := strings.TrimSpace(ev.Nick)
	switch ev.Type {
	case EventNotice:
		kind = message.KindNotice
		fromServer = nick == ""
	case EventWallops:
		kind = message.KindNotice
		fromServer = true
	case EventAction:
		kind = message.KindAction
	}
	if nick == "" {
		nick = net.Host()
	}
	self := ev.Self || net.IsNick(nick)

	conv := r.resolve(kind, fromServer, nick, ev.Target)

	highlight := false
	if conv.Kind() == conversation.KindDirect {
		highlight = !self
	} else if !self {
		highlight = net.Highlights(ev.Message)
	}

	at := ev.Time
	if at.IsZero() {
		at = r.now()
	}
	rec := &message.Record{
		ID:        message.NextID(),
		Kind:      kind,
		Time:      at,
		From:      nick,
		Mode:      conv.Mode(nick),
		Text:      ev.Message,
		Self:      self,
		Highlight: highlight,
	}
	r.appendAndDeliver(conv, rec, !self)

	if rec.Previewable() {
		r.startPreview(conv, rec)
	}
	if highlight && !self && r.notifier != nil {
		r.notifier.MaybeNotify(ctx, notify.Highlight{
			User:         owner,
			ChanID:       conv.ID(),
			Conversation: conv.Name(),
			Direct:       conv.Kind() == conversation.KindDirect,
			Sender:       nick,
			Text:         ev.Message,
			Time:         ev.Time,
		})
	}
	return rec
}

// resolve never fails: unknown notice targets land in the broadcast
// conversation and other unknown targets open a direct conversation.
func (r *Router) resolve(kind message.Kind, fromServer bool, nick, target string) *conversation.Conversation {
	net := r.network
	if fromServer {
		return net.Broadcast()
	}
	target = strings.TrimSpace(target)
	if target == "" || net.IsNick(target) {
		target = nick
	}
	if conv := net.Find(target); conv != nil {
		return conv
	}
	if kind == message.KindNotice {
		return net.Broadcast()
	}
	conv := net.AddDirect(target)
	r.metrics.ConversationCreated()
	r.logger.Debug("direct conversation created", slog.String("name", target), slog.Int64("chan_id", conv.ID()))
	r.sink.Joined(net.Owner(), net.ID(), conv.Summary())
	return conv
}

func (r *Router) appendAndDeliver(conv *conversation.Conversation, rec *message.Record, alert bool) {
	conv.Append(rec)
	r.metrics.RecordRouted(string(rec.Kind))
	r.sink.Message(r.network.Owner(), r.network.ID(), conv.ID(), rec, alert)
}

// startPreview appends the toggle anchor and hands the first link of rec to
// the previewer. The anchor id becomes the preview id.
func (r *Router) startPreview(conv *conversation.Conversation, rec *message.Record) {
	if r.previewer == nil || !r.previewer.Enabled() {
		return
	}
	link := preview.FirstLink(rec.Text)
	if link == "" {
		return
	}
	anchor := &message.Record{
		ID:   message.NextID(),
		Kind: message.KindToggle,
		Time: rec.Time,
		Self: rec.Self,
	}
	r.appendAndDeliver(conv, anchor, false)

	chanID := conv.ID()
	job := preview.Job{
		AnchorID: anchor.ID,
		Link:     preview.EscapeHeader(link),
	}
	job.Done = func(res preview.Result) {
		if err := r.post(context.Background(), func(ctx context.Context) {
			r.applyPreview(chanID, res)
		}); err != nil {
			r.metrics.RecordPreview(string(preview.OutcomeDiscarded), string(preview.ReasonCanceled))
		}
	}
	if !r.previewer.Submit(job) {
		r.applyPreview(chanID, preview.Discarded(anchor.ID, job.Link, preview.ReasonQueueFull))
	}
}

func (r *Router) applyPreview(chanID int64, res preview.Result) {
	r.metrics.RecordPreview(string(res.Outcome), string(res.Reason))
	if res.Outcome != preview.OutcomeReady {
		r.logger.Debug("preview discarded",
			slog.Int64("anchor_id", res.AnchorID),
			slog.String("reason", string(res.Reason)),
		)
		return
	}
	conv := r.network.Lookup(chanID)
	if conv == nil || !conv.AttachPreview(res.Preview) {
		return
	}
	r.sink.Preview(r.network.Owner(), r.network.ID(), chanID, res.Preview)
}
