// Package preview fetches link previews for chat messages: the first URL of a
// message is downloaded under strict size and time bounds, its metadata
// extracted, and an optional thumbnail validated with a second bounded fetch.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/memohai/relay/internal/message"
)

// UntitledHead replaces an empty title when a page has a thumbnail or a
// description.
const UntitledHead = "Untitled page"

// Outcome tags a Result.
type Outcome string

const (
	OutcomeReady     Outcome = "ready"
	OutcomeDiscarded Outcome = "discarded"
)

// Reason explains a discarded Result.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonFetchFailed     Reason = "fetch_failed"
	ReasonBadStatus       Reason = "bad_status"
	ReasonTooLarge        Reason = "too_large"
	ReasonUnsupportedType Reason = "unsupported_type"
	ReasonParseFailed     Reason = "parse_failed"
	ReasonEmpty           Reason = "empty"
	ReasonQueueFull       Reason = "queue_full"
	ReasonCanceled        Reason = "canceled"
	ReasonTimeout         Reason = "timeout"
)

// Result is the tagged outcome of one preview job. Preview is meaningful only
// when Outcome is OutcomeReady.
type Result struct {
	AnchorID int64
	Link     string
	Outcome  Outcome
	Reason   Reason
	Preview  message.Preview
}

// Ready wraps a finished preview.
func Ready(p message.Preview) Result {
	return Result{AnchorID: p.ID, Link: p.Link, Outcome: OutcomeReady, Preview: p}
}

// Discarded reports a job that produced nothing.
func Discarded(anchorID int64, link string, reason Reason) Result {
	return Result{AnchorID: anchorID, Link: link, Outcome: OutcomeDiscarded, Reason: reason}
}

// Options configure a Service.
type Options struct {
	Enabled       bool
	MaxImageBytes int64
	UserAgent     string
	// FetchTimeout bounds one shared download; zero uses DefaultJobTimeout.
	FetchTimeout time.Duration
	Fetcher      *Fetcher
	Extractor    Extractor
}

// Service runs the preview state machine for a single link.
type Service struct {
	enabled   bool
	fetcher   *Fetcher
	extractor Extractor
	logger    *slog.Logger
}

// NewService builds a Service. A nil Fetcher or Extractor is replaced with
// the defaults.
func NewService(log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(FetcherOptions{
			MaxImageBytes: opts.MaxImageBytes,
			UserAgent:     opts.UserAgent,
			SharedTimeout: opts.FetchTimeout,
		})
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = NewHTMLExtractor()
	}
	return &Service{
		enabled:   opts.Enabled,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    log.With(slog.String("component", "preview")),
	}
}

// Enabled reports whether previews are switched on.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Build fetches link and turns it into a preview for the anchor. link must
// already be escaped with EscapeHeader. Build never retries.
func (s *Service) Build(ctx context.Context, anchorID int64, link string) Result {
	doc, err := s.fetcher.Get(ctx, link)
	if err != nil {
		reason := reasonFor(err)
		s.logger.Debug("preview fetch failed",
			slog.Int64("anchor_id", anchorID),
			slog.String("link", link),
			slog.String("reason", string(reason)),
			slog.Any("error", err),
		)
		return Discarded(anchorID, link, reason)
	}

	p := message.Preview{ID: anchorID, Link: link}
	switch doc.ContentType {
	case "text/html":
		meta, err := s.extractor.Extract(doc.Body)
		if err != nil {
			s.logger.Debug("preview extract failed", slog.String("link", link), slog.Any("error", err))
			return Discarded(anchorID, link, ReasonParseFailed)
		}
		p.Type = message.PreviewLink
		p.Head = meta.Title
		p.Body = meta.Description
		p.Thumb = meta.Image
		if !IsHTTPURL(p.Thumb) {
			p.Thumb = ""
		}
		if p.Thumb != "" && !s.validThumbnail(ctx, p.Thumb) {
			p.Thumb = ""
		}
	case "image/png", "image/gif", "image/jpg", "image/jpeg":
		if doc.Size > s.fetcher.MaxImageBytes() {
			return Discarded(anchorID, link, ReasonTooLarge)
		}
		p.Type = message.PreviewImage
		p.Thumb = link
	default:
		return Discarded(anchorID, link, ReasonUnsupportedType)
	}
	return finalize(p)
}

// validThumbnail fetches thumb and checks that it is an image within the cap.
func (s *Service) validThumbnail(ctx context.Context, thumb string) bool {
	doc, err := s.fetcher.Get(ctx, EscapeHeader(thumb))
	if err != nil {
		s.logger.Debug("thumbnail rejected", slog.String("thumb", thumb), slog.Any("error", err))
		return false
	}
	return doc.IsImage() && doc.Size <= s.fetcher.MaxImageBytes()
}

// finalize fills the placeholder title or discards a preview with nothing
// to show.
func finalize(p message.Preview) Result {
	if p.Head == "" {
		if p.Thumb == "" && p.Body == "" {
			return Discarded(p.ID, p.Link, ReasonEmpty)
		}
		p.Head = UntitledHead
	}
	return Ready(p)
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrTooLarge):
		return ReasonTooLarge
	case errors.Is(err, ErrBadStatus):
		return ReasonBadStatus
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonFetchFailed
	}
}
