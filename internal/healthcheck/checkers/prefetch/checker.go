package prefetchchecker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memohai/relay/internal/healthcheck"
)

const (
	checkTypePrefetchQueue = "prefetch.queue"
	titleKeyPrefetchQueue  = "checks.titles.prefetchQueue"
	checkID                = checkTypePrefetchQueue + ".workers"
	// warnRatio is the queue fill ratio at which new previews are at risk of
	// being discarded.
	warnRatio = 0.75
)

// QueueObserver reads the state of the preview worker pool.
type QueueObserver interface {
	Enabled() bool
	Depth() int
	Capacity() int
	Inflight() int64
}

// Checker reports link preview queue saturation. The queue is shared by all
// users, so every user sees the same item.
type Checker struct {
	logger   *slog.Logger
	observer QueueObserver
}

// NewChecker creates a prefetch queue checker.
func NewChecker(log *slog.Logger, observer QueueObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_prefetch")),
		observer: observer,
	}
}

func (c *Checker) ListChecks(ctx context.Context, user string) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	item := healthcheck.CheckResult{
		ID:       checkID,
		Type:     checkTypePrefetchQueue,
		TitleKey: titleKeyPrefetchQueue,
	}
	if c.observer == nil {
		c.logger.Warn("prefetch healthcheck dependency is unavailable")
		item.Status = healthcheck.StatusWarn
		item.Summary = "Prefetch checker service is not available."
		item.Detail = "queue observer is nil"
		return []healthcheck.CheckResult{item}
	}
	if !c.observer.Enabled() {
		item.Status = healthcheck.StatusOK
		item.Summary = "Link previews are disabled."
		return []healthcheck.CheckResult{item}
	}

	depth := c.observer.Depth()
	capacity := c.observer.Capacity()
	item.Metadata = map[string]any{
		"depth":    depth,
		"capacity": capacity,
		"inflight": c.observer.Inflight(),
	}
	item.Detail = fmt.Sprintf("%d of %d queued", depth, capacity)
	switch {
	case capacity > 0 && depth >= capacity:
		item.Status = healthcheck.StatusError
		item.Summary = "Preview queue is full; new previews are discarded."
	case capacity > 0 && float64(depth) >= warnRatio*float64(capacity):
		item.Status = healthcheck.StatusWarn
		item.Summary = "Preview queue is nearly full."
	default:
		item.Status = healthcheck.StatusOK
		item.Summary = "Preview queue has capacity."
	}
	return []healthcheck.CheckResult{item}
}
