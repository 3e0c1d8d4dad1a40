package pushchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/relay/internal/healthcheck"
	"github.com/memohai/relay/internal/notify"
)

const (
	checkTypePushGateway = "push.gateway"
	titleKeyPushGateway  = "checks.titles.pushGateway"
)

// BreakerObserver reads the circuit state of the push gateway.
type BreakerObserver interface {
	State() string
}

// Checker reports whether highlight notifications can reach the user.
type Checker struct {
	logger       *slog.Logger
	breaker      BreakerObserver
	destinations notify.Destinations
}

// NewChecker creates a push gateway checker.
func NewChecker(log *slog.Logger, breaker BreakerObserver, destinations notify.Destinations) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:       log.With(slog.String("checker", "healthcheck_push")),
		breaker:      breaker,
		destinations: destinations,
	}
}

func (c *Checker) ListChecks(ctx context.Context, user string) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return []healthcheck.CheckResult{}
	}
	item := healthcheck.CheckResult{
		ID:       checkTypePushGateway + ".breaker",
		Type:     checkTypePushGateway,
		TitleKey: titleKeyPushGateway,
	}
	if c.breaker == nil || c.destinations == nil {
		c.logger.Warn("push healthcheck dependency is unavailable", slog.String("user", user))
		item.Status = healthcheck.StatusWarn
		item.Summary = "Push checker service is not available."
		return []healthcheck.CheckResult{item}
	}

	dests := c.destinations.Destinations(user)
	state := c.breaker.State()
	item.Metadata = map[string]any{
		"state":        state,
		"destinations": len(dests),
	}
	if len(dests) == 0 {
		item.Status = healthcheck.StatusWarn
		item.Summary = "No push destinations configured; highlights are not pushed."
		return []healthcheck.CheckResult{item}
	}
	switch state {
	case "closed":
		item.Status = healthcheck.StatusOK
		item.Summary = "Push gateway is reachable."
	case "half-open":
		item.Status = healthcheck.StatusWarn
		item.Summary = "Push gateway is recovering."
	case "open":
		item.Status = healthcheck.StatusError
		item.Summary = "Push gateway is failing; notifications are rejected."
	default:
		item.Status = healthcheck.StatusUnknown
		item.Summary = fmt.Sprintf("Push gateway state %q is unknown.", state)
	}
	return []healthcheck.CheckResult{item}
}
