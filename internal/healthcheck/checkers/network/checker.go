package networkchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/relay/internal/healthcheck"
	"github.com/memohai/relay/internal/router"
)

const (
	checkTypeNetworkRouter = "network.router"
	titleKeyNetworkRouter  = "checks.titles.networkRouter"
	// backlogWarnRatio is the share of the task buffer at which a router is
	// reported as lagging.
	backlogWarnRatio = 0.75
)

// StatusObserver reads runtime router statuses.
type StatusObserver interface {
	NetworkStatuses(user string) []router.Status
}

// Checker evaluates per-network router health.
type Checker struct {
	logger   *slog.Logger
	observer StatusObserver
}

// NewChecker creates a network router health checker.
func NewChecker(log *slog.Logger, observer StatusObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_network")),
		observer: observer,
	}
}

// ListChecks reports one item per network of user.
func (c *Checker) ListChecks(ctx context.Context, user string) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("network healthcheck dependency is unavailable", slog.String("user", user))
		return []healthcheck.CheckResult{
			{
				ID:       checkTypeNetworkRouter + ".service",
				Type:     checkTypeNetworkRouter,
				TitleKey: titleKeyNetworkRouter,
				Status:   healthcheck.StatusWarn,
				Summary:  "Network checker service is not available.",
				Detail:   "status observer is nil",
			},
		}
	}

	statuses := c.observer.NetworkStatuses(user)
	checks := make([]healthcheck.CheckResult, 0, len(statuses))
	for _, status := range statuses {
		name := strings.TrimSpace(status.Name)
		if name == "" {
			name = status.Host
		}
		item := healthcheck.CheckResult{
			ID:       checkTypeNetworkRouter + "." + status.NetworkID,
			Type:     checkTypeNetworkRouter,
			TitleKey: titleKeyNetworkRouter,
			Subtitle: buildSubtitle(name, status.Nick),
			Status:   healthcheck.StatusError,
			Summary:  fmt.Sprintf("Network %s is not routing events.", name),
			Metadata: map[string]any{
				"network_id":    status.NetworkID,
				"host":          status.Host,
				"running":       status.Running,
				"backlog":       status.Backlog,
				"conversations": status.Conversations,
			},
		}
		if status.Running {
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("Network %s is routing events.", name)
			if float64(status.Backlog) >= backlogWarnRatio*float64(router.DefaultTaskBuffer) {
				item.Status = healthcheck.StatusWarn
				item.Summary = fmt.Sprintf("Network %s is falling behind.", name)
				item.Detail = fmt.Sprintf("%d of %d queued", status.Backlog, router.DefaultTaskBuffer)
			}
		}
		checks = append(checks, item)
	}
	return checks
}

func buildSubtitle(name, nick string) string {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return name
	}
	return name + " (" + nick + ")"
}
