// Package healthcheck collects the per-user health items shown to attached
// clients: network routers, the preview pool and the push gateway.
package healthcheck

import "context"

// Item statuses, from healthy to failing.
const (
	StatusOK      = "ok"
	StatusUnknown = "unknown"
	StatusWarn    = "warn"
	StatusError   = "error"
)

// Severity ranks status for aggregation. Unrecognized values rank with
// StatusUnknown.
func Severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn:
		return 2
	case StatusError:
		return 3
	default:
		return 1
	}
}

// CheckResult is one health item. TitleKey is a client translation key and
// Metadata carries the raw figures (backlog, queue depth, breaker state)
// behind Summary.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	TitleKey string         `json:"title_key"`
	Subtitle string         `json:"subtitle,omitempty"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker lists the items visible to user from in-process state only; it
// never performs network calls.
type Checker interface {
	ListChecks(ctx context.Context, user string) []CheckResult
}
