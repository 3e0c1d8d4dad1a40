package healthcheck

import (
	"context"
	"sort"
)

// Aggregator runs several checkers and merges their results.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator creates an Aggregator. Nil checkers are ignored.
func NewAggregator(checkers ...Checker) *Aggregator {
	a := &Aggregator{}
	for _, c := range checkers {
		if c != nil {
			a.checkers = append(a.checkers, c)
		}
	}
	return a
}

// ListChecks evaluates every checker for user, ordered by check id.
func (a *Aggregator) ListChecks(ctx context.Context, user string) []CheckResult {
	if a == nil {
		return []CheckResult{}
	}
	result := []CheckResult{}
	for _, c := range a.checkers {
		if err := ctx.Err(); err != nil {
			break
		}
		result = append(result, c.ListChecks(ctx, user)...)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Overall returns the worst status in items, or StatusOK when empty.
func Overall(items []CheckResult) string {
	worst := StatusOK
	for _, item := range items {
		if Severity(item.Status) > Severity(worst) {
			worst = item.Status
		}
	}
	if Severity(worst) == Severity(StatusUnknown) {
		return StatusUnknown
	}
	return worst
}
