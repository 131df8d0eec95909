package healthcheck

import (
	"context"
	"sort"
)

// Aggregator runs several checkers as one.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator combines checkers; nil entries are skipped.
func NewAggregator(checkers ...Checker) *Aggregator {
	kept := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			kept = append(kept, c)
		}
	}
	return &Aggregator{checkers: kept}
}

// ListChecks concatenates every checker's results ordered by check id.
func (a *Aggregator) ListChecks(ctx context.Context, accountID string) []CheckResult {
	if a == nil {
		return []CheckResult{}
	}
	result := make([]CheckResult, 0)
	for _, c := range a.checkers {
		result = append(result, c.ListChecks(ctx, accountID)...)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Overall reduces results to the worst status. An empty list is unknown.
func Overall(items []CheckResult) string {
	if len(items) == 0 {
		return StatusUnknown
	}
	worst := StatusOK
	for _, item := range items {
		switch item.Status {
		case StatusError:
			return StatusError
		case StatusWarn, StatusUnknown:
			worst = StatusWarn
		}
	}
	return worst
}
