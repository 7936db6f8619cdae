package service

import (
	"context"
	"time"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/dispatcher/repository"
	"courier-dispatch/internal/domain"
)

// ConflictChecker decides whether a runner already has a delivery commitment
// too close to a candidate time. Pure read plus compute, no side effects.
type ConflictChecker struct {
	store  repository.Store
	window int // minutes; two commitments closer than this collide
	log    *logger.Logger
}

func NewConflictChecker(store repository.Store, window time.Duration, log *logger.Logger) *ConflictChecker {
	minutes := int(window.Minutes())
	if minutes <= 0 {
		minutes = 60
	}
	return &ConflictChecker{store: store, window: minutes, log: log}
}

// HasConflict fetches the runner's undelivered commitments and compares each
// against the candidate. Same-day arithmetic only; a stored commitment that
// fails to parse cannot be compared and is skipped with a log line rather
// than failing the whole check.
func (c *ConflictChecker) HasConflict(ctx context.Context, runnerID int64, candidate domain.Clock) (bool, error) {
	times, err := c.store.ActiveCommitments(ctx, runnerID)
	if err != nil {
		return false, err
	}
	for _, raw := range times {
		existing, err := domain.ParseClock(raw)
		if err != nil {
			c.log.Error("commitment_time_unparseable", err, map[string]any{"runner_id": runnerID, "value": raw})
			continue
		}
		if candidate.DiffMinutes(existing) < c.window {
			return true, nil
		}
	}
	return false, nil
}
