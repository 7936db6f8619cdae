package repository

import (
	"context"
	"time"

	"courier-dispatch/internal/domain"
)

// Store covers the maintenance writes: full-collection counter resets and
// the stale-waiting sweep query.
type Store interface {
	// ResetCompleted zeroes every runner's daily completion counter and
	// returns the number of rows it touched.
	ResetCompleted(ctx context.Context) (int64, error)

	// ResetTotalCompleted zeroes every runner's monthly counter.
	ResetTotalCompleted(ctx context.Context) (int64, error)

	// StaleWaitingOrders returns orders still waiting for a runner after the
	// given age.
	StaleWaitingOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error)
}
