package repository

import (
	"context"

	"courier-dispatch/internal/domain"
)

// Store is the dispatcher's view of the order store. Every decision re-reads
// current state through it; nothing is cached across handler invocations.
type Store interface {
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	GetRunner(ctx context.Context, id int64) (*domain.Runner, error)
	GetRestaurant(ctx context.Context, id int64) (*domain.Restaurant, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)

	// ActiveRunners returns all runners currently eligible for assignment.
	ActiveRunners(ctx context.Context) ([]domain.Runner, error)

	// ActiveCommitments returns delivery times of the runner's undelivered
	// orders (received/ready/picked).
	ActiveCommitments(ctx context.Context, runnerID int64) ([]string, error)

	// AssignTx commits an assignment in one transaction: the runner row is
	// locked and re-validated, the order is claimed only while unassigned,
	// and active_orders is incremented by delta. Losing a race returns
	// domain.ErrAlreadyAssigned (order taken) or domain.ErrRunnerUnavailable
	// (runner gone inactive or missing).
	AssignTx(ctx context.Context, orderID, runnerID int64) error

	// MarkWaiting flags an unassigned order as waiting for a runner.
	MarkWaiting(ctx context.Context, orderID int64) error

	// CompleteTx settles a delivery: flips the order's delivered_ack exactly
	// once and moves the runner's counters. Returns false when the order was
	// already settled, so event replays are no-ops.
	CompleteTx(ctx context.Context, orderID, runnerID int64) (bool, error)

	// WaitingOrders returns up to limit unassigned waiting orders, oldest
	// first.
	WaitingOrders(ctx context.Context, limit int) ([]domain.Order, error)
}
