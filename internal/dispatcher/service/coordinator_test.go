package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/dispatcher/mocks"
	"courier-dispatch/internal/dispatcher/service"
	"courier-dispatch/internal/domain"
)

type coordinatorFixture struct {
	store    *mocks.Store
	notifier *mocks.Notifier
	dedup    *mocks.Dedup
	coord    *service.Coordinator
}

func newCoordinator(t *testing.T) coordinatorFixture {
	store := mocks.NewStore(t)
	notif := mocks.NewNotifier(t)
	dedup := mocks.NewDedup(t)
	log := logger.New("test")
	conflict := service.NewConflictChecker(store, time.Hour, log)
	selector := service.NewSelector(store, conflict, log)
	coord := service.NewCoordinator(store, selector, conflict, notif, dedup, service.CoordinatorConfig{
		ActivationBatch: 1,
		SelectRetries:   3,
		RetryBackoff:    time.Millisecond,
	}, log)
	return coordinatorFixture{store: store, notifier: notif, dedup: dedup, coord: coord}
}

func orderCreatedEvent(id int64) domain.ChangeEvent {
	return domain.ChangeEvent{
		Entity:     domain.EntityOrders,
		EntityID:   id,
		OrderAfter: &domain.OrderState{Status: domain.StatusReceived},
	}
}

func testOrder(id int64, deliveryTime string) *domain.Order {
	return &domain.Order{
		ID:           id,
		Number:       "ORD_042",
		PickupCode:   "4242",
		Status:       domain.StatusReceived,
		DeliveryTime: deliveryTime,
		RestaurantID: 200,
		CustomerID:   100,
	}
}

// Scenario: order created with one conflict-free active runner.
func TestOrderCreatedAssignsRunner(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	o := testOrder(10, "18:00")
	runner := domain.Runner{ID: 7, Name: "kim", IsActive: true}

	f.dedup.On("Seen", ctx, "dispatch:orders:10:order_created").Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100, Name: "ana"}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200, Name: "pit"}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()
	f.store.On("ActiveRunners", ctx).Return([]domain.Runner{runner}, nil).Once()
	f.store.On("ActiveCommitments", mock.Anything, int64(7)).Return(nil, nil).Once()
	f.store.On("AssignTx", ctx, int64(10), int64(7)).Return(nil).Once()
	f.notifier.On("RunnerAssigned", ctx, o, mock.Anything).Return(nil).Once()
	f.dedup.On("Mark", ctx, "dispatch:orders:10:order_created").Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

// Scenario: order created with zero active runners goes to waiting plus an
// operator alert.
func TestOrderCreatedNoRunnerParksWaiting(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	o := testOrder(10, "18:00")

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()
	f.store.On("ActiveRunners", ctx).Return([]domain.Runner{}, nil).Once()
	f.store.On("MarkWaiting", ctx, int64(10)).Return(nil).Once()
	f.notifier.On("OperatorAlert", ctx, "no_runner_available", mock.Anything).Return(nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

// An order that already has a runner is never reassigned.
func TestOrderCreatedAlreadyAssignedIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	runnerID := int64(7)
	o := testOrder(10, "18:00")
	o.RunnerID = &runnerID

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

// A present but garbled delivery time dead-letters instead of selecting on
// garbage arithmetic.
func TestOrderCreatedMalformedTimeDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	o := testOrder(10, "25:99")

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()

	err := f.coord.Dispatch(ctx, orderCreatedEvent(10))
	assert.ErrorIs(t, err, service.ErrDLQ)
}

// An order without a delivery time falls back to selection without conflict
// filtering.
func TestOrderCreatedNoTimeUsesFallbackSelection(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	o := testOrder(10, "")

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()
	f.store.On("ActiveRunners", ctx).Return([]domain.Runner{{ID: 7, IsActive: true}}, nil).Once()
	f.store.On("AssignTx", ctx, int64(10), int64(7)).Return(nil).Once()
	f.notifier.On("RunnerAssigned", ctx, o, mock.Anything).Return(nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

// Losing the runner between selection and commit retries selection.
func TestAssignmentRetriesOnContention(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	o := testOrder(10, "18:00")

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()

	// first round: runner 7 wins selection but is grabbed concurrently
	f.store.On("ActiveRunners", ctx).Return([]domain.Runner{{ID: 7, IsActive: true}}, nil).Once()
	f.store.On("ActiveCommitments", mock.Anything, int64(7)).Return(nil, nil).Once()
	f.store.On("AssignTx", ctx, int64(10), int64(7)).Return(domain.ErrRunnerUnavailable).Once()
	// second round: fresh read sees runner 8
	f.store.On("ActiveRunners", ctx).Return([]domain.Runner{{ID: 8, IsActive: true}}, nil).Once()
	f.store.On("ActiveCommitments", mock.Anything, int64(8)).Return(nil, nil).Once()
	f.store.On("AssignTx", ctx, int64(10), int64(8)).Return(nil).Once()
	f.notifier.On("RunnerAssigned", ctx, o, mock.Anything).Return(nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

// Losing the order race means someone else assigned it: stop quietly.
func TestAssignmentStopsWhenOrderTaken(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	o := testOrder(10, "18:00")

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("GetCustomer", ctx, int64(100)).Return(&domain.Customer{ID: 100}, nil).Once()
	f.store.On("GetRestaurant", ctx, int64(200)).Return(&domain.Restaurant{ID: 200}, nil).Once()
	f.notifier.On("OrderCreated", ctx, o, mock.Anything, mock.Anything).Return(nil).Once()
	f.store.On("ActiveRunners", ctx).Return([]domain.Runner{{ID: 7, IsActive: true}}, nil).Once()
	f.store.On("ActiveCommitments", mock.Anything, int64(7)).Return(nil, nil).Once()
	f.store.On("AssignTx", ctx, int64(10), int64(7)).Return(domain.ErrAlreadyAssigned).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

func deliveredEvent(id int64, runnerID int64) domain.ChangeEvent {
	return domain.ChangeEvent{
		Entity:      domain.EntityOrders,
		EntityID:    id,
		OrderBefore: &domain.OrderState{Status: domain.StatusPicked, RunnerID: &runnerID},
		OrderAfter:  &domain.OrderState{Status: domain.StatusDelivered, RunnerID: &runnerID},
	}
}

// Scenario: delivery completion settles counters exactly once.
func TestOrderDeliveredSettlesCounters(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	runnerID := int64(7)
	o := testOrder(10, "18:00")
	o.Status = domain.StatusDelivered
	o.RunnerID = &runnerID

	f.dedup.On("Seen", ctx, "dispatch:orders:10:order_delivered").Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("CompleteTx", ctx, int64(10), int64(7)).Return(true, nil).Once()
	f.dedup.On("Mark", ctx, "dispatch:orders:10:order_delivered").Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, deliveredEvent(10, 7)))
}

// Replaying the delivered event after the marker is set touches nothing.
func TestOrderDeliveredReplaySuppressedByMarker(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)

	f.dedup.On("Seen", ctx, "dispatch:orders:10:order_delivered").Return(true, nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, deliveredEvent(10, 7)))
}

// Even without the marker, the store-level guard makes the replay a no-op.
func TestOrderDeliveredReplaySuppressedByStoreGuard(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	runnerID := int64(7)
	o := testOrder(10, "18:00")
	o.Status = domain.StatusDelivered
	o.RunnerID = &runnerID

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("CompleteTx", ctx, int64(10), int64(7)).Return(false, nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, deliveredEvent(10, 7)))
}

// A missing referenced document is a clean no-op, never a retry loop.
func TestMissingOrderIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(nil, domain.ErrNotFound).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, orderCreatedEvent(10)))
}

func TestRunnerActivationDrainsWaitingOrder(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	runner := &domain.Runner{ID: 7, Name: "kim", IsActive: true}
	waiting := *testOrder(10, "18:00")
	waiting.WaitingForRunner = true

	ev := domain.ChangeEvent{
		Entity:       domain.EntityRunners,
		EntityID:     7,
		RunnerBefore: &domain.RunnerState{IsActive: false},
		RunnerAfter:  &domain.RunnerState{IsActive: true},
	}

	f.dedup.On("Seen", ctx, "dispatch:runners:7:runner_activated").Return(false, nil).Once()
	f.store.On("GetRunner", ctx, int64(7)).Return(runner, nil).Once()
	f.store.On("WaitingOrders", ctx, 1).Return([]domain.Order{waiting}, nil).Once()
	f.store.On("ActiveCommitments", ctx, int64(7)).Return(nil, nil).Once()
	f.store.On("AssignTx", ctx, int64(10), int64(7)).Return(nil).Once()
	f.notifier.On("RunnerAssigned", ctx, mock.Anything, runner).Return(nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, ev))
}

func TestRunnerActivationSkipsConflictedWaitingOrder(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	runner := &domain.Runner{ID: 7, IsActive: true}
	waiting := *testOrder(10, "12:30")
	waiting.WaitingForRunner = true

	ev := domain.ChangeEvent{
		Entity:       domain.EntityRunners,
		EntityID:     7,
		RunnerBefore: &domain.RunnerState{IsActive: false},
		RunnerAfter:  &domain.RunnerState{IsActive: true},
	}

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetRunner", ctx, int64(7)).Return(runner, nil).Once()
	f.store.On("WaitingOrders", ctx, 1).Return([]domain.Order{waiting}, nil).Once()
	// 30 minutes from an existing commitment: leave it waiting
	f.store.On("ActiveCommitments", ctx, int64(7)).Return([]string{"12:00"}, nil).Once()
	f.dedup.On("Mark", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, f.coord.Dispatch(ctx, ev))
}

// Events whose snapshots show no recognized change are acknowledged without
// any work.
func TestNoChangeEventIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)

	ev := domain.ChangeEvent{
		Entity:      domain.EntityOrders,
		EntityID:    10,
		OrderBefore: &domain.OrderState{Status: domain.StatusReceived},
		OrderAfter:  &domain.OrderState{Status: domain.StatusReceived},
	}
	require.NoError(t, f.coord.Dispatch(ctx, ev))
}

// Store failures surface as requeueable errors so the broker redelivers.
func TestStoreFailureRequeues(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t)
	runnerID := int64(7)
	o := testOrder(10, "18:00")
	o.RunnerID = &runnerID

	f.dedup.On("Seen", ctx, mock.Anything).Return(false, nil).Once()
	f.store.On("GetOrder", ctx, int64(10)).Return(o, nil).Once()
	f.store.On("CompleteTx", ctx, int64(10), int64(7)).Return(false, assert.AnError).Once()

	err := f.coord.Dispatch(ctx, deliveredEvent(10, 7))
	assert.ErrorIs(t, err, service.ErrRequeue)
}
