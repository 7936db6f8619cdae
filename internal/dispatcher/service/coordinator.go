package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/dispatcher/repository"
	"courier-dispatch/internal/domain"
)

var (
	ErrRequeue = errors.New("requeue")     // nack(requeue=true), broker will redeliver
	ErrDLQ     = errors.New("dead_letter") // nack(requeue=false), unrepairable event
)

// Notifier is the outbound side: pushes to customers, restaurants and
// runners, and alerts to the operator channel. Delivery itself is external.
type Notifier interface {
	OrderCreated(ctx context.Context, o *domain.Order, c *domain.Customer, r *domain.Restaurant) error
	OrderReady(ctx context.Context, o *domain.Order, c *domain.Customer) error
	RunnerAssigned(ctx context.Context, o *domain.Order, r *domain.Runner) error
	OperatorAlert(ctx context.Context, kind string, fields map[string]any) error
}

type CoordinatorConfig struct {
	ActivationBatch int
	SelectRetries   int
	RetryBackoff    time.Duration
}

type handlerKey struct {
	entity     domain.Entity
	transition domain.Transition
}

type handlerFunc func(ctx context.Context, ev domain.ChangeEvent) error

// Coordinator drives runner assignment off order and runner change events.
// Handlers are stateless across invocations; every decision re-reads the
// store. A runner going inactive mid-delivery triggers no reassignment, it
// only removes the runner from future selection.
type Coordinator struct {
	store    repository.Store
	selector *Selector
	conflict *ConflictChecker
	notifier Notifier
	dedup    Dedup
	cfg      CoordinatorConfig
	log      *logger.Logger

	handlers map[handlerKey]handlerFunc
}

func NewCoordinator(store repository.Store, selector *Selector, conflict *ConflictChecker,
	notifier Notifier, dedup Dedup, cfg CoordinatorConfig, log *logger.Logger) *Coordinator {

	if cfg.ActivationBatch < 1 {
		cfg.ActivationBatch = 1
	}
	if cfg.SelectRetries < 1 {
		cfg.SelectRetries = 1
	}
	c := &Coordinator{
		store:    store,
		selector: selector,
		conflict: conflict,
		notifier: notifier,
		dedup:    dedup,
		cfg:      cfg,
		log:      log,
	}
	c.handlers = make(map[handlerKey]handlerFunc)
	c.handlers[handlerKey{domain.EntityOrders, domain.TransitionOrderCreated}] = c.handleOrderCreated
	c.handlers[handlerKey{domain.EntityOrders, domain.TransitionOrderReady}] = c.handleOrderReady
	c.handlers[handlerKey{domain.EntityOrders, domain.TransitionOrderDelivered}] = c.handleOrderDelivered
	c.handlers[handlerKey{domain.EntityRunners, domain.TransitionRunnerActivated}] = c.handleRunnerActivated
	c.handlers[handlerKey{domain.EntityRunners, domain.TransitionRunnerDeactivated}] = c.handleRunnerDeactivated
	return c
}

// Dispatch routes one change event to its handler. Events with no recognized
// transition and events already seen are acknowledged without side effects.
func (c *Coordinator) Dispatch(ctx context.Context, ev domain.ChangeEvent) error {
	transition := ev.Transition()
	if transition == domain.TransitionNone {
		return nil
	}
	handler, ok := c.handlers[handlerKey{ev.Entity, transition}]
	if !ok {
		return nil
	}

	key := DedupKey(ev.Entity, ev.EntityID, transition)
	seen, err := c.dedup.Seen(ctx, key)
	if err != nil {
		// marker store down: fall through, the store transactions still guard
		c.log.Error("dedup_check_failed", err, map[string]any{"key": key})
	}
	if seen {
		c.log.Debug("event_replay_suppressed", map[string]any{"key": key})
		return nil
	}

	if err := handler(ctx, ev); err != nil {
		return err
	}
	if err := c.dedup.Mark(ctx, key); err != nil {
		c.log.Error("dedup_mark_failed", err, map[string]any{"key": key})
	}
	return nil
}

func (c *Coordinator) handleOrderCreated(ctx context.Context, ev domain.ChangeEvent) error {
	o, err := c.store.GetOrder(ctx, ev.EntityID)
	if err != nil {
		return c.dropIfMissing("order_lookup_failed", err, ev.EntityID)
	}

	c.notifyCreated(ctx, o)

	if o.Assigned() {
		c.log.Debug("order_already_assigned", map[string]any{"order_id": o.ID})
		return nil
	}
	return c.assign(ctx, o)
}

func (c *Coordinator) handleOrderReady(ctx context.Context, ev domain.ChangeEvent) error {
	o, err := c.store.GetOrder(ctx, ev.EntityID)
	if err != nil {
		return c.dropIfMissing("order_lookup_failed", err, ev.EntityID)
	}
	customer, err := c.store.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return c.dropIfMissing("customer_lookup_failed", err, o.CustomerID)
	}
	if err := c.notifier.OrderReady(ctx, o, customer); err != nil {
		c.log.Error("notify_ready_failed", err, map[string]any{"order_id": o.ID})
	}
	return nil
}

func (c *Coordinator) handleOrderDelivered(ctx context.Context, ev domain.ChangeEvent) error {
	o, err := c.store.GetOrder(ctx, ev.EntityID)
	if err != nil {
		return c.dropIfMissing("order_lookup_failed", err, ev.EntityID)
	}
	if o.RunnerID == nil {
		c.log.Error("delivered_without_runner", nil, map[string]any{"order_id": o.ID})
		return nil
	}
	settled, err := c.store.CompleteTx(ctx, o.ID, *o.RunnerID)
	if err != nil {
		return fmt.Errorf("%w: complete order %d: %v", ErrRequeue, o.ID, err)
	}
	if !settled {
		c.log.Debug("delivery_already_settled", map[string]any{"order_id": o.ID})
		return nil
	}
	c.log.Info("delivery_settled", map[string]any{"order_id": o.ID, "runner_id": *o.RunnerID})
	return nil
}

// handleRunnerActivated drains waiting orders onto a newly active runner, at
// most ActivationBatch per activation event so one runner is never buried.
func (c *Coordinator) handleRunnerActivated(ctx context.Context, ev domain.ChangeEvent) error {
	runner, err := c.store.GetRunner(ctx, ev.EntityID)
	if err != nil {
		return c.dropIfMissing("runner_lookup_failed", err, ev.EntityID)
	}
	if !runner.IsActive {
		return nil // flipped back before we got here
	}

	waiting, err := c.store.WaitingOrders(ctx, c.cfg.ActivationBatch)
	if err != nil {
		return fmt.Errorf("%w: waiting orders: %v", ErrRequeue, err)
	}

	assigned := 0
	for _, o := range waiting {
		o := o
		if t, err := domain.ParseClock(o.DeliveryTime); err == nil {
			conflicted, err := c.conflict.HasConflict(ctx, runner.ID, t)
			if err != nil {
				c.log.Error("conflict_check_failed", err, map[string]any{"order_id": o.ID, "runner_id": runner.ID})
				continue
			}
			if conflicted {
				continue
			}
		}
		err := c.store.AssignTx(ctx, o.ID, runner.ID)
		switch {
		case err == nil:
			assigned++
			c.logAssigned(&o, runner)
			if err := c.notifier.RunnerAssigned(ctx, &o, runner); err != nil {
				c.log.Error("notify_assigned_failed", err, map[string]any{"order_id": o.ID})
			}
		case errors.Is(err, domain.ErrAlreadyAssigned):
			continue // another handler got there first
		case errors.Is(err, domain.ErrRunnerUnavailable):
			c.log.Info("activation_runner_lost", map[string]any{"runner_id": runner.ID, "assigned": assigned})
			return nil
		case errors.Is(err, domain.ErrNotFound):
			continue
		default:
			return fmt.Errorf("%w: assign waiting order %d: %v", ErrRequeue, o.ID, err)
		}
	}
	if assigned > 0 {
		c.log.Info("activation_drain", map[string]any{"runner_id": runner.ID, "assigned": assigned})
	}
	return nil
}

func (c *Coordinator) handleRunnerDeactivated(ctx context.Context, ev domain.ChangeEvent) error {
	// Active orders stay with the runner; deactivation only stops selection.
	c.log.Info("runner_deactivated", map[string]any{"runner_id": ev.EntityID})
	return nil
}

// assign runs selection and commits via AssignTx, retrying selection when
// the chosen runner is snatched by a concurrent assignment. Exhausted or
// empty selection marks the order waiting and alerts the operator channel.
func (c *Coordinator) assign(ctx context.Context, o *domain.Order) error {
	candidate, parseErr := domain.ParseClock(o.DeliveryTime)
	if parseErr != nil && o.DeliveryTime != "" {
		// present but garbled: fail loudly instead of arithmetic on junk
		c.log.Error("delivery_time_malformed", parseErr, map[string]any{"order_id": o.ID, "value": o.DeliveryTime})
		return fmt.Errorf("%w: order %d delivery time %q", ErrDLQ, o.ID, o.DeliveryTime)
	}

	for attempt := 1; attempt <= c.cfg.SelectRetries; attempt++ {
		var (
			runner *domain.Runner
			err    error
		)
		if parseErr != nil {
			runner, err = c.selector.SelectAny(ctx) // no time, no conflict data
		} else {
			runner, err = c.selector.Select(ctx, candidate)
		}
		if errors.Is(err, domain.ErrNoRunnerAvailable) {
			return c.parkWaiting(ctx, o)
		}
		if err != nil {
			return fmt.Errorf("%w: select runner for order %d: %v", ErrRequeue, o.ID, err)
		}

		err = c.store.AssignTx(ctx, o.ID, runner.ID)
		switch {
		case err == nil:
			c.logAssigned(o, runner)
			if err := c.notifier.RunnerAssigned(ctx, o, runner); err != nil {
				c.log.Error("notify_assigned_failed", err, map[string]any{"order_id": o.ID})
			}
			return nil
		case errors.Is(err, domain.ErrAlreadyAssigned):
			c.log.Debug("lost_assignment_race", map[string]any{"order_id": o.ID})
			return nil
		case errors.Is(err, domain.ErrRunnerUnavailable):
			c.log.Debug("runner_contended", map[string]any{"order_id": o.ID, "runner_id": runner.ID, "attempt": attempt})
			select {
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRequeue, ctx.Err())
			}
		case errors.Is(err, domain.ErrNotFound):
			return c.dropIfMissing("assign_target_missing", err, o.ID)
		default:
			return fmt.Errorf("%w: assign order %d: %v", ErrRequeue, o.ID, err)
		}
	}
	return c.parkWaiting(ctx, o)
}

func (c *Coordinator) parkWaiting(ctx context.Context, o *domain.Order) error {
	if err := c.store.MarkWaiting(ctx, o.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // assigned or removed meanwhile
		}
		return fmt.Errorf("%w: mark order %d waiting: %v", ErrRequeue, o.ID, err)
	}
	c.log.Info("order_waiting", map[string]any{"order_id": o.ID, "order_number": o.Number})
	if err := c.notifier.OperatorAlert(ctx, "no_runner_available", map[string]any{
		"order_id":     o.ID,
		"order_number": o.Number,
	}); err != nil {
		c.log.Error("operator_alert_failed", err, map[string]any{"order_id": o.ID})
	}
	return nil
}

// notifyCreated pushes the creation notice to customer and restaurant.
// Best effort; a failed push never blocks assignment.
func (c *Coordinator) notifyCreated(ctx context.Context, o *domain.Order) {
	customer, err := c.store.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		c.log.Error("customer_lookup_failed", err, map[string]any{"order_id": o.ID, "customer_id": o.CustomerID})
		return
	}
	restaurant, err := c.store.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		c.log.Error("restaurant_lookup_failed", err, map[string]any{"order_id": o.ID, "restaurant_id": o.RestaurantID})
		return
	}
	if err := c.notifier.OrderCreated(ctx, o, customer, restaurant); err != nil {
		c.log.Error("notify_created_failed", err, map[string]any{"order_id": o.ID})
	}
}

// dropIfMissing turns NotFound into a clean no-op and everything else into a
// redeliverable failure.
func (c *Coordinator) dropIfMissing(action string, err error, id int64) error {
	if errors.Is(err, domain.ErrNotFound) {
		c.log.Error(action, err, map[string]any{"id": id})
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRequeue, err)
}

func (c *Coordinator) logAssigned(o *domain.Order, r *domain.Runner) {
	c.log.Info("runner_assigned", map[string]any{
		"order_id":     o.ID,
		"order_number": o.Number,
		"runner_id":    r.ID,
		"runner":       r.Name,
	})
}
