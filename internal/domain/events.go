package domain

// The order store delivers at-least-once change events carrying before/after
// snapshots. Transitions are derived from the snapshots themselves, never
// from delivery order, so a replayed event classifies identically.

type Entity string

const (
	EntityOrders  Entity = "orders"
	EntityRunners Entity = "runners"
)

type Transition string

const (
	TransitionOrderCreated      Transition = "order_created"
	TransitionOrderReady        Transition = "order_ready"
	TransitionOrderDelivered    Transition = "order_delivered"
	TransitionRunnerActivated   Transition = "runner_activated"
	TransitionRunnerDeactivated Transition = "runner_deactivated"
	TransitionNone              Transition = "none"
)

type OrderState struct {
	Status           OrderStatus `json:"status"`
	RunnerID         *int64      `json:"runner_id,omitempty"`
	WaitingForRunner bool        `json:"waiting_for_runner,omitempty"`
	DeliveryTime     string      `json:"delivery_time,omitempty"`
}

type RunnerState struct {
	IsActive bool `json:"is_active"`
}

type ChangeEvent struct {
	Entity       Entity       `json:"entity"`
	EntityID     int64        `json:"entity_id"`
	OrderBefore  *OrderState  `json:"order_before,omitempty"`
	OrderAfter   *OrderState  `json:"order_after,omitempty"`
	RunnerBefore *RunnerState `json:"runner_before,omitempty"`
	RunnerAfter  *RunnerState `json:"runner_after,omitempty"`
}

// Transition classifies the event by comparing snapshots. Events whose
// before/after show no recognized state change map to TransitionNone; the
// coordinator treats those as no-ops, which is what makes redelivery safe.
func (e ChangeEvent) Transition() Transition {
	switch e.Entity {
	case EntityOrders:
		if e.OrderAfter == nil {
			return TransitionNone
		}
		if e.OrderBefore == nil {
			return TransitionOrderCreated
		}
		if e.OrderBefore.Status == e.OrderAfter.Status {
			return TransitionNone
		}
		switch e.OrderAfter.Status {
		case StatusReady:
			return TransitionOrderReady
		case StatusDelivered:
			if e.OrderBefore.Status.Undelivered() {
				return TransitionOrderDelivered
			}
		}
		return TransitionNone
	case EntityRunners:
		if e.RunnerBefore == nil || e.RunnerAfter == nil {
			return TransitionNone
		}
		switch {
		case !e.RunnerBefore.IsActive && e.RunnerAfter.IsActive:
			return TransitionRunnerActivated
		case e.RunnerBefore.IsActive && !e.RunnerAfter.IsActive:
			return TransitionRunnerDeactivated
		}
		return TransitionNone
	}
	return TransitionNone
}
