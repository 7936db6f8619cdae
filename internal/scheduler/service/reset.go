package service

import (
	"context"
	"time"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/scheduler/repository"
)

// Alerter is the slice of the operator channel the maintenance jobs need.
type Alerter interface {
	OperatorAlert(ctx context.Context, kind string, fields map[string]any) error
}

// Maintenance runs the counter lifecycle jobs. Resets are single batch
// writes and idempotent: re-running against already-zero counters touches
// nothing and is harmless.
type Maintenance struct {
	store      repository.Store
	alerter    Alerter
	waitingAge time.Duration
	log        *logger.Logger
}

func NewMaintenance(store repository.Store, alerter Alerter, waitingAge time.Duration, log *logger.Logger) *Maintenance {
	return &Maintenance{store: store, alerter: alerter, waitingAge: waitingAge, log: log}
}

// ResetDaily zeroes completed_orders across all runners.
func (m *Maintenance) ResetDaily(ctx context.Context) error {
	n, err := m.store.ResetCompleted(ctx)
	if err != nil {
		m.log.Error("daily_reset_failed", err, nil)
		return err
	}
	m.log.Info("daily_reset", map[string]any{"runners_reset": n})
	return nil
}

// ResetMonthly zeroes total_completed_orders across all runners.
func (m *Maintenance) ResetMonthly(ctx context.Context) error {
	n, err := m.store.ResetTotalCompleted(ctx)
	if err != nil {
		m.log.Error("monthly_reset_failed", err, nil)
		return err
	}
	m.log.Info("monthly_reset", map[string]any{"runners_reset": n})
	return nil
}

// SweepWaiting re-alerts the operator channel for orders stuck without a
// runner past the configured age.
func (m *Maintenance) SweepWaiting(ctx context.Context) error {
	stale, err := m.store.StaleWaitingOrders(ctx, m.waitingAge)
	if err != nil {
		m.log.Error("waiting_sweep_failed", err, nil)
		return err
	}
	for _, o := range stale {
		if err := m.alerter.OperatorAlert(ctx, "waiting_order_stale", map[string]any{
			"order_id":      o.ID,
			"order_number":  o.Number,
			"waiting_since": o.UpdatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			m.log.Error("operator_alert_failed", err, map[string]any{"order_id": o.ID})
		}
	}
	if len(stale) > 0 {
		m.log.Info("waiting_sweep", map[string]any{"stale_orders": len(stale)})
	}
	return nil
}
