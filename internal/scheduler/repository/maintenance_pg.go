package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"courier-dispatch/internal/domain"
)

type PostgresMaintenance struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresMaintenance)(nil)

func NewPostgresMaintenance(pool *pgxpool.Pool) *PostgresMaintenance {
	return &PostgresMaintenance{pool: pool}
}

func (m *PostgresMaintenance) ResetCompleted(ctx context.Context) (int64, error) {
	tag, err := m.pool.Exec(ctx, `UPDATE runners SET completed_orders = 0 WHERE completed_orders <> 0`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (m *PostgresMaintenance) ResetTotalCompleted(ctx context.Context) (int64, error) {
	tag, err := m.pool.Exec(ctx, `UPDATE runners SET total_completed_orders = 0 WHERE total_completed_orders <> 0`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (m *PostgresMaintenance) StaleWaitingOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, order_number, pickup_code, status, delivery_time,
		       restaurant_id, customer_id, runner_id, waiting_for_runner,
		       created_at, updated_at
		FROM orders
		WHERE waiting_for_runner AND runner_id IS NULL
		  AND updated_at < now() - make_interval(secs => $1)
		ORDER BY created_at`, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Number, &o.PickupCode, &o.Status, &o.DeliveryTime,
			&o.RestaurantID, &o.CustomerID, &o.RunnerID, &o.WaitingForRunner,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
