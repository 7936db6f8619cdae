package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier-dispatch/internal/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, order_number, pickup_code, status, delivery_time,
		       restaurant_id, customer_id, runner_id, waiting_for_runner,
		       created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Number, &o.PickupCode, &o.Status, &o.DeliveryTime,
			&o.RestaurantID, &o.CustomerID, &o.RunnerID, &o.WaitingForRunner,
			&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetRunner(ctx context.Context, id int64) (*domain.Runner, error) {
	var r domain.Runner
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_active, active_orders, completed_orders,
		       total_completed_orders, fcm_token
		FROM runners WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.IsActive, &r.ActiveOrders, &r.CompletedOrders,
			&r.TotalCompletedOrders, &r.FCMToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("runner %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRestaurant(ctx context.Context, id int64) (*domain.Restaurant, error) {
	var r domain.Restaurant
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM restaurants WHERE id = $1`, id).
		Scan(&r.ID, &r.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("restaurant %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.pool.QueryRow(ctx, `SELECT id, name, fcm_token FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.FCMToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ActiveRunners(ctx context.Context) ([]domain.Runner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, is_active, active_orders, completed_orders,
		       total_completed_orders, fcm_token
		FROM runners WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runners []domain.Runner
	for rows.Next() {
		var r domain.Runner
		if err := rows.Scan(&r.ID, &r.Name, &r.IsActive, &r.ActiveOrders,
			&r.CompletedOrders, &r.TotalCompletedOrders, &r.FCMToken); err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

func (s *PostgresStore) ActiveCommitments(ctx context.Context, runnerID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT delivery_time FROM orders
		WHERE runner_id = $1 AND status IN ('received','ready','picked')`, runnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// AssignTx is the check-then-act fix: selection reads freely, but commitment
// happens under a runner row lock with both sides re-validated, so two
// concurrent orders racing for the same runner serialize here.
func (s *PostgresStore) AssignTx(ctx context.Context, orderID, runnerID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var isActive bool
	err = tx.QueryRow(ctx, `SELECT is_active FROM runners WHERE id = $1 FOR UPDATE`, runnerID).
		Scan(&isActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("runner %d: %w", runnerID, domain.ErrRunnerUnavailable)
	}
	if err != nil {
		return err
	}
	if !isActive {
		return fmt.Errorf("runner %d inactive: %w", runnerID, domain.ErrRunnerUnavailable)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET runner_id = $2, waiting_for_runner = FALSE, updated_at = now()
		WHERE id = $1 AND runner_id IS NULL
		  AND status IN ('received','ready','picked')`, orderID, runnerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var existing *int64
		err := tx.QueryRow(ctx, `SELECT runner_id FROM orders WHERE id = $1`, orderID).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("order %d: %w", orderID, domain.ErrAlreadyAssigned)
		}
		return fmt.Errorf("order %d not assignable: %w", orderID, domain.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE runners SET active_orders = active_orders + 1 WHERE id = $1`, runnerID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) MarkWaiting(ctx context.Context, orderID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET waiting_for_runner = TRUE, updated_at = now()
		WHERE id = $1 AND runner_id IS NULL`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

// CompleteTx settles a delivered order. The delivered_ack guard makes the
// counter moves happen exactly once no matter how often the delivered event
// is redelivered.
func (s *PostgresStore) CompleteTx(ctx context.Context, orderID, runnerID int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET delivered_ack = TRUE, updated_at = now()
		WHERE id = $1 AND runner_id = $2 AND delivered_ack = FALSE`, orderID, runnerID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE runners
		SET active_orders = GREATEST(active_orders - 1, 0),
		    completed_orders = completed_orders + 1,
		    total_completed_orders = total_completed_orders + 1
		WHERE id = $1`, runnerID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) WaitingOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_number, pickup_code, status, delivery_time,
		       restaurant_id, customer_id, runner_id, waiting_for_runner,
		       created_at, updated_at
		FROM orders
		WHERE waiting_for_runner AND runner_id IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
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
