// Package mocks holds testify mocks for the dispatcher's injected
// capabilities.
package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"courier-dispatch/internal/domain"
)

type Store struct{ mock.Mock }

func NewStore(t *testing.T) *Store {
	m := &Store{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	args := m.Called(ctx, id)
	var o *domain.Order
	if v := args.Get(0); v != nil {
		o = v.(*domain.Order)
	}
	return o, args.Error(1)
}

func (m *Store) GetRunner(ctx context.Context, id int64) (*domain.Runner, error) {
	args := m.Called(ctx, id)
	var r *domain.Runner
	if v := args.Get(0); v != nil {
		r = v.(*domain.Runner)
	}
	return r, args.Error(1)
}

func (m *Store) GetRestaurant(ctx context.Context, id int64) (*domain.Restaurant, error) {
	args := m.Called(ctx, id)
	var r *domain.Restaurant
	if v := args.Get(0); v != nil {
		r = v.(*domain.Restaurant)
	}
	return r, args.Error(1)
}

func (m *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	args := m.Called(ctx, id)
	var c *domain.Customer
	if v := args.Get(0); v != nil {
		c = v.(*domain.Customer)
	}
	return c, args.Error(1)
}

func (m *Store) ActiveRunners(ctx context.Context) ([]domain.Runner, error) {
	args := m.Called(ctx)
	var rs []domain.Runner
	if v := args.Get(0); v != nil {
		rs = v.([]domain.Runner)
	}
	return rs, args.Error(1)
}

func (m *Store) ActiveCommitments(ctx context.Context, runnerID int64) ([]string, error) {
	args := m.Called(ctx, runnerID)
	var ts []string
	if v := args.Get(0); v != nil {
		ts = v.([]string)
	}
	return ts, args.Error(1)
}

func (m *Store) AssignTx(ctx context.Context, orderID, runnerID int64) error {
	return m.Called(ctx, orderID, runnerID).Error(0)
}

func (m *Store) MarkWaiting(ctx context.Context, orderID int64) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *Store) CompleteTx(ctx context.Context, orderID, runnerID int64) (bool, error) {
	args := m.Called(ctx, orderID, runnerID)
	return args.Bool(0), args.Error(1)
}

func (m *Store) WaitingOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	args := m.Called(ctx, limit)
	var os []domain.Order
	if v := args.Get(0); v != nil {
		os = v.([]domain.Order)
	}
	return os, args.Error(1)
}

type Notifier struct{ mock.Mock }

func NewNotifier(t *testing.T) *Notifier {
	m := &Notifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Notifier) OrderCreated(ctx context.Context, o *domain.Order, c *domain.Customer, r *domain.Restaurant) error {
	return m.Called(ctx, o, c, r).Error(0)
}

func (m *Notifier) OrderReady(ctx context.Context, o *domain.Order, c *domain.Customer) error {
	return m.Called(ctx, o, c).Error(0)
}

func (m *Notifier) RunnerAssigned(ctx context.Context, o *domain.Order, r *domain.Runner) error {
	return m.Called(ctx, o, r).Error(0)
}

func (m *Notifier) OperatorAlert(ctx context.Context, kind string, fields map[string]any) error {
	return m.Called(ctx, kind, fields).Error(0)
}

type Dedup struct{ mock.Mock }

func NewDedup(t *testing.T) *Dedup {
	m := &Dedup{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *Dedup) Mark(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
