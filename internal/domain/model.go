package domain

import "time"

type OrderStatus string

const (
	StatusReceived  OrderStatus = "received"
	StatusReady     OrderStatus = "ready"
	StatusPicked    OrderStatus = "picked"
	StatusDelivered OrderStatus = "delivered"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Undelivered reports whether an order in this status still counts against
// its runner's active load.
func (s OrderStatus) Undelivered() bool {
	switch s {
	case StatusReceived, StatusReady, StatusPicked:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID               int64
	Number           string
	PickupCode       string
	Status           OrderStatus
	DeliveryTime     string // "HH:MM", same-day
	RestaurantID     int64
	CustomerID       int64
	RunnerID         *int64
	WaitingForRunner bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (o *Order) Assigned() bool { return o.RunnerID != nil }

type Runner struct {
	ID                   int64
	Name                 string
	IsActive             bool
	ActiveOrders         int
	CompletedOrders      int // resets daily
	TotalCompletedOrders int // resets monthly
	FCMToken             *string
}

type Restaurant struct {
	ID   int64
	Name string
}

type Customer struct {
	ID       int64
	Name     string
	FCMToken *string
}
