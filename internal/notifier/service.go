package notifier

import (
	"context"
	"encoding/json"
	"time"

	"courier-dispatch/internal/connections/rabbitmq"
	"courier-dispatch/internal/domain"
)

// Service publishes notification requests for the external dispatchers
// (push/SMS) and alerts for the operator channel. Actual delivery to devices
// is out of scope here; this only hands the payloads to the broker.
type Service struct {
	mq *rabbitmq.Client
}

func New(mq *rabbitmq.Client) *Service { return &Service{mq: mq} }

type pushMessage struct {
	Type        string `json:"type"`
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Recipient   string `json:"recipient,omitempty"`
	FCMToken    string `json:"fcm_token,omitempty"`
	Restaurant  string `json:"restaurant,omitempty"`
	Runner      string `json:"runner,omitempty"`
	PickupCode  string `json:"pickup_code,omitempty"`
}

func (s *Service) OrderCreated(ctx context.Context, o *domain.Order, c *domain.Customer, r *domain.Restaurant) error {
	msg := pushMessage{
		Type:        "order_created",
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Recipient:   c.Name,
		Restaurant:  r.Name,
	}
	if c.FCMToken != nil {
		msg.FCMToken = *c.FCMToken
	}
	return s.publish(ctx, rabbitmq.NotificationsExchange, "", msg)
}

func (s *Service) OrderReady(ctx context.Context, o *domain.Order, c *domain.Customer) error {
	msg := pushMessage{
		Type:        "order_ready",
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Recipient:   c.Name,
		PickupCode:  o.PickupCode,
	}
	if c.FCMToken != nil {
		msg.FCMToken = *c.FCMToken
	}
	return s.publish(ctx, rabbitmq.NotificationsExchange, "", msg)
}

func (s *Service) RunnerAssigned(ctx context.Context, o *domain.Order, r *domain.Runner) error {
	msg := pushMessage{
		Type:        "runner_assigned",
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Runner:      r.Name,
	}
	if r.FCMToken != nil {
		msg.FCMToken = *r.FCMToken
	}
	return s.publish(ctx, rabbitmq.NotificationsExchange, "", msg)
}

func (s *Service) OperatorAlert(ctx context.Context, kind string, fields map[string]any) error {
	payload := map[string]any{
		"type": kind,
		"at":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}
	return s.publish(ctx, rabbitmq.AlertsExchange, rabbitmq.AlertsRoutingKey, payload)
}

func (s *Service) publish(ctx context.Context, exchange, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.mq.Publish(pctx, exchange, key, body)
}
