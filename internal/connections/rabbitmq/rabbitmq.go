package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier-dispatch/internal/config"
)

const (
	ChangesExchange       = "changes_topic"
	NotificationsExchange = "notifications_fanout"
	AlertsExchange        = "ops_alerts"
	DLX                   = "dlx"

	DispatchQueue = "dispatch.q"
	DeadQueue     = "dlq"

	AlertsRoutingKey = "dispatch"
)

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // serializes Publish while waiting on confirms
}

func Dial(cfg config.RabbitMQConfig) (*Client, error) {
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &Client{conn: conn, ch: ch, acks: acks}, nil
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// DeclareTopology sets up the change-event feed and the outbound exchanges.
// Idempotent; every mode declares on startup.
func (c *Client) DeclareTopology() error {
	if err := c.ch.ExchangeDeclare(ChangesExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(NotificationsExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(AlertsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(DispatchQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DLX,
		"x-dead-letter-routing-key": DeadQueue,
	}); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(DeadQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.QueueBind(DeadQueue, DeadQueue, DLX, false, nil); err != nil {
		return err
	}
	for _, key := range []string{"orders.*", "runners.*"} {
		if err := c.ch.QueueBind(DispatchQueue, key, ChangesExchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends a persistent message and waits for the broker confirm.
func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return err
	}

	select {
	case conf := <-c.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume opens a dedicated channel with the given prefetch and subscribes
// to the dispatch queue with manual acks.
func (c *Client) Consume(queue, consumer string, prefetch int) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	msgs, err := ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	return ch, msgs, nil
}
