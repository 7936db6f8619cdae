package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/connections/database"
	"courier-dispatch/internal/connections/rabbitmq"
	redisconn "courier-dispatch/internal/connections/redis"
	"courier-dispatch/internal/dispatcher/repository"
	"courier-dispatch/internal/dispatcher/service"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notifier"
)

// Run wires the assignment engine and consumes change events until ctx is
// canceled. Blocks; returns only on fatal startup error or after drain.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.New("dispatcher")

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}

	rdb, err := redisconn.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	store := repository.NewPostgresStore(pool)
	conflict := service.NewConflictChecker(store, cfg.Assignment.ConflictWindow, log)
	selector := service.NewSelector(store, conflict, log)
	dedup := service.NewRedisDedup(rdb, cfg.Assignment.DedupTTL)
	coordinator := service.NewCoordinator(store, selector, conflict, notifier.New(mq), dedup,
		service.CoordinatorConfig{
			ActivationBatch: cfg.Assignment.ActivationBatch,
			SelectRetries:   cfg.Assignment.SelectRetries,
			RetryBackoff:    cfg.Assignment.RetryBackoff,
		}, log)

	consCh, msgs, err := mq.Consume(rabbitmq.DispatchQueue, "dispatcher", cfg.Assignment.Prefetch)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	closeCh := consCh.NotifyClose(make(chan *amqp091.Error, 1))
	cancelCh := consCh.NotifyCancel(make(chan string, 1))
	go func() {
		for {
			select {
			case e := <-closeCh:
				if e != nil {
					log.Error("amqp_channel_closed", e, map[string]any{"code": e.Code})
				}
				return
			case tag := <-cancelCh:
				if tag != "" {
					log.Error("consumer_canceled", nil, map[string]any{"tag": tag})
				}
			}
		}
	}()

	log.Info("consuming", map[string]any{"queue": rabbitmq.DispatchQueue, "prefetch": cfg.Assignment.Prefetch})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range msgs {
			err := handleDelivery(ctx, coordinator, d)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, service.ErrDLQ):
				_ = d.Nack(false, false)
			case errors.Is(err, service.ErrRequeue):
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, true)
			}
			if err != nil {
				log.Error("event_handling_failed", err, map[string]any{"routing_key": d.RoutingKey})
			}
		}
	}()

	<-ctx.Done()
	log.Info("graceful_shutdown", nil)
	_ = consCh.Cancel("dispatcher", false) // stop intake, then drain in-flight
	<-done
	return nil
}

func handleDelivery(ctx context.Context, c *service.Coordinator, d amqp091.Delivery) error {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fmt.Errorf("%w: unparseable event: %v", service.ErrDLQ, err)
	}
	if ev.Entity == "" || ev.EntityID == 0 {
		return fmt.Errorf("%w: event missing entity identity", service.ErrDLQ)
	}
	return c.Dispatch(ctx, ev)
}
