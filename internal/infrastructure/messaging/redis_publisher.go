package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/circuitbreaker"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// ChannelPublisher publishes raw messages to a pub/sub channel.
// Satisfied by the Redis client in persistence/redis.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// RedisPublisher forwards events to a Redis pub/sub channel as JSON
// envelopes, for consumers outside this process such as the analytics
// exporter. It is registered on the bus with SubscribeAll. While Redis is
// failing, the breaker drops events instead of waiting out the timeout.
type RedisPublisher struct {
	client  ChannelPublisher
	channel string
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

// RedisPublisherConfig contains configuration for RedisPublisher.
type RedisPublisherConfig struct {
	Channel string
	Timeout time.Duration

	// FailureThreshold consecutive failures open the breaker for CoolDown.
	FailureThreshold int
	CoolDown         time.Duration

	Logger *logger.Logger
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(client ChannelPublisher, config RedisPublisherConfig) *RedisPublisher {
	if config.Channel == "" {
		config.Channel = "learning:events"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	log := config.Logger.With(logger.Component("redis_publisher"))

	return &RedisPublisher{
		client:  client,
		channel: config.Channel,
		timeout: config.Timeout,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "redis-publisher",
			FailureThreshold: config.FailureThreshold,
			CoolDown:         config.CoolDown,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		}),
		logger: log,
	}
}

// Publish implements shared.EventPublisher.
func (p *RedisPublisher) Publish(event shared.Event) error {
	envelope, err := shared.NewEnvelope(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, p.channel, data)
	})
	if err != nil {
		p.logger.Error("failed to publish to redis",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
		return err
	}
	return nil
}

// Handler adapts the publisher to a bus subscription.
func (p *RedisPublisher) Handler() shared.EventHandler {
	return p.Publish
}
