package rabbitmq

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/filters"
	"github.com/glimte/mmate-policy/pipeline"
	"github.com/glimte/mmate-policy/policy"
)

// Channel is the subset of *amqp.Channel used by Consumer
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Processor plans and executes a policy against an exchange
type Processor interface {
	Process(ctx context.Context, pol *policy.Policy, role policy.Role, scope policy.Scope, ex *contracts.Exchange, hints ...filters.Hint) (*pipeline.Result, error)
}

// Consumer runs every delivery of a queue through a Processor. Successfully
// processed deliveries are acked, optionally after publishing the processed
// exchange; planning and processing failures are nacked without requeue.
type Consumer struct {
	channel     Channel
	processor   Processor
	queue       string
	policy      *policy.Policy
	role        policy.Role
	scope       policy.Scope
	consumerTag string
	prefetch    int
	exchange    string
	routingKey  string
	publish     bool
	retry       RetryPolicy
	logger      *slog.Logger
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithLogger sets the consumer logger
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrefetch sets the channel prefetch count
func WithPrefetch(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetch = count
	}
}

// WithScope sets the scope used for planning
func WithScope(scope policy.Scope) ConsumerOption {
	return func(c *Consumer) {
		c.scope = scope
	}
}

// WithConsumerTag sets the AMQP consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithPublishTo publishes each processed exchange to exchange with routingKey
// before acknowledging the delivery
func WithPublishTo(exchange, routingKey string) ConsumerOption {
	return func(c *Consumer) {
		c.exchange = exchange
		c.routingKey = routingKey
		c.publish = true
	}
}

// WithPublishRetry retries failed publishes according to policy before the
// delivery is requeued
func WithPublishRetry(policy RetryPolicy) ConsumerOption {
	return func(c *Consumer) {
		c.retry = policy
	}
}

// NewConsumer creates a consumer for queue applying pol as role
func NewConsumer(ch Channel, processor Processor, queue string, pol *policy.Policy, role policy.Role, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		channel:   ch,
		processor: processor,
		queue:     queue,
		policy:    pol,
		role:      role,
		prefetch:  10,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is done or the delivery channel closes. Failures of
// individual deliveries are logged and do not stop the consumer.
func (c *Consumer) Run(ctx context.Context) error {
	if c.prefetch > 0 {
		if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
			return &ConsumerError{Queue: c.queue, Op: "qos", Err: err}
		}
	}

	deliveries, err := c.channel.Consume(
		c.queue,
		c.consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return &ConsumerError{Queue: c.queue, Op: "consume", Err: err}
	}

	c.logger.Info("consumer started", "queue", c.queue, "role", c.role.String())

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped", "queue", c.queue)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return &ConsumerError{Queue: c.queue, Op: "consume", Err: ErrDeliveriesClosed}
			}
			if err := c.Handle(ctx, d); err != nil {
				c.logger.Warn("delivery rejected",
					"queue", c.queue,
					"messageId", d.MessageId,
					"error", err,
				)
			}
		}
	}
}

// Handle processes one delivery and settles it
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	ex := FromDelivery(d, contracts.Inbound)

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(ex.Headers))
	if ex.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ex.TraceID = sc.TraceID().String()
		}
	}

	result, err := c.processor.Process(ctx, c.policy, c.role, c.scope, ex)
	if err != nil {
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to nack delivery", "messageId", ex.ID, "error", nackErr)
		}
		return &ConsumerError{Queue: c.queue, MessageID: ex.ID, Op: "process", Err: err}
	}

	if c.publish {
		out := result.Exchange.Clone()
		out.Direction = contracts.Outbound
		msg := ToPublishing(out)
		if msg.Headers == nil {
			msg.Headers = amqp.Table{}
		}
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		for k, v := range carrier {
			msg.Headers[k] = v
		}

		err := retry(ctx, c.retry, func() error {
			return c.channel.PublishWithContext(ctx, c.exchange, c.routingKey, false, false, msg)
		})
		if err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				c.logger.Error("failed to nack delivery", "messageId", ex.ID, "error", nackErr)
			}
			return &ConsumerError{
				Queue:     c.queue,
				MessageID: ex.ID,
				Op:        "publish",
				Err:       &PublishError{Exchange: c.exchange, RoutingKey: c.routingKey, Err: err},
			}
		}
	}

	if err := d.Ack(false); err != nil {
		return &ConsumerError{Queue: c.queue, MessageID: ex.ID, Op: "ack", Err: err}
	}
	c.logger.Debug("delivery processed", "queue", c.queue, "messageId", ex.ID, "steps", len(result.Steps))
	return nil
}
