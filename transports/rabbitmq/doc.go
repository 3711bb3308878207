// Package rabbitmq adapts AMQP 0-9-1 deliveries to policy-processed
// exchanges.
//
// FromDelivery and ToPublishing convert between broker messages and
// contracts.Exchange. Consumer reads deliveries from a queue, runs each one
// through a Processor and acknowledges it according to the outcome:
//
//	conn := rabbitmq.NewConnectionManager(url)
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	ch, err := conn.Channel()
//	...
//	consumer := rabbitmq.NewConsumer(ch, engine, "orders", pol, policy.Provider)
//	err = consumer.Run(ctx)
package rabbitmq
