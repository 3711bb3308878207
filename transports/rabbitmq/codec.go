package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-policy/contracts"
)

// FromDelivery converts a delivery into an exchange travelling in dir. AMQP
// properties become exchange fields or headers; table values are rendered as
// strings.
func FromDelivery(d amqp.Delivery, dir contracts.Direction) *contracts.Exchange {
	messageType := d.Type
	if messageType == "" {
		messageType = d.RoutingKey
	}

	ex := contracts.NewExchange(messageType, dir, d.Body)
	if d.MessageId != "" {
		ex.ID = d.MessageId
	}
	if !d.Timestamp.IsZero() {
		ex.Timestamp = d.Timestamp.UTC()
	}
	ex.CorrelationID = d.CorrelationId

	for k, v := range d.Headers {
		if s, ok := tableString(v); ok {
			ex.SetHeader(k, s)
		}
	}
	if d.ContentType != "" {
		ex.SetHeader(contracts.HeaderContentType, d.ContentType)
	}
	if d.ContentEncoding != "" {
		ex.SetHeader(contracts.HeaderContentEncoding, d.ContentEncoding)
	}
	if v, ok := ex.Header(contracts.HeaderTraceID); ok {
		ex.TraceID = v
	}

	return ex
}

// ToPublishing converts an exchange into a persistent publishing. The
// Content-Type and Content-Encoding headers move to the matching AMQP
// properties.
func ToPublishing(ex *contracts.Exchange) amqp.Publishing {
	msg := amqp.Publishing{
		MessageId:     ex.ID,
		CorrelationId: ex.CorrelationID,
		Type:          ex.Type,
		Timestamp:     ex.Timestamp,
		Body:          ex.Body,
		DeliveryMode:  amqp.Persistent,
	}

	headers := make(amqp.Table, len(ex.Headers))
	for _, name := range ex.HeaderNames() {
		v, _ := ex.Header(name)
		switch name {
		case contracts.HeaderContentType:
			msg.ContentType = v
		case contracts.HeaderContentEncoding:
			msg.ContentEncoding = v
		default:
			headers[name] = v
		}
	}
	if ex.TraceID != "" {
		headers[contracts.HeaderTraceID] = ex.TraceID
	}
	if len(headers) > 0 {
		msg.Headers = headers
	}
	return msg
}

func tableString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case amqp.Table, []interface{}:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}
