package contracts

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Direction tells interceptors which way an exchange is travelling
type Direction int

const (
	// Inbound exchanges were received from the bus
	Inbound Direction = iota
	// Outbound exchanges are about to be sent to the bus
	Outbound
)

// String returns the direction name
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Well-known header names written and read by the built-in interceptors
const (
	HeaderCorrelationID      = "X-Correlation-ID"
	HeaderTraceID            = "X-Trace-ID"
	HeaderAuthorization      = "Authorization"
	HeaderContentType        = "Content-Type"
	HeaderContentEncoding    = "Content-Encoding"
	HeaderUncompressedLength = "X-Uncompressed-Length"
	HeaderSignature          = "X-Signature"
)

// Exchange is the mutable message carrier processed by an interceptor pipeline
type Exchange struct {
	ID            string
	Type          string
	CorrelationID string
	TraceID       string
	Direction     Direction
	Timestamp     time.Time
	Headers       map[string]string
	Body          []byte
	Properties    *PropertyBag
}

// NewExchange creates a new exchange with generated ID and current timestamp
func NewExchange(messageType string, direction Direction, body []byte) *Exchange {
	return &Exchange{
		ID:         uuid.New().String(),
		Type:       messageType,
		Direction:  direction,
		Timestamp:  time.Now().UTC(),
		Headers:    make(map[string]string),
		Body:       body,
		Properties: NewPropertyBag(),
	}
}

// Header returns a header value
func (e *Exchange) Header(name string) (string, bool) {
	if e.Headers == nil {
		return "", false
	}
	v, ok := e.Headers[name]
	return v, ok
}

// SetHeader stores a header value
func (e *Exchange) SetHeader(name, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[name] = value
}

// DeleteHeader removes a header
func (e *Exchange) DeleteHeader(name string) {
	delete(e.Headers, name)
}

// HeaderNames returns the header names in lexical order
func (e *Exchange) HeaderNames() []string {
	names := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Props returns the property bag, creating it on first use
func (e *Exchange) Props() *PropertyBag {
	if e.Properties == nil {
		e.Properties = NewPropertyBag()
	}
	return e.Properties
}

// Clone returns a deep copy of the exchange
func (e *Exchange) Clone() *Exchange {
	c := *e
	c.Headers = make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		c.Headers[k] = v
	}
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	if e.Properties != nil {
		c.Properties = e.Properties.Copy()
	} else {
		c.Properties = NewPropertyBag()
	}
	return &c
}
