package interceptors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// RoleID is the fully-qualified name of a capability
type RoleID string

// Role identifiers of the built-in capabilities
const (
	RoleAuthentication RoleID = "mmate.capability.authentication"
	RoleCompression    RoleID = "mmate.capability.compression"
	RoleCorrelation    RoleID = "mmate.capability.correlation"
	RoleSigning        RoleID = "mmate.capability.signing"
	RoleTransformation RoleID = "mmate.capability.transformation"
)

// Kind is the closed set of interceptor variants
type Kind int

const (
	KindExtension Kind = iota
	KindAuthentication
	KindCompression
	KindCorrelation
	KindSigning
	KindTransformation
)

var kindNames = map[Kind]string{
	KindExtension:      "extension",
	KindAuthentication: "authentication",
	KindCompression:    "compression",
	KindCorrelation:    "correlation",
	KindSigning:        "signing",
	KindTransformation: "transformation",
}

// String returns the kind name
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown interceptor kind %q", s)
}

// Descriptor identifies an interceptor to the registry and planner
type Descriptor struct {
	RoleID   RoleID
	Name     string
	Kind     Kind
	Priority int
}

// String returns a compact representation for logs
func (d Descriptor) String() string {
	return fmt.Sprintf("%s[%s]", d.RoleID, d.Name)
}

// Interceptor processes a message exchange as one step of a planned pipeline
type Interceptor interface {
	// Descriptor returns the interceptor's identity and ordering information
	Descriptor() Descriptor

	// Properties returns the interceptor's read-only configuration
	Properties() Properties

	// Process applies the interceptor to the exchange. Params come from the
	// policy assertion that caused the interceptor to be planned.
	Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error
}

// Properties is a read-only bag of interceptor configuration
type Properties struct {
	values map[string]interface{}
}

// NewProperties creates a property bag from a copy of values
func NewProperties(values map[string]interface{}) Properties {
	p := Properties{values: make(map[string]interface{}, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// Get retrieves a property
func (p Properties) Get(key string) (interface{}, bool) {
	v, ok := p.values[key]
	return v, ok
}

// GetString retrieves a string property
func (p Properties) GetString(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt retrieves an int property
func (p Properties) GetInt(key string) (int, bool) {
	v, ok := p.values[key]
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

// Keys returns the property names in lexical order
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of properties
func (p Properties) Len() int {
	return len(p.values)
}

// base carries the descriptor and properties shared by built-in variants
type base struct {
	desc  Descriptor
	props map[string]interface{}
}

// Option configures a built-in interceptor
type Option func(*base)

// WithName overrides the instance name
func WithName(name string) Option {
	return func(b *base) {
		b.desc.Name = name
	}
}

// WithPriority sets the ordering priority
func WithPriority(priority int) Option {
	return func(b *base) {
		b.desc.Priority = priority
	}
}

// WithRoleID overrides the capability the interceptor registers for
func WithRoleID(roleID RoleID) Option {
	return func(b *base) {
		b.desc.RoleID = roleID
	}
}

// WithProperty adds a configuration property
func WithProperty(key string, value interface{}) Option {
	return func(b *base) {
		if b.props == nil {
			b.props = make(map[string]interface{})
		}
		b.props[key] = value
	}
}

func newBase(desc Descriptor, opts []Option) base {
	b := base{desc: desc}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Descriptor implements Interceptor
func (b base) Descriptor() Descriptor {
	return b.desc
}

// Properties implements Interceptor
func (b base) Properties() Properties {
	return NewProperties(b.props)
}

func (b base) stringProp(key, fallback string) string {
	if v, ok := b.props[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (b base) intProp(key string, fallback int) int {
	if v, ok := b.props[key].(int); ok {
		return v
	}
	return fallback
}
