package policy

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is the part the local endpoint plays in an exchange
type Role int

const (
	// Requester is the consumer side of an exchange
	Requester Role = iota + 1
	// Provider is the service side of an exchange
	Provider
)

// AllRoles lists every valid role
var AllRoles = []Role{Requester, Provider}

// String returns the role name
func (r Role) String() string {
	switch r {
	case Requester:
		return "requester"
	case Provider:
		return "provider"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == Requester || r == Provider
}

// ParseRole parses a role name
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requester", "consumer":
		return Requester, nil
	case "provider", "service":
		return Provider, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidPolicy, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: invalid role %d", ErrInvalidPolicy, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (r *Role) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// Scope is an opaque configuration scope identifier
type Scope string

// String returns the scope as a string
func (s Scope) String() string {
	return string(s)
}
