package policy

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// ErrInvalidPolicy is returned when a policy or assertion is malformed
var ErrInvalidPolicy = errors.New("invalid policy")

// Well-known assertion types
const (
	AssertionAuthentication = "authentication"
	AssertionCompression    = "compression"
	AssertionCorrelation    = "correlation"
	AssertionSigning        = "signing"
	AssertionTransformation = "transformation"
	AssertionExtension      = "extension"
)

// Assertion declares one required cross-cutting capability
type Assertion struct {
	// Type selects the capability through the planner's capability table
	Type string `yaml:"type" cbor:"type"`
	// Capability names a role identifier directly, bypassing the table
	Capability string `yaml:"capability,omitempty" cbor:"capability,omitempty"`
	// Roles restricts the assertion to the listed roles
	Roles []Role `yaml:"roles,omitempty" cbor:"roles,omitempty"`
	// Params are passed to the interceptor that satisfies the assertion
	Params Params `yaml:"params,omitempty" cbor:"params,omitempty"`
	// Allow maps interceptor names to allow decisions and becomes a filter hint
	Allow map[string]bool `yaml:"allow,omitempty" cbor:"allow,omitempty"`
}

// AppliesTo reports whether the assertion applies to role. When the assertion
// does not restrict roles, fallback decides; an empty fallback applies to all.
func (a Assertion) AppliesTo(role Role, fallback []Role) bool {
	roles := a.Roles
	if len(roles) == 0 {
		roles = fallback
	}
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with a
func (a Assertion) Clone() Assertion {
	c := a
	if a.Roles != nil {
		c.Roles = append([]Role(nil), a.Roles...)
	}
	c.Params = a.Params.Clone()
	if a.Allow != nil {
		c.Allow = make(map[string]bool, len(a.Allow))
		for k, v := range a.Allow {
			c.Allow[k] = v
		}
	}
	return c
}

func (a Assertion) validate() error {
	if a.Type == "" && a.Capability == "" {
		return fmt.Errorf("%w: assertion needs a type or capability", ErrInvalidPolicy)
	}
	for _, r := range a.Roles {
		if !r.Valid() {
			return fmt.Errorf("%w: assertion %q has invalid role %d", ErrInvalidPolicy, a.Type, int(r))
		}
	}
	return nil
}

// Policy is an immutable ordered set of assertions
type Policy struct {
	id          string
	assertions  []Assertion
	fingerprint string
}

var fingerprintMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	mode, err := opts.EncMode()
	if err != nil {
		panic("policy: CBOR encoder initialization failed: " + err.Error())
	}
	fingerprintMode = mode
}

// New creates a policy from assertions in declaration order. The assertions
// are copied, so later changes to the arguments do not affect the policy.
func New(id string, assertions ...Assertion) (*Policy, error) {
	p := &Policy{
		id:         id,
		assertions: make([]Assertion, 0, len(assertions)),
	}
	for i, a := range assertions {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("assertion %d: %w", i, err)
		}
		p.assertions = append(p.assertions, a.Clone())
	}

	encoded, err := fingerprintMode.Marshal(p.assertions)
	if err != nil {
		return nil, fmt.Errorf("%w: assertions are not encodable: %v", ErrInvalidPolicy, err)
	}
	sum := blake3.Sum256(encoded)
	p.fingerprint = "pol-" + hex.EncodeToString(sum[:12])

	return p, nil
}

// MustNew is like New but panics on error
func MustNew(id string, assertions ...Assertion) *Policy {
	p, err := New(id, assertions...)
	if err != nil {
		panic(err)
	}
	return p
}

// ID returns the policy identifier, which may be empty
func (p *Policy) ID() string {
	return p.id
}

// Fingerprint returns a content hash of the assertions
func (p *Policy) Fingerprint() string {
	return p.fingerprint
}

// Key names the policy in plans and events: the ID when set, else the
// fingerprint. Plan caching keys on both ID and fingerprint.
func (p *Policy) Key() string {
	if p.id != "" {
		return p.id
	}
	return p.fingerprint
}

// Len returns the number of assertions
func (p *Policy) Len() int {
	return len(p.assertions)
}

// Assertion returns a copy of the i-th assertion
func (p *Policy) Assertion(i int) Assertion {
	return p.assertions[i].Clone()
}

// Assertions returns a copy of all assertions in declaration order
func (p *Policy) Assertions() []Assertion {
	out := make([]Assertion, len(p.assertions))
	for i, a := range p.assertions {
		out[i] = a.Clone()
	}
	return out
}
