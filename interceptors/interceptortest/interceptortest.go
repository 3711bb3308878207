// Package interceptortest provides interceptors for tests of planners,
// filter strategies and pipelines.
package interceptortest

import (
	"context"
	"sync"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/policy"
)

// Stub is a configurable interceptor that records its invocations
type Stub struct {
	desc  interceptors.Descriptor
	props interceptors.Properties
	err   error
	log   *Log

	mu     sync.Mutex
	calls  int
	params []policy.Params
}

// StubOption configures a Stub
type StubOption func(*Stub)

// WithPriority sets the stub's priority
func WithPriority(priority int) StubOption {
	return func(s *Stub) {
		s.desc.Priority = priority
	}
}

// WithKind sets the stub's kind
func WithKind(kind interceptors.Kind) StubOption {
	return func(s *Stub) {
		s.desc.Kind = kind
	}
}

// WithError makes Process fail with err
func WithError(err error) StubOption {
	return func(s *Stub) {
		s.err = err
	}
}

// WithLog records every invocation in a shared log
func WithLog(log *Log) StubOption {
	return func(s *Stub) {
		s.log = log
	}
}

// WithProperties sets the stub's properties
func WithProperties(values map[string]interface{}) StubOption {
	return func(s *Stub) {
		s.props = interceptors.NewProperties(values)
	}
}

// NewStub creates a stub interceptor
func NewStub(roleID interceptors.RoleID, name string, opts ...StubOption) *Stub {
	s := &Stub{
		desc: interceptors.Descriptor{
			RoleID: roleID,
			Name:   name,
			Kind:   interceptors.KindExtension,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor implements interceptors.Interceptor
func (s *Stub) Descriptor() interceptors.Descriptor {
	return s.desc
}

// Properties implements interceptors.Interceptor
func (s *Stub) Properties() interceptors.Properties {
	return s.props
}

// Process implements interceptors.Interceptor
func (s *Stub) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	s.mu.Lock()
	s.calls++
	s.params = append(s.params, params)
	s.mu.Unlock()

	if s.log != nil {
		s.log.append(s.desc.Name)
	}
	return s.err
}

// Calls returns how many times Process ran
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Params returns the params of every invocation
func (s *Stub) Params() []policy.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]policy.Params(nil), s.params...)
}

// Log records interceptor invocations in order
type Log struct {
	mu    sync.Mutex
	names []string
}

func (l *Log) append(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

// Names returns the invoked interceptor names in invocation order
func (l *Log) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// Names returns the descriptor names of ics
func Names(ics []interceptors.Interceptor) []string {
	out := make([]string, len(ics))
	for i, ic := range ics {
		out[i] = ic.Descriptor().Name
	}
	return out
}
