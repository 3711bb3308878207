// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-policy/config"
	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/filters"
	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/metrics"
	"github.com/glimte/mmate-policy/pipeline"
	"github.com/glimte/mmate-policy/planner"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/registry"
	"github.com/glimte/mmate-policy/tracking"
)

// Engine provides the main entry point for mmate-policy. It wires the
// interceptor registry, filter strategies, planner and executor together.
type Engine struct {
	registry   *registry.Registry
	strategies *filters.Set
	planner    *planner.Planner
	executor   *pipeline.Executor
	journal    *tracking.Journal
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// engineConfig holds engine configuration
type engineConfig struct {
	logger       *slog.Logger
	sinks        []tracking.Sink
	capabilities *planner.CapabilityTable
	cacheSize    int
	tracer       trace.Tracer
	journal      *tracking.Journal
	metrics      *metrics.Collector
	logEvents    bool
}

// EngineOption configures the engine
type EngineOption func(*engineConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) EngineOption {
	return func(cfg *engineConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() EngineOption {
	return func(cfg *engineConfig) {
		cfg.logger = slog.Default()
	}
}

// WithSink adds a diagnostic event sink
func WithSink(sink tracking.Sink) EngineOption {
	return func(cfg *engineConfig) {
		if sink != nil {
			cfg.sinks = append(cfg.sinks, sink)
		}
	}
}

// WithEventLogging logs every diagnostic event through the engine logger
func WithEventLogging() EngineOption {
	return func(cfg *engineConfig) {
		cfg.logEvents = true
	}
}

// WithJournal keeps recent diagnostic events in journal
func WithJournal(journal *tracking.Journal) EngineOption {
	return func(cfg *engineConfig) {
		cfg.journal = journal
	}
}

// WithMetrics records diagnostic events in collector
func WithMetrics(collector *metrics.Collector) EngineOption {
	return func(cfg *engineConfig) {
		cfg.metrics = collector
	}
}

// WithCapabilities replaces the capability table
func WithCapabilities(table *planner.CapabilityTable) EngineOption {
	return func(cfg *engineConfig) {
		cfg.capabilities = table
	}
}

// WithPlanCache caches up to size plans; zero disables caching
func WithPlanCache(size int) EngineOption {
	return func(cfg *engineConfig) {
		cfg.cacheSize = size
	}
}

// WithTracer sets the tracer used for pipeline spans
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(cfg *engineConfig) {
		cfg.tracer = tracer
	}
}

// NewEngine creates an engine with an empty registry and strategy set
func NewEngine(options ...EngineOption) *Engine {
	cfg := &engineConfig{
		logger:       slog.Default(),
		capabilities: planner.DefaultCapabilities(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	sinks := append([]tracking.Sink(nil), cfg.sinks...)
	if cfg.logEvents {
		sinks = append(sinks, tracking.NewLogSink(cfg.logger))
	}
	if cfg.journal != nil {
		sinks = append(sinks, cfg.journal)
	}
	if cfg.metrics != nil {
		sinks = append(sinks, cfg.metrics)
	}
	sink := tracking.Multi(sinks...)

	reg := registry.New(registry.WithLogger(cfg.logger))
	strategies := filters.NewSet(filters.WithLogger(cfg.logger))

	e := &Engine{
		registry:   reg,
		strategies: strategies,
		planner: planner.New(reg,
			planner.WithStrategies(strategies),
			planner.WithCapabilities(cfg.capabilities),
			planner.WithCache(cfg.cacheSize),
			planner.WithLogger(cfg.logger),
			planner.WithSink(sink),
		),
		executor: pipeline.NewExecutor(
			pipeline.WithLogger(cfg.logger),
			pipeline.WithSink(sink),
			pipeline.WithTracer(cfg.tracer),
		),
		journal: cfg.journal,
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}
	return e
}

// NewEngineFromConfig creates an engine with the capabilities, strategies
// and built-in interceptors selected by cfg. Options are applied after the
// configuration, so an explicit WithLogger wins over the configured one.
func NewEngineFromConfig(cfg *config.Config, options ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	table := planner.DefaultCapabilities()
	for _, c := range cfg.Planner.Capabilities {
		roles := make([]policy.Role, 0, len(c.Roles))
		for _, name := range c.Roles {
			r, err := policy.ParseRole(name)
			if err != nil {
				return nil, err
			}
			roles = append(roles, r)
		}
		if err := table.Register(planner.Capability{
			AssertionType: c.AssertionType,
			RoleID:        interceptors.RoleID(c.RoleID),
			Roles:         roles,
			Repeatable:    c.Repeatable,
		}); err != nil {
			return nil, err
		}
	}

	opts := []EngineOption{
		WithLogger(config.NewLogger(cfg.Logging)),
		WithCapabilities(table),
		WithPlanCache(cfg.Planner.CacheSize),
	}
	if cfg.Metrics.Enabled {
		var mopts []metrics.CollectorOption
		if cfg.Metrics.Runtime {
			mopts = append(mopts, metrics.WithRuntimeMetrics())
		}
		opts = append(opts, WithMetrics(metrics.NewCollector(mopts...)))
	}
	opts = append(opts, options...)

	e := NewEngine(opts...)
	if err := e.installStrategies(cfg.Strategies); err != nil {
		return nil, err
	}
	if err := e.installInterceptors(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) installStrategies(cfg config.StrategiesConfig) error {
	var strategies []filters.Strategy
	if cfg.DenyList.Enabled {
		strategies = append(strategies, filters.NewDenyList(cfg.DenyList.Priority))
	}
	if cfg.AllowList.Enabled {
		strategies = append(strategies, filters.NewAllowList(cfg.AllowList.Priority))
	}
	if cfg.CEL.Enabled {
		c, err := filters.NewCEL(cfg.CEL.Expression, cfg.CEL.Priority)
		if err != nil {
			return fmt.Errorf("failed to create cel strategy: %w", err)
		}
		strategies = append(strategies, c)
	}
	if cfg.PrioritySort.Enabled {
		strategies = append(strategies, filters.NewPrioritySort(cfg.PrioritySort.Priority))
	}

	for _, s := range strategies {
		if err := e.RegisterStrategy(s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) installInterceptors(cfg *config.Config) error {
	ic := cfg.Interceptors
	var built []interceptors.Interceptor

	if ic.Correlation.Enabled {
		opts := []interceptors.Option{interceptors.WithPriority(ic.Correlation.Priority)}
		if ic.Correlation.Header != "" {
			opts = append(opts, interceptors.WithProperty("header", ic.Correlation.Header))
		}
		built = append(built, interceptors.NewCorrelation(opts...))
	}

	if ic.Compression.Enabled {
		for i, algorithm := range ic.Compression.Algorithms {
			c, err := interceptors.NewCompression(
				interceptors.WithName(algorithm),
				interceptors.WithPriority(ic.Compression.Priority+i),
				interceptors.WithProperty("algorithm", algorithm),
				interceptors.WithProperty("min_size", ic.Compression.MinSize),
				interceptors.WithProperty("max_size", ic.Compression.MaxSize),
			)
			if err != nil {
				return fmt.Errorf("failed to create compression interceptor: %w", err)
			}
			built = append(built, c)
		}
	}

	if ic.Signing.Enabled {
		key, err := cfg.SigningKey()
		if err != nil {
			return err
		}
		s, err := interceptors.NewSigning(key, interceptors.WithPriority(ic.Signing.Priority))
		if err != nil {
			return fmt.Errorf("failed to create signing interceptor: %w", err)
		}
		built = append(built, s)
	}

	if ic.Authentication.Enabled {
		method := jwt.GetSigningMethod(ic.Authentication.Method)
		if method == nil {
			return fmt.Errorf("unsupported authentication method: %s", ic.Authentication.Method)
		}
		secret := []byte(ic.Authentication.Secret)
		a, err := interceptors.NewAuthentication(interceptors.AuthenticationConfig{
			Method:    method,
			SignKey:   secret,
			VerifyKey: secret,
			Issuer:    ic.Authentication.Issuer,
			Audience:  ic.Authentication.Audience,
			TTL:       ic.Authentication.TTL,
			Leeway:    ic.Authentication.Leeway,
		}, interceptors.WithPriority(ic.Authentication.Priority))
		if err != nil {
			return fmt.Errorf("failed to create authentication interceptor: %w", err)
		}
		built = append(built, a)
	}

	if ic.Transformation.Enabled {
		t, err := interceptors.NewTransformation(interceptors.WithPriority(ic.Transformation.Priority))
		if err != nil {
			return fmt.Errorf("failed to create transformation interceptor: %w", err)
		}
		built = append(built, t)
	}

	for _, b := range built {
		if err := e.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// Register adds an interceptor to the registry
func (e *Engine) Register(ic interceptors.Interceptor) error {
	return e.registry.Register(ic)
}

// Unregister removes an interceptor from the registry
func (e *Engine) Unregister(roleID interceptors.RoleID, name string) error {
	return e.registry.Unregister(roleID, name)
}

// RegisterStrategy adds a filter strategy
func (e *Engine) RegisterStrategy(s filters.Strategy) error {
	return e.strategies.Add(s)
}

// RemoveStrategy removes a filter strategy by name
func (e *Engine) RemoveStrategy(name string) error {
	return e.strategies.Remove(name)
}

// Plan computes the interceptor plan for req
func (e *Engine) Plan(ctx context.Context, req planner.Request) (*pipeline.Plan, error) {
	return e.planner.Plan(ctx, req)
}

// Execute runs plan against ex
func (e *Engine) Execute(ctx context.Context, plan *pipeline.Plan, ex *contracts.Exchange) (*pipeline.Result, error) {
	return e.executor.Execute(ctx, plan, ex)
}

// Process plans pol for role and scope and runs the plan against ex
func (e *Engine) Process(ctx context.Context, pol *policy.Policy, role policy.Role, scope policy.Scope, ex *contracts.Exchange, hints ...filters.Hint) (*pipeline.Result, error) {
	if ex == nil {
		return nil, pipeline.ErrNilExchange
	}
	plan, err := e.planner.Plan(ctx, planner.Request{
		Policy:  pol,
		Role:    role,
		Scope:   scope,
		TraceID: ex.TraceID,
		Hints:   hints,
	})
	if err != nil {
		return nil, err
	}
	return e.executor.Execute(ctx, plan, ex)
}

// Registry returns the interceptor registry
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Strategies returns the filter strategy set
func (e *Engine) Strategies() *filters.Set {
	return e.strategies
}

// Capabilities returns the capability table
func (e *Engine) Capabilities() *planner.CapabilityTable {
	return e.planner.Capabilities()
}

// Journal returns the event journal, or nil when none is configured
func (e *Engine) Journal() *tracking.Journal {
	return e.journal
}

// Metrics returns the metrics collector, or nil when metrics are disabled
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Logger returns the engine logger
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}
