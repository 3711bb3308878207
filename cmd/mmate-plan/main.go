package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	mmate "github.com/glimte/mmate-policy"
	"github.com/glimte/mmate-policy/config"
	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/filters"
	"github.com/glimte/mmate-policy/health"
	"github.com/glimte/mmate-policy/internal/telemetry"
	"github.com/glimte/mmate-policy/metrics"
	"github.com/glimte/mmate-policy/pipeline"
	"github.com/glimte/mmate-policy/planner"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/transports/rabbitmq"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// options shared by every command
type globalOptions struct {
	configPath string
	verbose    bool
}

func (g *globalOptions) engine() (*mmate.Engine, *config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.verbose {
		cfg.Logging.Level = "debug"
	}
	engine, err := mmate.NewEngineFromConfig(cfg, mmate.WithEventLogging())
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "mmate-plan",
		Short: "Plan and run policy interceptor pipelines",
		Long: `mmate-plan computes the interceptor plan a policy resolves to for a role and scope,
runs plans against message bodies, and consumes broker queues through the pipeline.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newPlanCmd(g),
		newRunCmd(g),
		newCapabilitiesCmd(g),
		newConsumeCmd(g),
	)
	return rootCmd
}

// planFlags selects a policy, role and scope
type planFlags struct {
	policyPath string
	role       string
	scope      string
	allow      []string
	deny       []string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.policyPath, "policy", "p", "", "Path to a YAML policy document")
	cmd.Flags().StringVarP(&f.role, "role", "r", "provider", "Role to plan for (requester or provider)")
	cmd.Flags().StringVarP(&f.scope, "scope", "s", "", "Planning scope")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Interceptor names to allow (requires the allow-list strategy)")
	cmd.Flags().StringSliceVar(&f.deny, "deny", nil, "Interceptor names to deny (requires the deny-list strategy)")
	_ = cmd.MarkFlagRequired("policy")
}

func (f *planFlags) request() (planner.Request, error) {
	pol, err := policy.LoadYAML(f.policyPath)
	if err != nil {
		return planner.Request{}, err
	}
	role, err := policy.ParseRole(f.role)
	if err != nil {
		return planner.Request{}, err
	}

	req := planner.Request{Policy: pol, Role: role, Scope: policy.Scope(f.scope)}
	if len(f.allow) > 0 || len(f.deny) > 0 {
		decisions := make(map[string]bool, len(f.allow)+len(f.deny))
		for _, name := range f.allow {
			decisions[name] = true
		}
		for _, name := range f.deny {
			decisions[name] = false
		}
		req.Hints = append(req.Hints, filters.AllowHint("cli", decisions))
	}
	return req, nil
}

func newPlanCmd(g *globalOptions) *cobra.Command {
	f := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the interceptor plan for a policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := g.engine()
			if err != nil {
				return err
			}
			req, err := f.request()
			if err != nil {
				return err
			}
			plan, err := engine.Plan(cmd.Context(), req)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRunCmd(g *globalOptions) *cobra.Command {
	f := &planFlags{}
	var (
		bodyPath    string
		direction   string
		messageType string
		headers     map[string]string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a policy pipeline against a message body",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := g.engine()
			if err != nil {
				return err
			}
			req, err := f.request()
			if err != nil {
				return err
			}

			var body []byte
			switch bodyPath {
			case "":
			case "-":
				body, err = io.ReadAll(cmd.InOrStdin())
			default:
				body, err = os.ReadFile(bodyPath)
			}
			if err != nil {
				return fmt.Errorf("failed to read body: %w", err)
			}

			dir := contracts.Outbound
			switch strings.ToLower(direction) {
			case "outbound", "out":
			case "inbound", "in":
				dir = contracts.Inbound
			default:
				return fmt.Errorf("unknown direction %q (must be inbound or outbound)", direction)
			}

			ex := contracts.NewExchange(messageType, dir, body)
			for k, v := range headers {
				ex.SetHeader(k, v)
			}

			result, err := engine.Process(cmd.Context(), req.Policy, req.Role, req.Scope, ex, req.Hints...)
			if result != nil {
				printResult(cmd.OutOrStdout(), result, asJSON)
			}
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&bodyPath, "body", "b", "", "Path to the message body, - for stdin")
	cmd.Flags().StringVarP(&direction, "direction", "d", "outbound", "Exchange direction (inbound or outbound)")
	cmd.Flags().StringVarP(&messageType, "type", "t", "message", "Message type")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "Exchange headers as name=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newCapabilitiesCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List the assertion type to role identifier mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := g.engine()
			if err != nil {
				return err
			}
			printCapabilities(cmd.OutOrStdout(), engine.Capabilities().All())
			return nil
		},
	}
}

func newConsumeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume a queue through the policy pipeline",
		Long:  "Consume the configured transport queue, processing every delivery with the configured policy. Processed messages are republished when transport.routing_key is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			engine, cfg, err := g.engine()
			if err != nil {
				return err
			}
			if cfg.Transport.Queue == "" || cfg.Transport.Policy == "" {
				return errors.New("transport.queue and transport.policy must be configured")
			}
			pol, err := policy.LoadYAML(cfg.Transport.Policy)
			if err != nil {
				return err
			}
			role, err := policy.ParseRole(cfg.Transport.Role)
			if err != nil {
				return err
			}

			shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing, engine.Logger())
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			conn := rabbitmq.NewConnectionManager(cfg.Transport.URL, rabbitmq.WithConnectionLogger(engine.Logger()))

			if collector := engine.Metrics(); collector != nil {
				checks := health.NewRegistry(
					health.NewRegistryChecker(engine.Registry()),
					health.NewConnectionChecker("rabbitmq", conn),
				)
				srv := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), collector, checks, engine.Logger())
				go func() {
					if err := srv.Start(ctx); err != nil {
						engine.Logger().Error("metrics server failed", "error", err)
					}
				}()
				defer func() { _ = srv.Stop(context.Background()) }()
			}

			if err := conn.Connect(ctx); err != nil {
				return err
			}
			defer conn.Close()

			ch, err := conn.Channel()
			if err != nil {
				return err
			}
			defer ch.Close()

			opts := []rabbitmq.ConsumerOption{
				rabbitmq.WithLogger(engine.Logger()),
				rabbitmq.WithPrefetch(cfg.Transport.Prefetch),
				rabbitmq.WithScope(policy.Scope(cfg.Transport.Scope)),
			}
			if cfg.Transport.RoutingKey != "" {
				opts = append(opts, rabbitmq.WithPublishTo(cfg.Transport.Exchange, cfg.Transport.RoutingKey))
			}
			if cfg.Transport.PublishRetries > 0 {
				opts = append(opts, rabbitmq.WithPublishRetry(
					rabbitmq.NewBackoff(cfg.Transport.RetryDelay, 30*time.Second, cfg.Transport.PublishRetries),
				))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Consuming %s as %s... Press Ctrl+C to stop\n", cfg.Transport.Queue, role)
			err = rabbitmq.NewConsumer(ch, engine, cfg.Transport.Queue, pol, role, opts...).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func printPlan(w io.Writer, plan *pipeline.Plan) {
	fmt.Fprintf(w, "Policy: %s  Role: %s  Scope: %q\n", plan.PolicyKey(), plan.Role(), plan.Scope())
	if plan.Len() == 0 {
		fmt.Fprintln(w, "No interceptors apply.")
		return
	}

	fmt.Fprintf(w, "%-4s %-36s %-24s %-16s %s\n", "#", "Role ID", "Name", "Kind", "Assertion")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, step := range plan.Steps() {
		desc := step.Interceptor.Descriptor()
		fmt.Fprintf(w, "%-4d %-36s %-24s %-16s %s\n",
			step.Ordinal,
			desc.RoleID,
			desc.Name,
			desc.Kind,
			step.Assertion.Type,
		)
	}
}

func printCapabilities(w io.Writer, caps []planner.Capability) {
	fmt.Fprintf(w, "%-20s %-36s %-22s %s\n", "Assertion", "Role ID", "Roles", "Repeatable")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, c := range caps {
		roles := "all"
		if len(c.Roles) > 0 {
			names := make([]string, 0, len(c.Roles))
			for _, r := range c.Roles {
				names = append(names, r.String())
			}
			roles = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%-20s %-36s %-22s %t\n", c.AssertionType, c.RoleID, roles, c.Repeatable)
	}
}

// resultView is the JSON rendering of a pipeline result
type resultView struct {
	State         string            `json:"state"`
	Steps         []stepView        `json:"steps"`
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	BodyEncoding  string            `json:"bodyEncoding"`
}

type stepView struct {
	Ordinal int    `json:"ordinal"`
	RoleID  string `json:"roleId"`
	Name    string `json:"name"`
	Error   string `json:"error,omitempty"`
}

func printResult(w io.Writer, result *pipeline.Result, asJSON bool) {
	ex := result.Exchange
	view := resultView{
		State:         result.State.String(),
		Steps:         make([]stepView, 0, len(result.Steps)),
		ID:            ex.ID,
		CorrelationID: ex.CorrelationID,
		Headers:       ex.Headers,
	}
	for _, s := range result.Steps {
		sv := stepView{Ordinal: s.Ordinal, RoleID: s.RoleID, Name: s.Name}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		view.Steps = append(view.Steps, sv)
	}
	if utf8.Valid(ex.Body) {
		view.Body, view.BodyEncoding = string(ex.Body), "text"
	} else {
		view.Body, view.BodyEncoding = fmt.Sprintf("%x", ex.Body), "hex"
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(view)
		return
	}

	fmt.Fprintf(w, "State: %s\n", view.State)
	for _, s := range view.Steps {
		status := "ok"
		if s.Error != "" {
			status = s.Error
		}
		fmt.Fprintf(w, "  [%d] %s[%s]: %s\n", s.Ordinal, s.RoleID, s.Name, status)
	}
	fmt.Fprintf(w, "ID: %s\n", view.ID)
	if view.CorrelationID != "" {
		fmt.Fprintf(w, "Correlation ID: %s\n", view.CorrelationID)
	}
	fmt.Fprintf(w, "Headers:\n")
	for _, name := range ex.HeaderNames() {
		v, _ := ex.Header(name)
		fmt.Fprintf(w, "  %s: %s\n", name, v)
	}
	fmt.Fprintf(w, "Body (%s, %d bytes): %s\n", view.BodyEncoding, len(ex.Body), view.Body)
}
