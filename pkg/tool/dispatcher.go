package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dkoval/zoya/internal/metrics"
	"github.com/dkoval/zoya/internal/tracing"
	"github.com/dkoval/zoya/pkg/sandbox"
)

// DispatcherConfig holds dispatch limits.
type DispatcherConfig struct {
	// Timeouts by risk class.
	ReadTimeout     time.Duration
	MutatingTimeout time.Duration
	// MaxOutputChars caps the serialized payload returned to the model.
	MaxOutputChars int
}

// Policy is the single authorization step consulted before any
// mutating or cross-sandbox tool body runs. A nil error authorizes.
type Policy interface {
	Authorize(scope ExecScope, decl Declaration, args map[string]any) error
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(scope ExecScope, decl Declaration, args map[string]any) error

// Authorize implements Policy.
func (f PolicyFunc) Authorize(scope ExecScope, decl Declaration, args map[string]any) error {
	return f(scope, decl, args)
}

// Dispatcher validates and executes invocations against a frozen
// registry. It never returns an error; every failure mode is a tagged
// Result so the model always receives a functionResponse.
type Dispatcher struct {
	registry *Registry
	cfg      DispatcherConfig
	policy   Policy
	metrics  *metrics.Metrics
}

// WithPolicy installs the authorization step. Read-only tools bypass
// it; mutating tools consult it before execution.
func (d *Dispatcher) WithPolicy(p Policy) *Dispatcher {
	d.policy = p
	return d
}

// NewDispatcher creates a dispatcher. Metrics may be nil.
func NewDispatcher(registry *Registry, cfg DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	if cfg.MutatingTimeout == 0 {
		cfg.MutatingTimeout = 75 * time.Second
	}
	if cfg.MaxOutputChars == 0 {
		cfg.MaxOutputChars = 6000
	}
	return &Dispatcher{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
	}
}

// Dispatch runs one invocation to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, scope ExecScope) Result {
	logger := tracing.LoggerFromContext(ctx)
	start := time.Now()

	result := d.dispatch(ctx, inv, scope)
	result.CallID = inv.CallID
	result.Name = inv.Name
	result.Duration = time.Since(start)

	if d.metrics != nil {
		d.metrics.ToolDispatchesTotal.WithLabelValues(inv.Name, string(result.Status)).Inc()
		d.metrics.ToolDispatchTime.WithLabelValues(inv.Name).Observe(result.Duration.Seconds())
	}

	evt := logger.Debug()
	if !result.OK() {
		evt = logger.Warn().Str("error", result.Error)
	}
	evt.
		Str("tool", inv.Name).
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Msg("tool dispatched")

	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, inv Invocation, scope ExecScope) Result {
	reg := d.registry.lookup(inv.Name)
	if reg == nil {
		return Result{
			Status: StatusUnknownTool,
			Error:  fmt.Sprintf("tool not found: %s", inv.Name),
		}
	}

	if err := validateArgs(reg.schema, inv.Args); err != nil {
		return Result{
			Status: StatusInvalidArguments,
			Error:  err.Error(),
		}
	}

	if d.policy != nil && reg.decl.Risk == RiskMutating {
		if err := d.policy.Authorize(scope, reg.decl, inv.Args); err != nil {
			return classifyHandlerError(err)
		}
	}

	timeout := d.cfg.ReadTimeout
	if reg.decl.Risk == RiskMutating {
		timeout = d.cfg.MutatingTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outChan := make(chan *Output, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errChan <- fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		out, err := reg.handler(timeoutCtx, inv.Args, scope)
		if err != nil {
			errChan <- err
			return
		}
		outChan <- out
	}()

	select {
	case out := <-outChan:
		if out == nil {
			return Result{
				Status: StatusToolError,
				Error:  "tool returned no output",
			}
		}
		payload, truncated := d.truncatePayload(out.Data)
		return Result{
			Status:         StatusOK,
			Payload:        payload,
			Truncated:      truncated,
			NeedsUserReply: out.NeedsUserReply,
		}

	case err := <-errChan:
		return classifyHandlerError(err)

	case <-timeoutCtx.Done():
		return Result{
			Status: StatusTimeout,
			Error:  fmt.Sprintf("tool execution timeout after %v", timeout),
		}
	}
}

func classifyHandlerError(err error) Result {
	switch {
	case errors.Is(err, sandbox.ErrConfinement):
		return Result{Status: StatusSandboxViolation, Error: err.Error()}
	case errors.Is(err, sandbox.ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return Result{Status: StatusTimeout, Error: err.Error()}
	default:
		return Result{Status: StatusToolError, Error: err.Error()}
	}
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("argument validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// truncatePayload caps the serialized size of a payload. Oversized
// payloads are replaced with a single truncated output string.
func (d *Dispatcher) truncatePayload(data map[string]any) (map[string]any, bool) {
	if data == nil {
		return map[string]any{}, false
	}
	raw, err := json.Marshal(data)
	if err != nil || len(raw) <= d.cfg.MaxOutputChars {
		return data, false
	}
	return map[string]any{
		"output": string(raw[:d.cfg.MaxOutputChars]) + "\n... [output truncated]",
	}, true
}
