package dialog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dkoval/zoya/internal/metrics"
	"github.com/dkoval/zoya/internal/tracing"
	"github.com/dkoval/zoya/pkg/provider"
	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

// ErrProtocol marks a model response that violates the tool-calling
// protocol. Terminal: it indicates a provider or integration defect,
// not a recoverable condition.
var ErrProtocol = errors.New("model protocol violation")

// ErrNoAPIKeys is returned when the driver is configured without keys.
var ErrNoAPIKeys = errors.New("no API keys configured")

// Mode selects the model and the round budget.
type Mode string

const (
	// ModeLite is the cheap pre-filter pass with a tight budget.
	ModeLite Mode = "lite"
	// ModePro is the full deliberation pass.
	ModePro Mode = "pro"
)

// State is the terminal state of a driver run.
type State string

const (
	// StateCompleted means the model produced a final text answer.
	StateCompleted State = "completed"
	// StateNeedsUser means an ask-style tool suspended the exchange
	// until the user replies.
	StateNeedsUser State = "needs_user_response"
	// StateMaxSteps means the round budget ran out. Bounded failure,
	// everything produced so far is retained.
	StateMaxSteps State = "max_steps_exceeded"
)

// Config holds driver settings.
type Config struct {
	ProModel     string
	LiteModel    string
	ProMaxSteps  int
	LiteMaxSteps int

	APIKeys     []string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RunInput is one exchange's worth of work.
type RunInput struct {
	ConversationID string
	Mode           Mode
	Turns          []turn.Turn
	Declarations   []tool.Declaration
	Scope          tool.ExecScope
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State State
	// NewTurns are the turns created during this run, in order:
	// model turns and tool-result turns, never the input context.
	NewTurns []turn.Turn
	// FinalTurn is the last model-authored turn.
	FinalTurn turn.Turn
	// FinalResults are the tool results dispatched in the same round
	// as FinalTurn.
	FinalResults []tool.Result
	Rounds       int
}

// Driver runs the request/dispatch loop against the model. One Run is
// one exchange; all state is local to the call.
type Driver struct {
	provider   provider.Provider
	dispatcher *tool.Dispatcher
	cfg        Config
	metrics    *metrics.Metrics

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDriver creates a driver. Metrics may be nil.
func NewDriver(p provider.Provider, d *tool.Dispatcher, cfg Config, m *metrics.Metrics) *Driver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Driver{
		provider:   p,
		dispatcher: d,
		cfg:        cfg,
		metrics:    m,
		sleep:      ctxSleep,
	}
}

// Run drives the model through at most the mode's round budget.
func (d *Driver) Run(ctx context.Context, in RunInput) (Outcome, error) {
	logger := tracing.LoggerFromContext(ctx)

	model, budget := d.modelFor(in.Mode)
	if len(d.cfg.APIKeys) == 0 {
		return Outcome{}, ErrNoAPIKeys
	}

	working := make([]turn.Turn, len(in.Turns))
	copy(working, in.Turns)

	outcome := Outcome{}
	keyIndex := 0

	for round := 0; round < budget; round++ {
		if err := ctx.Err(); err != nil {
			return outcome, fmt.Errorf("exchange cancelled: %w", err)
		}

		modelTurn, err := d.generateWithRetry(ctx, model, working, in.Declarations, &keyIndex)
		if err != nil {
			return outcome, err
		}
		if err := checkProtocol(modelTurn); err != nil {
			return outcome, err
		}
		assignCallIDs(&modelTurn)

		working = append(working, modelTurn)
		outcome.NewTurns = append(outcome.NewTurns, modelTurn)
		outcome.FinalTurn = modelTurn
		outcome.FinalResults = nil
		outcome.Rounds = round + 1

		calls := modelTurn.Calls()
		if len(calls) == 0 {
			outcome.State = StateCompleted
			logger.Debug().Int("rounds", outcome.Rounds).Msg("exchange completed")
			return outcome, nil
		}

		// Dispatch in request order; all responses of the round travel
		// in a single tool turn so every call has exactly one result.
		results := make([]tool.Result, 0, len(calls))
		parts := make([]turn.Part, 0, len(calls))
		needsUser := false
		for _, call := range calls {
			res := d.dispatcher.Dispatch(ctx, tool.Invocation{
				CallID: call.ID,
				Name:   call.Name,
				Args:   call.Args,
			}, in.Scope)
			results = append(results, res)
			parts = append(parts, turn.ResponsePart(call.ID, call.Name, res.ResponseBody()))
			if res.NeedsUserReply && res.OK() {
				needsUser = true
			}
		}

		toolTurn := turn.New(turn.RoleTool, parts...)
		working = append(working, toolTurn)
		outcome.NewTurns = append(outcome.NewTurns, toolTurn)
		outcome.FinalResults = results

		if needsUser {
			outcome.State = StateNeedsUser
			logger.Debug().Int("rounds", outcome.Rounds).Msg("exchange suspended for user reply")
			return outcome, nil
		}
	}

	outcome.State = StateMaxSteps
	logger.Warn().Int("rounds", outcome.Rounds).Msg("exchange exceeded round budget")
	return outcome, nil
}

func (d *Driver) modelFor(mode Mode) (string, int) {
	if mode == ModeLite {
		return d.cfg.LiteModel, d.cfg.LiteMaxSteps
	}
	return d.cfg.ProModel, d.cfg.ProMaxSteps
}

// generateWithRetry calls the provider, retrying transient failures
// with exponential backoff and jitter. Each retry rotates to the next
// configured API key; the shared quota is a signal to slow down, not
// to fail fast.
func (d *Driver) generateWithRetry(ctx context.Context, model string, turns []turn.Turn, decls []tool.Declaration, keyIndex *int) (turn.Turn, error) {
	logger := tracing.LoggerFromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := d.backoffDelay(attempt)
			logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying provider request")
			if err := d.sleep(ctx, delay); err != nil {
				return turn.Turn{}, fmt.Errorf("exchange cancelled during backoff: %w", err)
			}
			*keyIndex = (*keyIndex + 1) % len(d.cfg.APIKeys)
			if d.metrics != nil {
				d.metrics.ProviderKeyRotations.Inc()
			}
		}

		got, err := d.provider.Generate(ctx, provider.Request{
			Model:        model,
			APIKey:       d.cfg.APIKeys[*keyIndex],
			Turns:        turns,
			Declarations: decls,
		})
		if err == nil {
			return got, nil
		}
		if !provider.IsRetryable(err) {
			return turn.Turn{}, fmt.Errorf("provider request failed: %w", err)
		}

		lastErr = err
		if d.metrics != nil {
			d.metrics.ProviderRetriesTotal.WithLabelValues(retryCause(err)).Inc()
		}
	}
	return turn.Turn{}, fmt.Errorf("provider retry budget exhausted after %d attempts: %w",
		d.cfg.MaxAttempts, lastErr)
}

// backoffDelay is base*2^(attempt-1) capped at MaxDelay, with ±50%
// jitter.
func (d *Driver) backoffDelay(attempt int) time.Duration {
	delay := d.cfg.BaseDelay << (attempt - 1)
	if delay > d.cfg.MaxDelay {
		delay = d.cfg.MaxDelay
	}
	jittered := float64(delay) * (0.5 + rand.Float64())
	return time.Duration(jittered)
}

func retryCause(err error) string {
	if errors.Is(err, provider.ErrRateLimited) {
		return "rate_limited"
	}
	return "unavailable"
}

// checkProtocol rejects structurally invalid model turns.
func checkProtocol(t turn.Turn) error {
	if len(t.Parts) == 0 {
		return fmt.Errorf("%w: empty model turn", ErrProtocol)
	}
	for _, call := range t.Calls() {
		if call.Name == "" {
			return fmt.Errorf("%w: functionCall with empty name", ErrProtocol)
		}
	}
	for range t.Responses() {
		return fmt.Errorf("%w: model echoed a functionResponse part", ErrProtocol)
	}
	return nil
}

// assignCallIDs gives every call a stable ID when the provider did not.
func assignCallIDs(t *turn.Turn) {
	for i := range t.Parts {
		if t.Parts[i].Call != nil && t.Parts[i].Call.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				id = fmt.Sprintf("call-%d", i)
			}
			t.Parts[i].Call.ID = id
		}
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
