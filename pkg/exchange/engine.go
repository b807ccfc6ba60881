package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkoval/zoya/internal/metrics"
	"github.com/dkoval/zoya/internal/tracing"
	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/assemble"
	"github.com/dkoval/zoya/pkg/dialog"
	"github.com/dkoval/zoya/pkg/extract"
	"github.com/dkoval/zoya/pkg/history"
	"github.com/dkoval/zoya/pkg/profile"
	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

// PersonaSource supplies the current system persona text.
type PersonaSource interface {
	Current() string
}

// Config holds engine settings.
type Config struct {
	// RecentLimit is how many stored turns are loaded per exchange.
	RecentLimit int
	// BudgetBytes caps the assembled context; 0 disables the cap.
	BudgetBytes int
}

// Request is one inbound message to process.
type Request struct {
	ConversationID string
	Caller         sandbox.Caller
	Mode           dialog.Mode
	Text           string
	// AltConversationID targets another conversation's sandbox.
	// Admin-only; enforced by the resolver and the dispatch policy.
	AltConversationID string
}

// Result is the terminal outcome of a processed exchange.
type Result struct {
	ExchangeID string
	State      dialog.State
	Reply      extract.Reply
	Rounds     int
}

// Engine runs complete exchanges: assemble context, drive the model,
// extract the reply, persist the new turns. Exchanges within one
// conversation are serialized; distinct conversations run concurrently.
type Engine struct {
	assembler *assemble.Assembler
	driver    *dialog.Driver
	registry  *tool.Registry
	extractor *extract.Extractor
	history   *history.Store
	profiles  *profile.Store
	actions   *actionlog.Log
	persona   PersonaSource
	metrics   *metrics.Metrics
	cfg       Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires an engine. Persona and metrics may be nil.
func NewEngine(
	driver *dialog.Driver,
	registry *tool.Registry,
	extractor *extract.Extractor,
	hist *history.Store,
	profiles *profile.Store,
	actions *actionlog.Log,
	persona PersonaSource,
	m *metrics.Metrics,
	cfg Config,
) *Engine {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 50
	}
	return &Engine{
		assembler: assemble.New(),
		driver:    driver,
		registry:  registry,
		extractor: extractor,
		history:   hist,
		profiles:  profiles,
		actions:   actions,
		persona:   persona,
		metrics:   m,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Process runs one exchange to a terminal state. Partial turns are
// persisted even when the run fails, so a later exchange sees every
// call paired with its result.
func (e *Engine) Process(ctx context.Context, req Request) (Result, error) {
	lock := e.conversationLock(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	ctx = tracing.NewExchangeContext(ctx, req.ConversationID, req.Caller.ID)
	logger := tracing.LoggerFromContext(ctx)
	exchangeID := tracing.GetExchangeID(ctx)
	start := time.Now()

	stored, err := e.history.LoadRecent(ctx, req.ConversationID, e.cfg.RecentLimit)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}

	notes, err := e.profiles.RecallAll(ctx, req.Caller.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("participant notes unavailable, continuing without them")
		notes = nil
	}

	userTurn := turn.UserText(req.Text)
	personaText := ""
	if e.persona != nil {
		personaText = e.persona.Current()
	}

	turns := e.assembler.Assemble(ctx, assemble.Input{
		Persona:     personaText,
		Stored:      stored,
		Actions:     e.actions.Recent(req.ConversationID),
		Notes:       notes,
		UserTurn:    userTurn,
		BudgetBytes: e.cfg.BudgetBytes,
	})

	outcome, runErr := e.driver.Run(ctx, dialog.RunInput{
		ConversationID: req.ConversationID,
		Mode:           req.Mode,
		Turns:          turns,
		Declarations:   e.registry.Declarations(),
		Scope: tool.ExecScope{
			ConversationID:    req.ConversationID,
			Caller:            req.Caller,
			AltConversationID: req.AltConversationID,
		},
	})

	newTurns := append([]turn.Turn{userTurn}, outcome.NewTurns...)
	if err := e.history.AppendExchange(ctx, req.ConversationID, exchangeID, newTurns); err != nil {
		if runErr != nil {
			logger.Error().Err(err).Msg("failed to persist partial exchange")
			return Result{ExchangeID: exchangeID}, runErr
		}
		return Result{ExchangeID: exchangeID}, fmt.Errorf("persist exchange: %w", err)
	}
	e.recordActions(req.ConversationID, outcome.NewTurns)

	if runErr != nil {
		e.observe(req.Mode, "error", outcome.Rounds, start)
		return Result{ExchangeID: exchangeID}, runErr
	}

	reply := e.extractor.Extract(outcome.FinalTurn, outcome.FinalResults)
	e.observe(req.Mode, string(outcome.State), outcome.Rounds, start)

	logger.Info().
		Str("state", string(outcome.State)).
		Int("rounds", outcome.Rounds).
		Bool("suppressed", reply.Suppressed).
		Dur("duration", time.Since(start)).
		Msg("exchange finished")

	return Result{
		ExchangeID: exchangeID,
		State:      outcome.State,
		Reply:      reply,
		Rounds:     outcome.Rounds,
	}, nil
}

func (e *Engine) observe(mode dialog.Mode, state string, rounds int, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ExchangesTotal.WithLabelValues(string(mode), state).Inc()
	e.metrics.ExchangeDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	e.metrics.ExchangeRounds.WithLabelValues(string(mode)).Observe(float64(rounds))
}

// recordActions extracts one grounding entry per tool response from the
// new turns. Call arguments come from the model turn that requested the
// call.
func (e *Engine) recordActions(conversationID string, newTurns []turn.Turn) {
	argsByID := make(map[string]map[string]any)
	for _, t := range newTurns {
		switch t.Role {
		case turn.RoleModel:
			for _, call := range t.Calls() {
				argsByID[call.ID] = call.Args
			}
		case turn.RoleTool:
			for _, resp := range t.Responses() {
				outcome := ""
				if s, ok := resp.Response["status"].(string); ok {
					outcome = s
				}
				e.actions.Record(conversationID, actionlog.Entry{
					Tool:       resp.Name,
					ArgsDigest: actionlog.Digest(argsByID[resp.ID]),
					Outcome:    outcome,
				})
			}
		}
	}
}

func (e *Engine) conversationLock(conversationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}
