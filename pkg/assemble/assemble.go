package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkoval/zoya/internal/tracing"
	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/turn"
)

// Input is everything the assembler composes a model context from.
type Input struct {
	Persona  string
	Stored   []turn.Turn
	Actions  []actionlog.Entry
	Notes    map[string]any
	UserTurn turn.Turn
	// BudgetBytes caps the total assembled size; 0 disables the cap.
	BudgetBytes int
}

// Assembler builds the turn sequence sent to the model. The order is
// fixed: persona, recent stored turns, tool-activity grounding, notes,
// then the new user turn. Under budget pressure the oldest stored
// turns are dropped first, then the grounding and notes blocks; the
// persona and the user turn are never dropped.
type Assembler struct{}

// New creates an assembler.
func New() *Assembler {
	return &Assembler{}
}

// Assemble composes the context for one exchange.
func (a *Assembler) Assemble(ctx context.Context, in Input) []turn.Turn {
	logger := tracing.LoggerFromContext(ctx)

	persona := personaTurn(in.Persona)
	grounding := groundingTurn(in.Actions)
	notes := notesTurn(in.Notes)

	fixed := persona.Size() + in.UserTurn.Size()
	optional := 0
	if grounding != nil {
		optional += grounding.Size()
	}
	if notes != nil {
		optional += notes.Size()
	}

	stored := in.Stored
	dropped := 0
	if in.BudgetBytes > 0 {
		budget := in.BudgetBytes - fixed - optional
		stored, dropped = trimOldest(stored, budget)

		// Stored turns are gone and we are still over: shed the
		// optional blocks too.
		if len(stored) == 0 && fixed+optional > in.BudgetBytes {
			grounding = nil
			notes = nil
		}
	}

	out := make([]turn.Turn, 0, len(stored)+4)
	out = append(out, persona)
	out = append(out, stored...)
	if grounding != nil {
		out = append(out, *grounding)
	}
	if notes != nil {
		out = append(out, *notes)
	}
	out = append(out, in.UserTurn)

	if dropped > 0 {
		logger.Debug().
			Int("dropped_turns", dropped).
			Int("kept_turns", len(stored)).
			Msg("stored history trimmed to fit context budget")
	}
	return out
}

// trimOldest drops turns from the front until the remainder fits.
func trimOldest(turns []turn.Turn, budget int) ([]turn.Turn, int) {
	total := 0
	for _, t := range turns {
		total += t.Size()
	}
	dropped := 0
	for len(turns) > 0 && total > budget {
		total -= turns[0].Size()
		turns = turns[1:]
		dropped++
	}
	return turns, dropped
}

func personaTurn(persona string) turn.Turn {
	if persona == "" {
		persona = "You are a helpful assistant."
	}
	return turn.UserText(persona)
}

func groundingTurn(actions []actionlog.Entry) *turn.Turn {
	if len(actions) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("Recent tool activity in this conversation:\n")
	for _, e := range actions {
		fmt.Fprintf(&b, "- %s at %s: %s\n", e.Tool, e.At.Format("2006-01-02 15:04:05"), e.Outcome)
	}
	t := turn.UserText(b.String())
	return &t
}

func notesTurn(notes map[string]any) *turn.Turn {
	if len(notes) == 0 {
		return nil
	}
	raw, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return nil
	}
	t := turn.UserText("Known facts about this participant:\n" + string(raw))
	return &t
}
