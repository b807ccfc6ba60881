package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/zoya/pkg/provider"
	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

// scriptedProvider replays a fixed sequence of responses and records
// every request it receives.
type scriptedProvider struct {
	steps    []scriptedStep
	requests []provider.Request
}

type scriptedStep struct {
	turn turn.Turn
	err  error
}

func (s *scriptedProvider) Generate(ctx context.Context, req provider.Request) (turn.Turn, error) {
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return turn.Turn{}, provider.ErrUnavailable
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.turn, step.err
}

func testRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	pathParam := []tool.Parameter{{Name: "path", Type: "string", Description: "file path", Required: true}}

	require.NoError(t, reg.Register(tool.Declaration{
		Name:        "read_file",
		Description: "read a file",
		Parameters:  pathParam,
		Risk:        tool.RiskReadOnly,
	}, func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		return &tool.Output{Data: map[string]any{"content": "file body"}}, nil
	}))

	require.NoError(t, reg.Register(tool.Declaration{
		Name:        "ask_user",
		Description: "ask the user a question",
		Parameters:  []tool.Parameter{{Name: "question", Type: "string", Description: "the question", Required: true}},
		Risk:        tool.RiskMutating,
	}, func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		return &tool.Output{Data: map[string]any{"delivered": true}, NeedsUserReply: true}, nil
	}))

	reg.Freeze()
	return reg
}

func testDriver(t *testing.T, p provider.Provider) *Driver {
	t.Helper()
	reg := testRegistry(t)
	disp := tool.NewDispatcher(reg, tool.DispatcherConfig{
		ReadTimeout:     time.Second,
		MutatingTimeout: time.Second,
		MaxOutputChars:  6000,
	}, nil)
	d := NewDriver(p, disp, Config{
		ProModel:     "pro-model",
		LiteModel:    "lite-model",
		ProMaxSteps:  10,
		LiteMaxSteps: 1,
		APIKeys:      []string{"key-a", "key-b"},
		MaxAttempts:  4,
		BaseDelay:    time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	}, nil)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func modelCall(name string, args map[string]any) turn.Turn {
	return turn.New(turn.RoleModel, turn.CallPart("", name, args))
}

func TestRunPlainTextCompletes(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: turn.ModelText("forty-two")},
	}}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("what is the answer?")},
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, out.Rounds)
	assert.Len(t, out.NewTurns, 1)
	assert.Empty(t, out.FinalResults)
	assert.Equal(t, "forty-two", out.FinalTurn.Text())
	assert.Equal(t, "pro-model", p.requests[0].Model)
}

func TestRunToolRoundThenText(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("read_file", map[string]any{"path": "notes.txt"})},
		{turn: turn.ModelText("the file says hello")},
	}}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("read notes.txt")},
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 2, out.Rounds)
	require.Len(t, out.NewTurns, 3)
	assert.Equal(t, turn.RoleModel, out.NewTurns[0].Role)
	assert.Equal(t, turn.RoleTool, out.NewTurns[1].Role)
	assert.Equal(t, turn.RoleModel, out.NewTurns[2].Role)

	// Completed terminal round carries no results, so its text is shown.
	assert.Empty(t, out.FinalResults)

	// The second request must include the tool turn.
	secondReq := p.requests[1].Turns
	last := secondReq[len(secondReq)-1]
	require.Len(t, last.Responses(), 1)
	assert.Equal(t, "read_file", last.Responses()[0].Name)
	assert.Equal(t, "ok", last.Responses()[0].Response["status"])
}

func TestRunAssignsCallIDsAndPairsResponses(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: turn.New(turn.RoleModel,
			turn.CallPart("", "read_file", map[string]any{"path": "a.txt"}),
			turn.CallPart("", "read_file", map[string]any{"path": "b.txt"}),
		)},
		{turn: turn.ModelText("done")},
	}}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("read both")},
	})
	require.NoError(t, err)

	calls := out.NewTurns[0].Calls()
	resps := out.NewTurns[1].Responses()
	require.Len(t, calls, 2)
	require.Len(t, resps, 2)
	for i := range calls {
		assert.NotEmpty(t, calls[i].ID)
		assert.Equal(t, calls[i].ID, resps[i].ID)
	}
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestRunTextAlongsideCallsKeepsLooping(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: turn.New(turn.RoleModel,
			turn.TextPart("let me check"),
			turn.CallPart("", "read_file", map[string]any{"path": "a.txt"}),
		)},
		{turn: turn.ModelText("checked: all good")},
	}}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("check a.txt")},
	})
	require.NoError(t, err)

	// Interim text is recorded but not terminal.
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "let me check", out.NewTurns[0].Text())
	assert.Equal(t, "checked: all good", out.FinalTurn.Text())
}

func TestRunNeedsUserSuspends(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("ask_user", map[string]any{"question": "which file?"})},
	}}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("delete it")},
	})
	require.NoError(t, err)

	assert.Equal(t, StateNeedsUser, out.State)
	assert.Equal(t, 1, out.Rounds)
	// The ask result is persisted so the next exchange sees it.
	require.Len(t, out.NewTurns, 2)
	require.Len(t, out.FinalResults, 1)
	assert.True(t, out.FinalResults[0].NeedsUserReply)
}

func TestRunMaxStepsBounded(t *testing.T) {
	// The model never stops asking for tools.
	steps := make([]scriptedStep, 0, 20)
	for i := 0; i < 20; i++ {
		steps = append(steps, scriptedStep{turn: modelCall("read_file", map[string]any{"path": "loop.txt"})})
	}
	p := &scriptedProvider{steps: steps}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("go")},
	})
	require.NoError(t, err)

	assert.Equal(t, StateMaxSteps, out.State)
	assert.Equal(t, 10, out.Rounds)
	// Partial progress is retained: one model and one tool turn per round.
	assert.Len(t, out.NewTurns, 20)
	// Every call got exactly one paired response.
	for i := 0; i < len(out.NewTurns); i += 2 {
		calls := out.NewTurns[i].Calls()
		resps := out.NewTurns[i+1].Responses()
		require.Len(t, resps, len(calls))
	}
}

func TestRunLiteModeBudget(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("read_file", map[string]any{"path": "a.txt"})},
		{turn: turn.ModelText("never reached")},
	}}
	d := testDriver(t, p)

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModeLite,
		Turns: []turn.Turn{turn.UserText("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, StateMaxSteps, out.State)
	assert.Equal(t, 1, out.Rounds)
	assert.Equal(t, "lite-model", p.requests[0].Model)
}

func TestRunRetriesQuotaThenSucceeds(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{err: provider.ErrRateLimited},
		{err: provider.ErrRateLimited},
		{err: provider.ErrRateLimited},
		{turn: turn.ModelText("finally")},
	}}
	d := testDriver(t, p)

	var slept []time.Duration
	d.sleep = func(ctx context.Context, delay time.Duration) error {
		slept = append(slept, delay)
		return nil
	}

	out, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "finally", out.FinalTurn.Text())
	require.Len(t, p.requests, 4)
	assert.Len(t, slept, 3)

	// Keys rotate on every retry.
	keys := make([]string, 0, 4)
	for _, req := range p.requests {
		keys = append(keys, req.APIKey)
	}
	assert.Equal(t, []string{"key-a", "key-b", "key-a", "key-b"}, keys)
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{err: provider.ErrRateLimited},
		{err: provider.ErrRateLimited},
		{err: provider.ErrRateLimited},
		{err: provider.ErrRateLimited},
	}}
	d := testDriver(t, p)

	_, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("hi")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrRateLimited)
	assert.Len(t, p.requests, 4)
}

func TestRunFatalErrorImmediate(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{err: provider.ErrUnauthorized},
	}}
	d := testDriver(t, p)

	_, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("hi")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnauthorized)
	assert.Len(t, p.requests, 1, "fatal errors must not be retried")
}

func TestRunProtocolViolation(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: turn.New(turn.RoleModel, turn.CallPart("c1", "", nil))},
	}}
	d := testDriver(t, p)

	_, err := d.Run(context.Background(), RunInput{
		Mode:  ModePro,
		Turns: []turn.Turn{turn.UserText("hi")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestRunNoAPIKeys(t *testing.T) {
	d := NewDriver(&scriptedProvider{}, nil, Config{ProMaxSteps: 10}, nil)
	_, err := d.Run(context.Background(), RunInput{Mode: ModePro})
	assert.ErrorIs(t, err, ErrNoAPIKeys)
}

func TestRunCancelledContext(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{{turn: turn.ModelText("x")}}}
	d := testDriver(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, RunInput{Mode: ModePro, Turns: []turn.Turn{turn.UserText("hi")}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayBounds(t *testing.T) {
	d := NewDriver(&scriptedProvider{}, nil, Config{
		APIKeys:     []string{"k"},
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}, nil)

	for attempt := 1; attempt < 10; attempt++ {
		delay := d.backoffDelay(attempt)
		assert.GreaterOrEqual(t, delay, 500*time.Millisecond)
		assert.LessOrEqual(t, delay, 45*time.Second)
	}
}

func TestCheckProtocol(t *testing.T) {
	assert.NoError(t, checkProtocol(turn.ModelText("hi")))
	assert.ErrorIs(t, checkProtocol(turn.Turn{Role: turn.RoleModel}), ErrProtocol)
	assert.ErrorIs(t, checkProtocol(turn.New(turn.RoleModel, turn.CallPart("id", "", nil))), ErrProtocol)
	assert.ErrorIs(t, checkProtocol(turn.New(turn.RoleModel, turn.ResponsePart("id", "x", nil))), ErrProtocol)
}
