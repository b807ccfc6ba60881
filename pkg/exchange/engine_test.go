package exchange

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/coretools"
	"github.com/dkoval/zoya/pkg/dialog"
	"github.com/dkoval/zoya/pkg/extract"
	"github.com/dkoval/zoya/pkg/history"
	"github.com/dkoval/zoya/pkg/profile"
	"github.com/dkoval/zoya/pkg/provider"
	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

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

type fakeMessenger struct {
	sent []string
}

func (m *fakeMessenger) Send(ctx context.Context, conversationID, text string) error {
	m.sent = append(m.sent, text)
	return nil
}

func (m *fakeMessenger) SendFile(ctx context.Context, conversationID, path string) error {
	return nil
}

// testStack is the full engine with real stores, sandbox, and built-in
// tools; only the model provider is scripted.
type testStack struct {
	engine    *Engine
	history   *history.Store
	actions   *actionlog.Log
	messenger *fakeMessenger
	envDir    string
}

func newTestStack(t *testing.T, p provider.Provider) *testStack {
	t.Helper()
	dir := t.TempDir()

	resolver, err := sandbox.NewResolver(sandbox.Config{
		BaseDir:       filepath.Join(dir, "env"),
		MaxReadBytes:  64 * 1024,
		MaxWriteBytes: 64 * 1024,
	})
	require.NoError(t, err)

	profiles, err := profile.Open(filepath.Join(dir, "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })

	hist, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	messenger := &fakeMessenger{}
	reg := tool.NewRegistry()
	require.NoError(t, coretools.RegisterAll(reg, coretools.Deps{
		Resolver:  resolver,
		Runner:    sandbox.NewRunner(5 * time.Second),
		Profiles:  profiles,
		Messenger: messenger,
	}))
	reg.Freeze()

	disp := tool.NewDispatcher(reg, tool.DispatcherConfig{
		ReadTimeout:     time.Second,
		MutatingTimeout: 2 * time.Second,
		MaxOutputChars:  6000,
	}, nil).WithPolicy(NewPolicy())

	driver := dialog.NewDriver(p, disp, dialog.Config{
		ProModel:     "pro-model",
		LiteModel:    "lite-model",
		ProMaxSteps:  10,
		LiteMaxSteps: 1,
		APIKeys:      []string{"key-a"},
		MaxAttempts:  2,
		BaseDelay:    time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil)

	actions := actionlog.New(10)
	engine := NewEngine(
		driver,
		reg,
		extract.New(coretools.SendToolName, coretools.AskToolName),
		hist,
		profiles,
		actions,
		nil,
		nil,
		Config{RecentLimit: 50},
	)
	return &testStack{
		engine:    engine,
		history:   hist,
		actions:   actions,
		messenger: messenger,
		envDir:    resolver.BaseDir(),
	}
}

func userRequest(text string) Request {
	return Request{
		ConversationID: "conv-1",
		Caller:         sandbox.Caller{ID: "user-1"},
		Mode:           dialog.ModePro,
		Text:           text,
	}
}

func modelCall(name string, args map[string]any) turn.Turn {
	return turn.New(turn.RoleModel, turn.CallPart("", name, args))
}

func TestProcessPlainTextExchange(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: turn.ModelText("hello there")},
	}}
	stack := newTestStack(t, p)

	res, err := stack.engine.Process(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, dialog.StateCompleted, res.State)
	assert.Equal(t, "hello there", res.Reply.Text)
	assert.False(t, res.Reply.Suppressed)
	assert.NotEmpty(t, res.ExchangeID)

	// User turn plus model turn, nothing else.
	n, err := stack.history.Count(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, stack.actions.Recent("conv-1"))
}

func TestProcessToolExchangeWritesFile(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("write_file", map[string]any{
			"filename": "todo.txt",
			"content":  "ship it",
		})},
		{turn: turn.ModelText("saved to todo.txt")},
	}}
	stack := newTestStack(t, p)

	res, err := stack.engine.Process(context.Background(), userRequest("save a note"))
	require.NoError(t, err)

	assert.Equal(t, dialog.StateCompleted, res.State)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "saved to todo.txt", res.Reply.Text)

	data, err := os.ReadFile(filepath.Join(stack.envDir, "conv-1", "todo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ship it", string(data))

	// user, model call, tool result, model text.
	n, err := stack.history.Count(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recent := stack.actions.Recent("conv-1")
	require.Len(t, recent, 1)
	assert.Equal(t, "write_file", recent[0].Tool)
	assert.Equal(t, "ok", recent[0].Outcome)
	assert.NotEmpty(t, recent[0].ArgsDigest)
}

func TestProcessSandboxEscapeCompletesWithError(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("write_file", map[string]any{
			"filename": "../../etc/passwd",
			"content":  "root:x:0:0",
		})},
		{turn: turn.ModelText("I can't write outside your workspace.")},
	}}
	stack := newTestStack(t, p)

	res, err := stack.engine.Process(context.Background(), userRequest("overwrite /etc/passwd"))
	require.NoError(t, err)

	assert.Equal(t, dialog.StateCompleted, res.State)
	assert.Equal(t, "I can't write outside your workspace.", res.Reply.Text)

	// The model saw a sandbox_violation result in round two.
	secondReq := p.requests[1].Turns
	last := secondReq[len(secondReq)-1]
	require.Len(t, last.Responses(), 1)
	assert.Equal(t, "sandbox_violation", last.Responses()[0].Response["status"])

	recent := stack.actions.Recent("conv-1")
	require.Len(t, recent, 1)
	assert.Equal(t, "sandbox_violation", recent[0].Outcome)
}

func TestProcessInvalidArgsSelfCorrection(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("write_file", map[string]any{"filename": "a.txt"})},
		{turn: modelCall("write_file", map[string]any{
			"filename": "a.txt",
			"content":  "fixed",
		})},
		{turn: turn.ModelText("done")},
	}}
	stack := newTestStack(t, p)

	res, err := stack.engine.Process(context.Background(), userRequest("write a.txt"))
	require.NoError(t, err)

	assert.Equal(t, dialog.StateCompleted, res.State)
	assert.Equal(t, 3, res.Rounds)

	// Round two fed the validation failure back for self-correction.
	secondReq := p.requests[1].Turns
	last := secondReq[len(secondReq)-1]
	require.Len(t, last.Responses(), 1)
	assert.Equal(t, "invalid_arguments", last.Responses()[0].Response["status"])

	data, err := os.ReadFile(filepath.Join(stack.envDir, "conv-1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", string(data))
}

func TestProcessAskUserSuspendsAndSuppresses(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("ask_user", map[string]any{"text": "overwrite or append?"})},
	}}
	stack := newTestStack(t, p)

	res, err := stack.engine.Process(context.Background(), userRequest("edit my file"))
	require.NoError(t, err)

	assert.Equal(t, dialog.StateNeedsUser, res.State)
	assert.True(t, res.Reply.Suppressed, "the question was already delivered by the tool")
	assert.Equal(t, []string{"overwrite or append?"}, stack.messenger.sent)

	// user, model call, tool result are all persisted for the resumed
	// exchange to read.
	n, err := stack.history.Count(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestProcessFatalProviderErrorPersistsUserTurn(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{err: provider.ErrUnauthorized},
	}}
	stack := newTestStack(t, p)

	_, err := stack.engine.Process(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnauthorized)

	// The user's message survives the failed exchange.
	n, err := stack.history.Count(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessGroundsNextExchange(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{turn: modelCall("write_file", map[string]any{
			"filename": "x.txt",
			"content":  "x",
		})},
		{turn: turn.ModelText("written")},
		{turn: turn.ModelText("yes, I just wrote x.txt")},
	}}
	stack := newTestStack(t, p)

	_, err := stack.engine.Process(context.Background(), userRequest("write x.txt"))
	require.NoError(t, err)
	_, err = stack.engine.Process(context.Background(), userRequest("did you do it?"))
	require.NoError(t, err)

	// The second exchange's context carries a grounding turn and the
	// stored turns of the first exchange.
	require.Len(t, p.requests, 3)
	var grounded bool
	for _, tn := range p.requests[2].Turns {
		text := tn.Text()
		if tn.Role == turn.RoleUser &&
			strings.Contains(text, "Recent tool activity") &&
			strings.Contains(text, "write_file") {
			grounded = true
		}
	}
	assert.True(t, grounded, "expected a grounding turn naming write_file")
}
