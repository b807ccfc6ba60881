// Package coretools registers the built-in tool set: workspace file
// operations, command execution, direct messaging, and participant
// notes. Every file-touching handler goes through the sandbox
// resolver; none of them reach outside the conversation workspace.
package coretools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkoval/zoya/pkg/profile"
	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

// Messenger delivers text or a workspace file to the conversation's
// transport directly, bypassing the normal reply path.
type Messenger interface {
	Send(ctx context.Context, conversationID, text string) error
	SendFile(ctx context.Context, conversationID, path string) error
}

// Deps holds everything the built-in tools need.
type Deps struct {
	Resolver  *sandbox.Resolver
	Runner    *sandbox.Runner
	Profiles  *profile.Store
	Messenger Messenger
}

// SendToolName is the direct-send tool the result extractor watches to
// avoid double delivery.
const SendToolName = "send_message"

// AskToolName is the ask-style tool that suspends an exchange until
// the user replies.
const AskToolName = "ask_user"

// RegisterAll registers every built-in tool. The caller freezes the
// registry afterwards.
func RegisterAll(reg *tool.Registry, deps Deps) error {
	if deps.Resolver == nil {
		return fmt.Errorf("sandbox resolver is required")
	}

	registrations := []struct {
		decl    tool.Declaration
		handler tool.Handler
	}{
		{readFileDecl(), readFileHandler(deps)},
		{writeFileDecl(), writeFileHandler(deps)},
		{createFileDecl(), createFileHandler(deps)},
		{editFileDecl(), editFileHandler(deps)},
		{editJSONFileDecl(), editJSONFileHandler(deps)},
		{listFilesDecl(), listFilesHandler(deps)},
		{runCommandDecl(), runCommandHandler(deps)},
		{runScriptDecl(), runScriptHandler(deps)},
		{sendMessageDecl(), sendMessageHandler(deps)},
		{sendFileDecl(), sendFileHandler(deps)},
		{askUserDecl(), askUserHandler(deps)},
		{rememberDecl(), rememberHandler(deps)},
		{recallDecl(), recallHandler(deps)},
		{forgetDecl(), forgetHandler(deps)},
	}
	for _, r := range registrations {
		if err := reg.Register(r.decl, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func sandboxScope(scope tool.ExecScope) sandbox.Scope {
	return sandbox.Scope{
		ConversationID:    scope.ConversationID,
		Caller:            scope.Caller,
		AltConversationID: scope.AltConversationID,
	}
}

// Schema validation already guaranteed presence and type of required
// fields; these accessors guard the optional ones.

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

func boolArg(args map[string]any, name string) bool {
	v, _ := args[name].(bool)
	return v
}

// decodeValue turns a string argument into its JSON value when it
// parses as a list or object, so the model can pass composites through
// a string-typed parameter.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case []any, map[string]any:
		return v
	default:
		return raw
	}
}
