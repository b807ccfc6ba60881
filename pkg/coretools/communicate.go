package coretools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

func sendMessageDecl() tool.Declaration {
	return tool.Declaration{
		Name:        SendToolName,
		Description: "Send a message to the user immediately, before the exchange finishes. Use for intermediate updates or deliberately formatted output.",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Description: "Message text to deliver", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func sendMessageHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		text, err := deliver(ctx, deps, scope, args)
		if err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"delivered": true,
			"length":    len(text),
		}}, nil
	}
}

func askUserDecl() tool.Declaration {
	return tool.Declaration{
		Name:        AskToolName,
		Description: "Ask the user a question and suspend the exchange until they reply. Their answer arrives as the next message.",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Description: "Question to ask the user", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func askUserHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		if _, err := deliver(ctx, deps, scope, args); err != nil {
			return nil, err
		}
		return &tool.Output{
			Data:           map[string]any{"delivered": true, "awaiting_reply": true},
			NeedsUserReply: true,
		}, nil
	}
}

func sendFileDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "send_file",
		Description: "Deliver a file from the conversation workspace to the user as a document.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path relative to the workspace root", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func sendFileHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		if deps.Messenger == nil {
			return nil, fmt.Errorf("messaging is not configured")
		}
		filename := stringArg(args, "filename")
		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), filename)
		if err != nil {
			return nil, err
		}

		// The read byte ceiling guards model context, not the transport,
		// so only existence and file type are checked here.
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", sandbox.ErrNotFound, filename)
			}
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s", sandbox.ErrNotRegular, filename)
		}

		if err := deps.Messenger.SendFile(ctx, scope.ConversationID, path); err != nil {
			return nil, fmt.Errorf("failed to send file: %w", err)
		}
		return &tool.Output{Data: map[string]any{
			"filename": filename,
			"sent":     true,
			"size":     info.Size(),
		}}, nil
	}
}

func deliver(ctx context.Context, deps Deps, scope tool.ExecScope, args map[string]any) (string, error) {
	if deps.Messenger == nil {
		return "", fmt.Errorf("messaging is not configured")
	}
	text := strings.TrimSpace(stringArg(args, "text"))
	if text == "" {
		return "", fmt.Errorf("message text cannot be empty")
	}
	if err := deps.Messenger.Send(ctx, scope.ConversationID, text); err != nil {
		return "", fmt.Errorf("failed to deliver message: %w", err)
	}
	return text, nil
}
