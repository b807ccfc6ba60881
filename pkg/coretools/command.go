package coretools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

func runCommandDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "run_command",
		Description: "Run a shell command inside the conversation workspace and return its output.",
		Parameters: []tool.Parameter{
			{Name: "command", Type: "string", Description: "Shell command line to execute", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func runCommandHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		if deps.Runner == nil {
			return nil, fmt.Errorf("command execution is not configured")
		}
		command := strings.TrimSpace(stringArg(args, "command"))
		if command == "" {
			return nil, fmt.Errorf("command cannot be empty")
		}

		root, err := deps.Resolver.Root(ctx, sandboxScope(scope))
		if err != nil {
			return nil, err
		}

		res, err := deps.Runner.Run(ctx, sandbox.ExecRequest{
			Root:    root,
			Command: "sh",
			Args:    []string{"-c", command},
		})
		if err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"exit_code": res.ExitCode,
			"stdout":    string(res.Stdout),
			"stderr":    string(res.Stderr),
		}}, nil
	}
}

func runScriptDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "run_script",
		Description: "Run a Python script from the conversation workspace and return its output. The script's directory is the working directory.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path to a .py file relative to the workspace root", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func runScriptHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		if deps.Runner == nil {
			return nil, fmt.Errorf("command execution is not configured")
		}
		filename := stringArg(args, "filename")
		if !strings.HasSuffix(strings.ToLower(filename), ".py") {
			return nil, fmt.Errorf("only Python scripts (.py) can be executed")
		}

		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), filename)
		if err != nil {
			return nil, err
		}
		if err := deps.Resolver.CheckReadable(path); err != nil {
			return nil, err
		}

		res, err := deps.Runner.Run(ctx, sandbox.ExecRequest{
			Root:    filepath.Dir(path),
			Command: "python3",
			Args:    []string{filepath.Base(path)},
		})
		if err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"filename":  filename,
			"exit_code": res.ExitCode,
			"stdout":    string(res.Stdout),
			"stderr":    string(res.Stderr),
		}}, nil
	}
}
