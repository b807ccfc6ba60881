package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

func readFileDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "read_file",
		Description: "Read a text file from the conversation workspace.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path relative to the workspace root", Required: true},
		},
		Risk: tool.RiskReadOnly,
	}
}

func readFileHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), stringArg(args, "filename"))
		if err != nil {
			return nil, err
		}
		if err := deps.Resolver.CheckReadable(path); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return &tool.Output{Data: map[string]any{
			"filename": stringArg(args, "filename"),
			"content":  string(data),
		}}, nil
	}
}

func writeFileDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "write_file",
		Description: "Write content to a file in the conversation workspace, creating or overwriting it.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path relative to the workspace root", Required: true},
			{Name: "content", Type: "string", Description: "Full content to write", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func writeFileHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		content := stringArg(args, "content")
		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), stringArg(args, "filename"))
		if err != nil {
			return nil, err
		}
		if err := deps.Resolver.CheckWritable(path, int64(len(content)), sandbox.WriteAny); err != nil {
			return nil, err
		}
		if err := writeWorkspaceFile(path, []byte(content)); err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"filename":      stringArg(args, "filename"),
			"bytes_written": len(content),
		}}, nil
	}
}

func createFileDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "create_file",
		Description: "Create an empty file in the conversation workspace. Fails if the file already exists.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path relative to the workspace root", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func createFileHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), stringArg(args, "filename"))
		if err != nil {
			return nil, err
		}
		if err := deps.Resolver.CheckWritable(path, 0, sandbox.WriteMustNotExist); err != nil {
			return nil, err
		}
		if err := writeWorkspaceFile(path, nil); err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"filename": stringArg(args, "filename"),
			"created":  true,
		}}, nil
	}
}

func editFileDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "edit_file",
		Description: "Replace every occurrence of a text fragment in an existing workspace file.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path relative to the workspace root", Required: true},
			{Name: "find", Type: "string", Description: "Exact text to find", Required: true},
			{Name: "replace_with", Type: "string", Description: "Replacement text", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func editFileHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		find := stringArg(args, "find")
		if find == "" {
			return nil, fmt.Errorf("find text cannot be empty")
		}

		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), stringArg(args, "filename"))
		if err != nil {
			return nil, err
		}
		if err := deps.Resolver.CheckReadable(path); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}

		content := string(data)
		count := strings.Count(content, find)
		if count == 0 {
			return nil, fmt.Errorf("text to find is not present in %s", stringArg(args, "filename"))
		}
		replaced := strings.ReplaceAll(content, find, stringArg(args, "replace_with"))

		if err := deps.Resolver.CheckWritable(path, int64(len(replaced)), sandbox.WriteMustExist); err != nil {
			return nil, err
		}
		if err := writeWorkspaceFile(path, []byte(replaced)); err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"filename":     stringArg(args, "filename"),
			"replacements": count,
		}}, nil
	}
}

func listFilesDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "list_files",
		Description: "List files and directories in the conversation workspace.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Directory relative to the workspace root; defaults to the root", Required: false},
		},
		Risk: tool.RiskReadOnly,
	}
}

func listFilesHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		rel := stringArg(args, "path")
		if rel == "" {
			rel = "."
		}
		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), rel)
		if err != nil {
			return nil, err
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", sandbox.ErrNotFound, rel)
			}
			return nil, fmt.Errorf("failed to list directory: %w", err)
		}

		listing := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			item := map[string]any{
				"name": entry.Name(),
				"dir":  entry.IsDir(),
			}
			if info, err := entry.Info(); err == nil && !entry.IsDir() {
				item["size"] = info.Size()
			}
			listing = append(listing, item)
		}
		return &tool.Output{Data: map[string]any{
			"path":    rel,
			"entries": listing,
		}}, nil
	}
}

// writeWorkspaceFile creates parent directories inside the workspace
// as needed. The path has already passed confinement.
func writeWorkspaceFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
