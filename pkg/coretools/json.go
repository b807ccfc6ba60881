package coretools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

func editJSONFileDecl() tool.Declaration {
	return tool.Declaration{
		Name:        "edit_json_file",
		Description: "Set a value inside an existing JSON file in the conversation workspace, addressed by dot path like 'servers[0].port'.",
		Parameters: []tool.Parameter{
			{Name: "filename", Type: "string", Description: "Path relative to the workspace root", Required: true},
			{Name: "path", Type: "string", Description: "Dot path to the element, with [n] for list indexes", Required: true},
			{Name: "value", Type: "string", Description: "New value as a JSON-encoded string; non-JSON input is stored as a plain string", Required: true},
		},
		Risk: tool.RiskMutating,
	}
}

func editJSONFileHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, args map[string]any, scope tool.ExecScope) (*tool.Output, error) {
		steps, err := parseJSONPath(stringArg(args, "path"))
		if err != nil {
			return nil, err
		}

		path, err := deps.Resolver.Resolve(ctx, sandboxScope(scope), stringArg(args, "filename"))
		if err != nil {
			return nil, err
		}
		if err := deps.Resolver.CheckReadable(path); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("file is not valid JSON: %w", err)
		}

		var value any
		if err := json.Unmarshal([]byte(stringArg(args, "value")), &value); err != nil {
			value = stringArg(args, "value")
		}

		doc, err = setJSONValue(doc, steps, value)
		if err != nil {
			return nil, err
		}

		updated, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to serialize JSON: %w", err)
		}
		updated = append(updated, '\n')

		if err := deps.Resolver.CheckWritable(path, int64(len(updated)), sandbox.WriteMustExist); err != nil {
			return nil, err
		}
		if err := writeWorkspaceFile(path, updated); err != nil {
			return nil, err
		}
		return &tool.Output{Data: map[string]any{
			"filename": stringArg(args, "filename"),
			"path":     stringArg(args, "path"),
			"edited":   true,
		}}, nil
	}
}

// jsonStep is one segment of a dot path: a map key or a list index.
type jsonStep struct {
	key   string
	index int
}

func parseJSONPath(path string) ([]jsonStep, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("JSON path cannot be empty")
	}

	var steps []jsonStep
	for _, part := range strings.Split(path, ".") {
		key := part
		rest := ""
		if i := strings.Index(part, "["); i >= 0 {
			key, rest = part[:i], part[i:]
		}
		if key != "" {
			steps = append(steps, jsonStep{key: key, index: -1})
		} else if rest == "" {
			return nil, fmt.Errorf("invalid JSON path %q: empty segment", path)
		}
		for rest != "" {
			end := strings.Index(rest, "]")
			if !strings.HasPrefix(rest, "[") || end < 0 {
				return nil, fmt.Errorf("invalid JSON path %q: malformed index", path)
			}
			n, err := strconv.Atoi(rest[1:end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid JSON path %q: bad index %q", path, rest[1:end])
			}
			steps = append(steps, jsonStep{index: n})
			rest = rest[end+1:]
		}
	}
	return steps, nil
}

// setJSONValue replaces the element the steps address. Intermediate
// containers must already exist; only the final key may be new.
func setJSONValue(doc any, steps []jsonStep, value any) (any, error) {
	if len(steps) == 0 {
		return value, nil
	}
	step := steps[0]

	if step.index >= 0 {
		list, ok := doc.([]any)
		if !ok {
			return nil, fmt.Errorf("path expects a list, found %T", doc)
		}
		if step.index >= len(list) {
			return nil, fmt.Errorf("list index %d out of range (length %d)", step.index, len(list))
		}
		child, err := setJSONValue(list[step.index], steps[1:], value)
		if err != nil {
			return nil, err
		}
		list[step.index] = child
		return list, nil
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("path expects an object at %q, found %T", step.key, doc)
	}
	if len(steps) == 1 {
		obj[step.key] = value
		return obj, nil
	}
	child, present := obj[step.key]
	if !present {
		return nil, fmt.Errorf("path element %q not found", step.key)
	}
	child, err := setJSONValue(child, steps[1:], value)
	if err != nil {
		return nil, err
	}
	obj[step.key] = child
	return obj, nil
}
