package tool

import "time"

// Status tags the outcome variant of a dispatch. Exactly one Result is
// produced per Invocation regardless of the variant.
type Status string

const (
	// StatusOK means the handler completed.
	StatusOK Status = "ok"
	// StatusUnknownTool means the requested tool is not registered.
	StatusUnknownTool Status = "unknown_tool"
	// StatusInvalidArguments means schema validation rejected the args.
	StatusInvalidArguments Status = "invalid_arguments"
	// StatusToolError means the handler returned an error or panicked.
	StatusToolError Status = "tool_error"
	// StatusSandboxViolation means confinement rejected a path.
	StatusSandboxViolation Status = "sandbox_violation"
	// StatusTimeout means the handler exceeded its deadline.
	StatusTimeout Status = "timeout"
)

// Invocation is one model-requested tool call.
type Invocation struct {
	CallID string
	Name   string
	Args   map[string]any
}

// Result is the single outcome of one Invocation.
type Result struct {
	CallID         string
	Name           string
	Status         Status
	Payload        map[string]any
	Error          string
	Truncated      bool
	NeedsUserReply bool
	Duration       time.Duration
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// ResponseBody renders the result as the JSON-compatible body of a
// functionResponse part.
func (r Result) ResponseBody() map[string]any {
	body := map[string]any{"status": string(r.Status)}
	if r.Status == StatusOK {
		for k, v := range r.Payload {
			body[k] = v
		}
	} else if r.Error != "" {
		body["error"] = r.Error
	}
	if r.Truncated {
		body["truncated"] = true
	}
	return body
}
