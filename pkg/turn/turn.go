package turn

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks turns authored by the human participant.
	RoleUser Role = "user"
	// RoleModel marks turns authored by the language model.
	RoleModel Role = "model"
	// RoleTool marks turns carrying tool execution results.
	RoleTool Role = "tool"
)

// Turn is one immutable unit of conversation. Parts keep their original
// order; a turn is never modified after construction.
type Turn struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Part holds exactly one of Text, Call, or Response.
type Part struct {
	Text     string            `json:"text,omitempty"`
	Call     *FunctionCall     `json:"functionCall,omitempty"`
	Response *FunctionResponse `json:"functionResponse,omitempty"`
}

// FunctionCall is a model-requested tool invocation. ID is assigned by
// the dialog driver when the provider does not supply one.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse pairs a tool result with its originating call.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// CallPart builds a function call part.
func CallPart(id, name string, args map[string]any) Part {
	return Part{Call: &FunctionCall{ID: id, Name: name, Args: args}}
}

// ResponsePart builds a function response part.
func ResponsePart(id, name string, response map[string]any) Part {
	return Part{Response: &FunctionResponse{ID: id, Name: name, Response: response}}
}

// New constructs a turn with the current timestamp.
func New(role Role, parts ...Part) Turn {
	return Turn{Role: role, Parts: parts, CreatedAt: time.Now().UTC()}
}

// UserText is shorthand for a single-text user turn.
func UserText(text string) Turn {
	return New(RoleUser, TextPart(text))
}

// ModelText is shorthand for a single-text model turn.
func ModelText(text string) Turn {
	return New(RoleModel, TextPart(text))
}

// Validate checks structural invariants: a known role and exactly one
// populated field per part.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleModel, RoleTool:
	default:
		return fmt.Errorf("invalid role %q", t.Role)
	}
	for i, p := range t.Parts {
		n := 0
		if p.Text != "" {
			n++
		}
		if p.Call != nil {
			n++
		}
		if p.Response != nil {
			n++
		}
		if n != 1 {
			return fmt.Errorf("part %d must carry exactly one of text, functionCall, functionResponse", i)
		}
		if p.Call != nil && p.Call.Name == "" {
			return fmt.Errorf("part %d: functionCall has empty name", i)
		}
		if p.Response != nil && p.Response.Name == "" {
			return fmt.Errorf("part %d: functionResponse has empty name", i)
		}
	}
	return nil
}

// Text concatenates all text parts of the turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Calls returns the function call parts of the turn in order.
func (t Turn) Calls() []*FunctionCall {
	var calls []*FunctionCall
	for _, p := range t.Parts {
		if p.Call != nil {
			calls = append(calls, p.Call)
		}
	}
	return calls
}

// Responses returns the function response parts of the turn in order.
func (t Turn) Responses() []*FunctionResponse {
	var resps []*FunctionResponse
	for _, p := range t.Parts {
		if p.Response != nil {
			resps = append(resps, p.Response)
		}
	}
	return resps
}

// HasCalls reports whether the turn requests any tool invocation.
func (t Turn) HasCalls() bool {
	for _, p := range t.Parts {
		if p.Call != nil {
			return true
		}
	}
	return false
}

// Size is a rough byte measure of the turn used for context budgeting.
func (t Turn) Size() int {
	n := 0
	for _, p := range t.Parts {
		n += len(p.Text)
		if p.Call != nil {
			n += len(p.Call.Name) + approxMapSize(p.Call.Args)
		}
		if p.Response != nil {
			n += len(p.Response.Name) + approxMapSize(p.Response.Response)
		}
	}
	return n
}

func approxMapSize(m map[string]any) int {
	n := 0
	for k, v := range m {
		n += len(k) + len(fmt.Sprintf("%v", v))
	}
	return n
}
