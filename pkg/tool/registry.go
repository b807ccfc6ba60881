package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dkoval/zoya/pkg/sandbox"
)

// RiskClass partitions tools by their effect on the workspace.
type RiskClass int

const (
	// RiskReadOnly marks tools that never modify state.
	RiskReadOnly RiskClass = iota
	// RiskMutating marks tools that write files, run commands, or send
	// messages.
	RiskMutating
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Declaration is the model-visible description of a tool.
type Declaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Risk        RiskClass   `json:"-"`
}

// ExecScope carries the identity a dispatch runs under.
type ExecScope struct {
	ConversationID string
	Caller         sandbox.Caller
	// AltConversationID targets another conversation's sandbox.
	// Admin-only; the dispatch policy and the resolver both enforce it.
	AltConversationID string
}

// Output is what a handler produces on success. NeedsUserReply marks
// ask-style communication tools whose answer must come from the user.
type Output struct {
	Data           map[string]any
	NeedsUserReply bool
}

// Handler executes one tool invocation.
type Handler func(ctx context.Context, args map[string]any, scope ExecScope) (*Output, error)

type registered struct {
	decl    Declaration
	handler Handler
	schema  *gojsonschema.Schema
}

// Registry holds the static tool set. It is populated during startup
// and frozen before the first dispatch; registration after Freeze is
// an error.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registered
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registered),
	}
}

// Register adds a tool. Duplicate names and invalid declarations are
// rejected.
func (r *Registry) Register(decl Declaration, handler Handler) error {
	if err := validateDeclaration(decl, handler); err != nil {
		return fmt.Errorf("invalid tool declaration: %w", err)
	}

	schema, err := buildSchema(decl)
	if err != nil {
		return fmt.Errorf("failed to build schema for %s: %w", decl.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %s", decl.Name)
	}
	if _, exists := r.tools[decl.Name]; exists {
		return fmt.Errorf("tool %s is already registered", decl.Name)
	}

	r.tools[decl.Name] = &registered{
		decl:    decl,
		handler: handler,
		schema:  schema,
	}

	log.Info().Str("tool", decl.Name).Msg("tool registered")
	return nil
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	log.Info().Int("tools", len(r.tools)).Msg("tool registry frozen")
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) lookup(name string) *registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Declarations returns all declarations sorted by name.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]Declaration, 0, len(r.tools))
	for _, t := range r.tools {
		decls = append(decls, t.decl)
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func validateDeclaration(decl Declaration, handler Handler) error {
	if decl.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if decl.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range decl.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}
	return nil
}

func buildSchema(decl Declaration) (*gojsonschema.Schema, error) {
	properties := make(map[string]any)
	var required []string

	for _, param := range decl.Parameters {
		paramSchema := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}
