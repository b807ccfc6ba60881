package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for the trace ID.
	TraceIDKey ContextKey = "trace_id"
	// ExchangeIDKey is the context key for the exchange ID.
	ExchangeIDKey ContextKey = "exchange_id"
	// ConversationIDKey is the context key for the conversation ID.
	ConversationIDKey ContextKey = "conversation_id"
	// CallerIDKey is the context key for the calling participant ID.
	CallerIDKey ContextKey = "caller_id"
)

// TraceContext holds the correlation identifiers of one exchange.
type TraceContext struct {
	TraceID        string
	ExchangeID     string
	ConversationID string
	CallerID       string
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// NewExchangeID generates a new exchange ID.
func NewExchangeID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithExchangeID adds an exchange ID to the context.
func WithExchangeID(ctx context.Context, exchangeID string) context.Context {
	return context.WithValue(ctx, ExchangeIDKey, exchangeID)
}

// WithConversationID adds a conversation ID to the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithCallerID adds a caller ID to the context.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, CallerIDKey, callerID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetExchangeID retrieves the exchange ID from the context.
func GetExchangeID(ctx context.Context) string {
	if v, ok := ctx.Value(ExchangeIDKey).(string); ok {
		return v
	}
	return ""
}

// GetConversationID retrieves the conversation ID from the context.
func GetConversationID(ctx context.Context) string {
	if v, ok := ctx.Value(ConversationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetCallerID retrieves the caller ID from the context.
func GetCallerID(ctx context.Context) string {
	if v, ok := ctx.Value(CallerIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all correlation identifiers from the context.
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:        GetTraceID(ctx),
		ExchangeID:     GetExchangeID(ctx),
		ConversationID: GetConversationID(ctx),
		CallerID:       GetCallerID(ctx),
	}
}

// NewContext attaches all non-empty identifiers of tc to the context.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.ExchangeID != "" {
		ctx = WithExchangeID(ctx, tc.ExchangeID)
	}
	if tc.ConversationID != "" {
		ctx = WithConversationID(ctx, tc.ConversationID)
	}
	if tc.CallerID != "" {
		ctx = WithCallerID(ctx, tc.CallerID)
	}
	return ctx
}

// NewExchangeContext creates a context for one exchange with fresh
// trace and exchange IDs.
func NewExchangeContext(ctx context.Context, conversationID, callerID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithExchangeID(ctx, NewExchangeID())
	ctx = WithConversationID(ctx, conversationID)
	if callerID != "" {
		ctx = WithCallerID(ctx, callerID)
	}
	return ctx
}

// LoggerFromContext returns the global logger stamped with every
// correlation identifier present in the context.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	lc := log.Logger.With()
	if v := GetTraceID(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := GetExchangeID(ctx); v != "" {
		lc = lc.Str("exchange_id", v)
	}
	if v := GetConversationID(ctx); v != "" {
		lc = lc.Str("conversation_id", v)
	}
	if v := GetCallerID(ctx); v != "" {
		lc = lc.Str("caller_id", v)
	}
	return lc.Logger()
}
