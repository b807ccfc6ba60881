package provider

import (
	"context"
	"errors"

	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

var (
	// ErrRateLimited means the provider rejected the request for quota
	// reasons. Retryable.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnavailable means the provider failed transiently. Retryable.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrUnauthorized means the API key was rejected. Fatal.
	ErrUnauthorized = errors.New("provider unauthorized")

	// ErrBadRequest means the request itself was malformed. Fatal.
	ErrBadRequest = errors.New("provider rejected request")
)

// IsRetryable reports whether the dialog driver may retry the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// Request is one model invocation.
type Request struct {
	Model        string
	APIKey       string
	Turns        []turn.Turn
	Declarations []tool.Declaration
}

// Provider is the model boundary. Generate returns the model's next
// turn: text parts, function call parts, or both.
type Provider interface {
	Generate(ctx context.Context, req Request) (turn.Turn, error)
}
