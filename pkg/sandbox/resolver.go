package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Caller identifies the participant on whose behalf a path is resolved.
type Caller struct {
	ID    string
	Admin bool
}

// Scope names the workspace a resolution runs against. A non-empty
// AltConversationID asks for another conversation's workspace, which
// only admin callers may do.
type Scope struct {
	ConversationID    string
	Caller            Caller
	AltConversationID string
}

// Resolver maps conversation-relative paths to absolute paths under a
// per-conversation root directory. Roots are created lazily and never
// deleted during normal operation.
type Resolver struct {
	baseDir       string
	maxReadBytes  int64
	maxWriteBytes int64
}

// Config holds resolver limits.
type Config struct {
	BaseDir       string
	MaxReadBytes  int64
	MaxWriteBytes int64
}

// NewResolver creates a resolver rooted at cfg.BaseDir.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("sandbox base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Resolver{
		baseDir:       base,
		maxReadBytes:  cfg.MaxReadBytes,
		maxWriteBytes: cfg.MaxWriteBytes,
	}, nil
}

// BaseDir returns the absolute base directory.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Root returns the workspace root for a scope, creating it if needed.
// The admin policy check runs before any path work.
func (r *Resolver) Root(ctx context.Context, scope Scope) (string, error) {
	conversationID := scope.ConversationID
	if scope.AltConversationID != "" {
		if !scope.Caller.Admin {
			log.Warn().
				Str("caller_id", scope.Caller.ID).
				Str("conversation_id", scope.ConversationID).
				Str("alt_conversation_id", scope.AltConversationID).
				Msg("non-admin caller requested foreign workspace")
			return "", ErrConfinement
		}
		conversationID = scope.AltConversationID
	}
	if conversationID == "" {
		return "", fmt.Errorf("conversation ID is required")
	}
	if strings.ContainsAny(conversationID, `/\`) || conversationID == "." || conversationID == ".." {
		return "", ErrConfinement
	}

	root := filepath.Join(r.baseDir, conversationID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace root: %w", err)
	}
	return root, nil
}

// Resolve maps rel to an absolute path inside the scope's workspace.
// Resolution is purely lexical; the target need not exist. Any `..`
// segment or absolute path that would leave the root is rejected
// without touching the filesystem.
func (r *Resolver) Resolve(ctx context.Context, scope Scope, rel string) (string, error) {
	root, err := r.Root(ctx, scope)
	if err != nil {
		return "", err
	}

	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		r.logViolation(scope, rel)
		return "", ErrConfinement
	}

	abs := filepath.Join(root, cleaned)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		r.logViolation(scope, rel)
		return "", ErrConfinement
	}
	return abs, nil
}

func (r *Resolver) logViolation(scope Scope, rel string) {
	log.Warn().
		Str("caller_id", scope.Caller.ID).
		Str("conversation_id", scope.ConversationID).
		Str("rel", rel).
		Msg("path escaped workspace root")
}

// CheckReadable verifies the target is an existing regular file within
// the read byte ceiling.
func (r *Resolver) CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegular, filepath.Base(path))
	}
	if r.maxReadBytes > 0 && info.Size() > r.maxReadBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, info.Size(), r.maxReadBytes)
	}
	return nil
}

// WriteMode controls existence requirements for CheckWritable.
type WriteMode int

const (
	// WriteAny allows both creating and overwriting.
	WriteAny WriteMode = iota
	// WriteMustExist requires the target to already exist.
	WriteMustExist
	// WriteMustNotExist requires the target to be absent.
	WriteMustNotExist
)

// CheckWritable verifies a pending write of size bytes against the
// write ceiling and the existence mode.
func (r *Resolver) CheckWritable(path string, size int64, mode WriteMode) error {
	if r.maxWriteBytes > 0 && size > r.maxWriteBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, r.maxWriteBytes)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		if mode == WriteMustNotExist {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, filepath.Base(path))
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrNotRegular, filepath.Base(path))
		}
	case os.IsNotExist(err):
		if mode == WriteMustExist {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
	default:
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}
