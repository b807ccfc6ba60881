package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(Config{
		BaseDir:       t.TempDir(),
		MaxReadBytes:  150 * 1024,
		MaxWriteBytes: 500 * 1024,
	})
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	scope := Scope{ConversationID: "42", Caller: Caller{ID: "1001"}}

	t.Run("relative path inside workspace", func(t *testing.T) {
		got, err := r.Resolve(ctx, scope, "notes/today.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(r.BaseDir(), "42", "notes", "today.txt"), got)
	})

	t.Run("creates workspace root lazily", func(t *testing.T) {
		_, err := r.Resolve(ctx, Scope{ConversationID: "99", Caller: Caller{ID: "1001"}}, "a.txt")
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(r.BaseDir(), "99"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("target need not exist", func(t *testing.T) {
		_, err := r.Resolve(ctx, scope, "not/created/yet.txt")
		assert.NoError(t, err)
	})

	t.Run("dot segments normalized", func(t *testing.T) {
		got, err := r.Resolve(ctx, scope, "a/./b/../c.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(r.BaseDir(), "42", "a", "c.txt"), got)
	})
}

func TestResolveConfinement(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	scope := Scope{ConversationID: "42", Caller: Caller{ID: "1001"}}

	escapes := []string{
		"../43/secret.txt",
		"..",
		"../../etc/passwd",
		"a/../../43/x",
		"/etc/passwd",
	}
	for _, rel := range escapes {
		t.Run(rel, func(t *testing.T) {
			_, err := r.Resolve(ctx, scope, rel)
			assert.ErrorIs(t, err, ErrConfinement)
		})
	}

	t.Run("violation leaves filesystem untouched", func(t *testing.T) {
		_, err := r.Resolve(ctx, Scope{ConversationID: "77", Caller: Caller{ID: "1"}}, "/abs")
		require.ErrorIs(t, err, ErrConfinement)
		// Nothing outside the base dir and no stray files in it.
		entries, err := os.ReadDir(filepath.Join(r.BaseDir(), "77"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("conversation id with separators rejected", func(t *testing.T) {
		_, err := r.Root(ctx, Scope{ConversationID: "../42", Caller: Caller{ID: "1"}})
		assert.ErrorIs(t, err, ErrConfinement)
	})
}

func TestResolveAltConversation(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	t.Run("admin may target another workspace", func(t *testing.T) {
		scope := Scope{
			ConversationID:    "42",
			Caller:            Caller{ID: "1001", Admin: true},
			AltConversationID: "43",
		}
		got, err := r.Resolve(ctx, scope, "report.txt")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, filepath.Join(r.BaseDir(), "43")))
	})

	t.Run("non-admin alt scope rejected before path work", func(t *testing.T) {
		// Fresh resolver: the admin subtest above already created "43"
		// in the shared one, which would mask this check.
		r := newTestResolver(t)
		scope := Scope{
			ConversationID:    "42",
			Caller:            Caller{ID: "2002"},
			AltConversationID: "43",
		}
		_, err := r.Resolve(ctx, scope, "report.txt")
		require.ErrorIs(t, err, ErrConfinement)

		// The foreign root must not have been created.
		_, statErr := os.Stat(filepath.Join(r.BaseDir(), "43"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestCheckReadable(t *testing.T) {
	r := newTestResolver(t)
	dir := t.TempDir()

	small := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(small, []byte("hello"), 0o644))

	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 151*1024), 0o644))

	assert.NoError(t, r.CheckReadable(small))
	assert.ErrorIs(t, r.CheckReadable(big), ErrTooLarge)
	assert.ErrorIs(t, r.CheckReadable(filepath.Join(dir, "missing.txt")), ErrNotFound)
	assert.ErrorIs(t, r.CheckReadable(dir), ErrNotRegular)
}

func TestCheckWritable(t *testing.T) {
	r := newTestResolver(t)
	dir := t.TempDir()

	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))
	missing := filepath.Join(dir, "missing.txt")

	assert.NoError(t, r.CheckWritable(existing, 10, WriteAny))
	assert.NoError(t, r.CheckWritable(missing, 10, WriteAny))

	assert.NoError(t, r.CheckWritable(existing, 10, WriteMustExist))
	assert.ErrorIs(t, r.CheckWritable(missing, 10, WriteMustExist), ErrNotFound)

	assert.NoError(t, r.CheckWritable(missing, 10, WriteMustNotExist))
	assert.ErrorIs(t, r.CheckWritable(existing, 10, WriteMustNotExist), ErrAlreadyExists)

	assert.ErrorIs(t, r.CheckWritable(missing, 501*1024, WriteAny), ErrTooLarge)
}
