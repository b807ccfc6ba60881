package actionlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	l := New(5)

	l.Record("42", Entry{Tool: "read_file", Outcome: "ok"})
	l.Record("42", Entry{Tool: "write_file", Outcome: "ok"})
	l.Record("43", Entry{Tool: "run_command", Outcome: "timeout"})

	got := l.Recent("42")
	require.Len(t, got, 2)
	assert.Equal(t, "read_file", got[0].Tool)
	assert.Equal(t, "write_file", got[1].Tool)
	assert.False(t, got[0].At.IsZero())

	assert.Len(t, l.Recent("43"), 1)
	assert.Empty(t, l.Recent("44"))
}

func TestRingEviction(t *testing.T) {
	l := New(3)

	for i := 0; i < 6; i++ {
		l.Record("42", Entry{Tool: fmt.Sprintf("tool_%d", i), Outcome: "ok"})
	}

	got := l.Recent("42")
	require.Len(t, got, 3)
	assert.Equal(t, "tool_3", got[0].Tool)
	assert.Equal(t, "tool_5", got[2].Tool)
}

func TestRecentReturnsCopy(t *testing.T) {
	l := New(5)
	l.Record("42", Entry{Tool: "read_file", Outcome: "ok"})

	got := l.Recent("42")
	got[0].Tool = "mutated"

	assert.Equal(t, "read_file", l.Recent("42")[0].Tool)
}

func TestPruneBefore(t *testing.T) {
	l := New(10)
	now := time.Now().UTC()

	l.Record("42", Entry{Tool: "old", Outcome: "ok", At: now.Add(-48 * time.Hour)})
	l.Record("42", Entry{Tool: "new", Outcome: "ok", At: now})
	l.Record("43", Entry{Tool: "old_only", Outcome: "ok", At: now.Add(-48 * time.Hour)})

	pruned := l.PruneBefore(now.Add(-24 * time.Hour))
	assert.Equal(t, 2, pruned)

	got := l.Recent("42")
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Tool)
	assert.Empty(t, l.Recent("43"))
}

func TestClear(t *testing.T) {
	l := New(5)
	l.Record("42", Entry{Tool: "read_file", Outcome: "ok"})
	l.Clear("42")
	assert.Empty(t, l.Recent("42"))
}

func TestDigest(t *testing.T) {
	a := Digest(map[string]any{"path": "a.txt", "mode": 1})
	b := Digest(map[string]any{"mode": 1, "path": "a.txt"})
	c := Digest(map[string]any{"path": "b.txt"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
	assert.Empty(t, Digest(nil))
}
