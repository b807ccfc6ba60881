package actionlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry records one tool execution for grounding later exchanges.
type Entry struct {
	Tool       string    `json:"tool"`
	ArgsDigest string    `json:"args_digest"`
	Outcome    string    `json:"outcome"`
	At         time.Time `json:"at"`
}

// Log keeps a bounded ring of entries per conversation. Oldest entries
// are evicted first.
type Log struct {
	mu      sync.RWMutex
	keep    int
	entries map[string][]Entry
}

// New creates a log keeping at most keep entries per conversation.
func New(keep int) *Log {
	if keep <= 0 {
		keep = 20
	}
	return &Log{
		keep:    keep,
		entries: make(map[string][]Entry),
	}
}

// Record appends an entry to a conversation's ring.
func (l *Log) Record(conversationID string, entry Entry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ring := append(l.entries[conversationID], entry)
	if len(ring) > l.keep {
		ring = ring[len(ring)-l.keep:]
	}
	l.entries[conversationID] = ring
}

// Recent returns a copy of a conversation's entries, oldest first.
func (l *Log) Recent(conversationID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ring := l.entries[conversationID]
	out := make([]Entry, len(ring))
	copy(out, ring)
	return out
}

// Clear drops all entries for a conversation.
func (l *Log) Clear(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, conversationID)
}

// PruneBefore drops entries older than cutoff in every conversation.
// Conversations left empty are removed entirely.
func (l *Log) PruneBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for id, ring := range l.entries {
		kept := ring[:0]
		for _, e := range ring {
			if e.At.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(l.entries, id)
		} else {
			l.entries[id] = kept
		}
	}
	return pruned
}

// Digest produces a stable short digest of tool arguments.
func Digest(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
