package transcript

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Write implements [Store].
func (m *MemoryStore) Write(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Search implements [Store].
func (m *MemoryStore) Search(_ context.Context, query string, opts SearchOpts) ([]Entry, error) {
	words := tokenize(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for _, e := range m.entries {
		if !opts.matches(e) || !containsAll(tokenize(e.Text), words) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (o SearchOpts) matches(e Entry) bool {
	switch {
	case o.SessionID != "" && e.SessionID != o.SessionID:
		return false
	case o.TranscriptsOnly && !e.IsTranscript():
		return false
	case !o.After.IsZero() && !e.At.After(o.After):
		return false
	case !o.Before.IsZero() && !e.At.Before(o.Before):
		return false
	}
	return true
}

func tokenize(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func containsAll(have, want map[string]struct{}) bool {
	for w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}
