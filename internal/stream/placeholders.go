package stream

import (
	"strings"

	"codeloom/internal/transcript"
)

// pendingSpawn is one declared-but-unresolved placeholder from a batch spawn.
type pendingSpawn struct {
	TempID       string
	DeclaredType string
}

// Matcher reconciles eagerly-created placeholder agent blocks with their
// later-assigned real identities. Declared order is recorded at spawn time;
// resolution may arrive in any order and never moves a block.
type Matcher struct {
	pending []pendingSpawn
}

// NewMatcher returns an empty matcher. One matcher serves one turn.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Declare records N pending entries for a batch-spawn call, one per declared
// child, and returns the synthetic placeholder ids in declared order.
func (m *Matcher) Declare(callID string, declaredTypes []string) []string {
	ids := make([]string, len(declaredTypes))
	for i, typ := range declaredTypes {
		id := transcript.PlaceholderID(callID, i)
		m.pending = append(m.pending, pendingSpawn{TempID: id, DeclaredType: typ})
		ids[i] = id
	}
	return ids
}

// Resolve finds the first unresolved pending entry whose declared type
// matches the actual type (base names only) and removes it. Returns false
// when no declared entry fits; the caller then creates a brand-new block.
func (m *Matcher) Resolve(actualType string) (string, bool) {
	want := baseTypeName(actualType)
	for i, p := range m.pending {
		if baseTypeName(p.DeclaredType) == want {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return p.TempID, true
		}
	}
	return "", false
}

// PendingCount reports how many declared children are still unresolved.
func (m *Matcher) PendingCount() int {
	return len(m.pending)
}

// Reset drops all pending entries. Called at turn boundaries.
func (m *Matcher) Reset() {
	m.pending = nil
}

// baseTypeName strips a leading scope qualifier and a trailing version
// qualifier, so "myorg/code-searcher@2" and "code-searcher" compare equal.
func baseTypeName(typ string) string {
	if idx := strings.LastIndex(typ, "/"); idx >= 0 {
		typ = typ[idx+1:]
	}
	if idx := strings.Index(typ, "@"); idx >= 0 {
		typ = typ[:idx]
	}
	return typ
}
