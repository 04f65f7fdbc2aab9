package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherDeclare(t *testing.T) {
	m := NewMatcher()
	ids := m.Declare("t1", []string{"file-picker", "code-searcher"})
	assert.Equal(t, []string{"t1-0", "t1-1"}, ids)
	assert.Equal(t, 2, m.PendingCount())
}

func TestMatcherResolveIgnoresQualifiers(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		actual   string
	}{
		{"exact", "code-searcher", "code-searcher"},
		{"actual carries scope", "code-searcher", "myorg/code-searcher"},
		{"actual carries version", "code-searcher", "code-searcher@2.1"},
		{"declared carries scope and version", "myorg/code-searcher@1", "code-searcher"},
		{"both qualified differently", "a/tool@1", "b/tool@2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher()
			m.Declare("c", []string{tt.declared})
			tempID, ok := m.Resolve(tt.actual)
			require.True(t, ok)
			assert.Equal(t, "c-0", tempID)
			assert.Zero(t, m.PendingCount())
		})
	}
}

func TestMatcherResolveOrderIndependent(t *testing.T) {
	m := NewMatcher()
	m.Declare("t1", []string{"a", "b", "c"})

	// Resolution order c, a, b still hands back the declared slots.
	id, ok := m.Resolve("c")
	require.True(t, ok)
	assert.Equal(t, "t1-2", id)

	id, ok = m.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, "t1-0", id)

	id, ok = m.Resolve("b")
	require.True(t, ok)
	assert.Equal(t, "t1-1", id)
}

func TestMatcherResolveDuplicateTypesFillInDeclaredOrder(t *testing.T) {
	m := NewMatcher()
	m.Declare("t1", []string{"worker", "worker"})

	id, _ := m.Resolve("worker")
	assert.Equal(t, "t1-0", id)
	id, _ = m.Resolve("worker")
	assert.Equal(t, "t1-1", id)
	_, ok := m.Resolve("worker")
	assert.False(t, ok)
}

func TestMatcherResolveNoMatch(t *testing.T) {
	m := NewMatcher()
	m.Declare("t1", []string{"a"})
	_, ok := m.Resolve("unrelated")
	assert.False(t, ok)
	assert.Equal(t, 1, m.PendingCount())
}

func TestBaseTypeName(t *testing.T) {
	assert.Equal(t, "x", baseTypeName("x"))
	assert.Equal(t, "x", baseTypeName("scope/x"))
	assert.Equal(t, "x", baseTypeName("x@1.0"))
	assert.Equal(t, "x", baseTypeName("deep/scope/x@beta"))
}
