package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloom/internal/transcript"
)

func sampleEntries() []transcript.Entry {
	return []transcript.Entry{
		{
			ID:      "e1",
			Role:    transcript.RoleUser,
			Content: "list the files",
		},
		{
			ID:   "e2",
			Role: transcript.RoleAssistant,
			Blocks: []*transcript.Block{
				{ID: "b1", Kind: transcript.KindText, Content: "Sure, listing now.", TextKind: transcript.TextPlain},
			},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()

	state := &State{SessionID: "s1", TurnCount: 1, CostUSD: 0.02}
	require.NoError(t, Save(ws, state, sampleEntries()))

	loaded, entries := Load(ws, "s1")
	require.NotNil(t, loaded)
	assert.Equal(t, "s1", loaded.SessionID)
	assert.Equal(t, 1, loaded.TurnCount)
	assert.InDelta(t, 0.02, loaded.CostUSD, 1e-9)
	assert.False(t, loaded.StartedAt.IsZero())

	require.Len(t, entries, 2)
	assert.Equal(t, transcript.RoleUser, entries[0].Role)
	require.Len(t, entries[1].Blocks, 1)
	assert.Equal(t, "Sure, listing now.", entries[1].Blocks[0].Content)
}

func TestSavePreservesStartedAt(t *testing.T) {
	ws := t.TempDir()

	first := &State{SessionID: "s1"}
	require.NoError(t, Save(ws, first, nil))
	loaded, _ := Load(ws, "s1")
	require.NotNil(t, loaded)
	started := loaded.StartedAt

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, Save(ws, &State{SessionID: "s1", TurnCount: 2}, nil))

	reloaded, _ := Load(ws, "s1")
	require.NotNil(t, reloaded)
	assert.True(t, reloaded.StartedAt.Equal(started), "StartedAt must survive re-save")
	assert.True(t, reloaded.LastActiveAt.After(started) || reloaded.LastActiveAt.Equal(started))
	assert.Equal(t, 2, reloaded.TurnCount)
}

func TestLoadMissingSessionReturnsNil(t *testing.T) {
	ws := t.TempDir()
	state, entries := Load(ws, "nope")
	assert.Nil(t, state)
	assert.Nil(t, entries)
}

func TestLoadCorruptTranscriptKeepsState(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Save(ws, &State{SessionID: "s1"}, sampleEntries()))
	require.NoError(t, os.WriteFile(transcriptPath(ws, "s1"), []byte("{not json"), 0644))

	state, entries := Load(ws, "s1")
	require.NotNil(t, state)
	assert.Nil(t, entries)
}

func TestSaveRejectsMissingID(t *testing.T) {
	assert.Error(t, Save(t.TempDir(), &State{}, nil))
	assert.Error(t, Save("", &State{SessionID: "s1"}, nil))
}

func TestListOrdersByActivity(t *testing.T) {
	ws := t.TempDir()

	require.NoError(t, Save(ws, &State{SessionID: "old"}, nil))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, Save(ws, &State{SessionID: "new"}, nil))

	states, err := List(ws)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "new", states[0].SessionID)
	assert.Equal(t, "old", states[1].SessionID)

	latest, err := Latest(ws)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.SessionID)
}

func TestListSkipsUnreadableState(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Save(ws, &State{SessionID: "good"}, nil))
	require.NoError(t, os.WriteFile(filepath.Join(Dir(ws), "bad.state.json"), []byte("{"), 0644))

	states, err := List(ws)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "good", states[0].SessionID)
}

func TestListEmptyWorkspace(t *testing.T) {
	states, err := List(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, states)

	latest, err := Latest(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, latest)
}
