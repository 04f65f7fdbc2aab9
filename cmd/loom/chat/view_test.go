package chat

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloom/cmd/loom/ui"
	"codeloom/internal/commit"
	"codeloom/internal/transcript"
)

// testModel builds a model with no renderer and no live collaborators, so
// markdown passes through verbatim and nothing touches the filesystem.
func testModel() *Model {
	return &Model{
		styles:    ui.NewStyles(ui.DarkTheme()),
		spinner:   spinner.New(),
		snapshots: make(chan commit.Snapshot, 1),
		width:     80,
	}
}

func strptr(s string) *string { return &s }

func TestRenderEntriesUserAndAssistant(t *testing.T) {
	m := testModel()
	m.entries = []transcript.Entry{
		{Role: transcript.RoleUser, Content: "find the bug"},
		{Role: transcript.RoleAssistant, Blocks: []*transcript.Block{
			{Kind: transcript.KindText, Content: "Looking now.", TextKind: transcript.TextPlain},
		}},
	}

	out := m.renderEntries()
	assert.Contains(t, out, "You")
	assert.Contains(t, out, "find the bug")
	assert.Contains(t, out, "loom")
	assert.Contains(t, out, "Looking now.")
}

func TestRenderReasoningOpenVsClosed(t *testing.T) {
	m := testModel()

	open := m.renderBlock(&transcript.Block{
		Kind: transcript.KindText, TextKind: transcript.TextReasoning,
		Openness: transcript.OpennessTagOpen, Content: "hmm",
	}, 0)
	assert.Contains(t, open, "thinking")

	closed := m.renderBlock(&transcript.Block{
		Kind: transcript.KindText, TextKind: transcript.TextReasoning,
		Openness: transcript.OpennessClosed, Content: "hmm",
	}, 0)
	assert.Contains(t, closed, "thought")
	assert.NotContains(t, closed, "thinking")
}

func TestRenderToolRunningVsDone(t *testing.T) {
	m := testModel()

	running := m.renderBlock(&transcript.Block{
		Kind: transcript.KindTool, CallID: "c1", ToolName: "read_file",
	}, 0)
	assert.Contains(t, running, glyphRunning)
	assert.Contains(t, running, "read_file")

	done := m.renderBlock(&transcript.Block{
		Kind: transcript.KindTool, CallID: "c1", ToolName: "read_file",
		Output: strptr("package main"),
	}, 0)
	assert.Contains(t, done, glyphToolDone)
	assert.Contains(t, done, "package main")
}

func TestRenderAgentNestsChildren(t *testing.T) {
	m := testModel()

	out := m.renderBlock(&transcript.Block{
		Kind: transcript.KindAgent, AgentID: "a1", AgentType: "code-searcher",
		Status: transcript.StatusRunning,
		Children: []*transcript.Block{
			{Kind: transcript.KindText, Content: "searching", TextKind: transcript.TextPlain},
		},
	}, 0)

	assert.Contains(t, out, glyphRunning)
	assert.Contains(t, out, "code-searcher")
	require.Contains(t, out, "searching")
	// Child content is indented one level deeper than the agent line.
	var childLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "searching") {
			childLine = line
		}
	}
	assert.True(t, strings.HasPrefix(childLine, "  "), "child line %q must be indented", childLine)
}

func TestRenderAgentStatusGlyphs(t *testing.T) {
	m := testModel()
	cases := []struct {
		status transcript.AgentStatus
		glyph  string
	}{
		{transcript.StatusRunning, glyphRunning},
		{transcript.StatusComplete, glyphComplete},
		{transcript.StatusFailed, glyphFailed},
		{transcript.StatusCancelled, glyphCancelled},
	}
	for _, tc := range cases {
		out := m.renderBlock(&transcript.Block{
			Kind: transcript.KindAgent, AgentID: "a", AgentType: "t", Status: tc.status,
		}, 0)
		assert.Contains(t, out, tc.glyph, "status %s", tc.status)
	}
}

func TestRenderAskUserAnsweredAndSkipped(t *testing.T) {
	m := testModel()

	answered := m.renderBlock(&transcript.Block{
		Kind:      transcript.KindAskUser,
		Questions: []transcript.Question{{Text: "Which file?"}},
		Answers:   []string{"main.go"},
	}, 0)
	assert.Contains(t, answered, "Which file?")
	assert.Contains(t, answered, "main.go")

	skipped := m.renderBlock(&transcript.Block{
		Kind:      transcript.KindAskUser,
		Questions: []transcript.Question{{Text: "Which file?"}},
		Skipped:   true,
	}, 0)
	assert.Contains(t, skipped, "(skipped)")
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("line\n", 20)
	out := truncateOutput(long, 12)
	assert.Equal(t, 13, len(strings.Split(out, "\n")), "12 kept lines plus the marker")
	assert.Contains(t, out, "(8 more lines)")

	short := "a\nb"
	assert.Equal(t, short, truncateOutput(short, 12))
}

func TestIndentLines(t *testing.T) {
	assert.Equal(t, "  a\n\n  b", indentLines("a\n\nb", "  "))
	assert.Equal(t, "a", indentLines("a", ""))
}

func TestSessionTitle(t *testing.T) {
	entries := []transcript.Entry{
		{Role: transcript.RoleAssistant},
		{Role: transcript.RoleUser, Content: "refactor the parser"},
	}
	assert.Equal(t, "refactor the parser", sessionTitle(entries))

	long := []transcript.Entry{{Role: transcript.RoleUser, Content: strings.Repeat("x", 100)}}
	assert.Len(t, sessionTitle(long), 60)
	assert.Empty(t, sessionTitle(nil))
}
