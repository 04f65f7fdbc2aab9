package transcript

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeloom/internal/tagparse"
)

// sequentialIDs returns a deterministic IDSource for tests.
func sequentialIDs() IDSource {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestAppendTextCoalescesPlainFragments(t *testing.T) {
	ids := sequentialIDs()

	var blocks []*Block
	blocks = AppendText(blocks, "Hello", TextPlain, ids)
	blocks = AppendText(blocks, " World", TextPlain, ids)

	require.Len(t, blocks, 1)
	assert.Equal(t, "Hello World", blocks[0].Content)

	// Identical to appending the whole string once.
	whole := AppendText(nil, "Hello World", TextPlain, sequentialIDs())
	if diff := cmp.Diff(whole, blocks); diff != "" {
		t.Errorf("coalesced tree differs from single append (-want +got):\n%s", diff)
	}
}

func TestAppendTextOpensAndClosesNativeReasoning(t *testing.T) {
	ids := sequentialIDs()

	var blocks []*Block
	blocks = AppendText(blocks, "thinking...", TextReasoning, ids)
	require.Len(t, blocks, 1)
	assert.Equal(t, OpennessNative, blocks[0].Openness)

	blocks = AppendText(blocks, " more", TextReasoning, ids)
	require.Len(t, blocks, 1)
	assert.Equal(t, "thinking... more", blocks[0].Content)

	// Plain text closes the native reasoning block and starts a new block.
	blocks = AppendText(blocks, "answer", TextPlain, ids)
	require.Len(t, blocks, 2)
	assert.Equal(t, OpennessClosed, blocks[0].Openness)
	assert.Equal(t, TextPlain, blocks[1].TextKind)
}

func TestAppendTextEmptyFragmentIsNoop(t *testing.T) {
	blocks := AppendText(nil, "", TextPlain, sequentialIDs())
	assert.Empty(t, blocks)
}

func TestAppendSegments(t *testing.T) {
	ids := sequentialIDs()

	segs, st := tagparse.Split(tagparse.State{}, "<think>abc</think>xyz")
	require.Empty(t, st.Pending)

	blocks := AppendSegments(nil, segs, ids)
	require.Len(t, blocks, 2)
	assert.Equal(t, TextReasoning, blocks[0].TextKind)
	assert.Equal(t, "abc", blocks[0].Content)
	assert.Equal(t, OpennessClosed, blocks[0].Openness)
	assert.Equal(t, TextPlain, blocks[1].TextKind)
	assert.Equal(t, "xyz", blocks[1].Content)
}

func TestAppendSegmentsBareCloseClosesNativeBlock(t *testing.T) {
	ids := sequentialIDs()

	blocks := AppendText(nil, "native reasoning", TextReasoning, ids)
	segs, _ := tagparse.Split(tagparse.State{}, "</think>")
	blocks = AppendSegments(blocks, segs, ids)

	require.Len(t, blocks, 1)
	assert.Equal(t, OpennessClosed, blocks[0].Openness)
}

func TestAppendToolClosesOpenReasoning(t *testing.T) {
	ids := sequentialIDs()

	blocks := AppendText(nil, "pondering", TextReasoning, ids)
	blocks = AppendTool(blocks, &Block{Kind: KindTool, CallID: "t1", ToolName: "read_file"})

	require.Len(t, blocks, 2)
	assert.Equal(t, OpennessClosed, blocks[0].Openness)
	assert.Equal(t, "t1", blocks[1].CallID)
}

func TestAppendToolDuplicateCallIDIsNoop(t *testing.T) {
	blocks := AppendTool(nil, &Block{Kind: KindTool, CallID: "t1"})
	blocks = AppendTool(blocks, &Block{Kind: KindTool, CallID: "t1"})
	assert.Len(t, blocks, 1)
}

func TestAttachOutput(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		payload  any
		want     string
	}{
		{
			name:     "terminal tool concatenates stdout and stderr",
			toolName: TerminalToolName,
			payload:  map[string]any{"stdout": "out line", "stderr": "err line"},
			want:     "out line\nerr line",
		},
		{
			name:     "string payload passes through",
			toolName: "read_file",
			payload:  "file contents",
			want:     "file contents",
		},
		{
			name:     "structured payload renders as JSON",
			toolName: "search",
			payload:  map[string]any{"matches": 3},
			want:     "{\n  \"matches\": 3\n}",
		},
		{
			name:     "nil payload renders empty",
			toolName: "noop",
			payload:  nil,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := []*Block{{Kind: KindTool, CallID: "c", ToolName: tt.toolName}}
			require.True(t, AttachOutput(blocks, "c", tt.payload))
			require.NotNil(t, blocks[0].Output)
			assert.Equal(t, tt.want, *blocks[0].Output)
		})
	}
}

func TestAttachOutputNoMatchIsNoop(t *testing.T) {
	blocks := []*Block{{Kind: KindTool, CallID: "other"}}
	assert.False(t, AttachOutput(blocks, "missing", "x"))
	assert.Nil(t, blocks[0].Output)
}

func TestAttachOutputFindsNestedTool(t *testing.T) {
	blocks := []*Block{{
		Kind: KindAgent, AgentID: "a1", Status: StatusRunning,
		Children: []*Block{{
			Kind: KindAgent, AgentID: "a2", Status: StatusRunning,
			Children: []*Block{{Kind: KindTool, CallID: "deep", ToolName: "grep"}},
		}},
	}}
	require.True(t, AttachOutput(blocks, "deep", "found"))
	assert.Equal(t, "found", *blocks[0].Children[0].Children[0].Output)
}

func TestTransformAskUser(t *testing.T) {
	input := map[string]any{
		"questions": []any{
			map[string]any{"text": "Proceed?", "options": []any{"yes", "no"}},
			"Anything else?",
		},
	}
	blocks := []*Block{{Kind: KindTool, CallID: "q1", ToolName: AskUserToolName, Input: input}}

	ok := TransformAskUser(blocks, "q1", AskUserResult{Answers: []string{"yes", "nope"}, Usable: true})
	require.True(t, ok)

	require.Equal(t, KindAskUser, blocks[0].Kind)
	require.Len(t, blocks[0].Questions, 2)
	assert.Equal(t, "Proceed?", blocks[0].Questions[0].Text)
	assert.Equal(t, []string{"yes", "no"}, blocks[0].Questions[0].Options)
	assert.Equal(t, []string{"yes", "nope"}, blocks[0].Answers)
}

func TestTransformAskUserFallbacks(t *testing.T) {
	t.Run("wrong tool name leaves block untouched", func(t *testing.T) {
		blocks := []*Block{{Kind: KindTool, CallID: "q1", ToolName: "read_file"}}
		assert.False(t, TransformAskUser(blocks, "q1", AskUserResult{Usable: true}))
		assert.Equal(t, KindTool, blocks[0].Kind)
	})

	t.Run("unusable result leaves block untouched", func(t *testing.T) {
		blocks := []*Block{{Kind: KindTool, CallID: "q1", ToolName: AskUserToolName}}
		assert.False(t, TransformAskUser(blocks, "q1", AskUserResult{}))
		assert.Equal(t, KindTool, blocks[0].Kind)
	})

	t.Run("missing call id is a no-op", func(t *testing.T) {
		assert.False(t, TransformAskUser(nil, "q1", AskUserResult{Usable: true}))
	})
}

func TestCompleteAgentClosesOwnReasoning(t *testing.T) {
	blocks := []*Block{{
		Kind: KindAgent, AgentID: "a1", Status: StatusRunning,
		Children: []*Block{
			{Kind: KindText, TextKind: TextReasoning, Openness: OpennessNative, Content: "hm"},
		},
	}}

	require.True(t, CompleteAgent(blocks, "a1", StatusComplete))
	assert.Equal(t, StatusComplete, blocks[0].Status)
	assert.Equal(t, OpennessClosed, blocks[0].Children[0].Openness)

	assert.False(t, CompleteAgent(blocks, "missing", StatusComplete))
}

func TestCancelAllRunning(t *testing.T) {
	// running/complete/failed agents at several depths, with open reasoning
	// scattered through the affected subtrees.
	blocks := []*Block{
		{Kind: KindText, TextKind: TextReasoning, Openness: OpennessNative, Content: "root"},
		{Kind: KindAgent, AgentID: "a", Status: StatusRunning, Children: []*Block{
			{Kind: KindText, TextKind: TextReasoning, Openness: OpennessTagOpen, Content: "in a"},
			{Kind: KindAgent, AgentID: "a.1", Status: StatusComplete},
			{Kind: KindAgent, AgentID: "a.2", Status: StatusRunning, Children: []*Block{
				{Kind: KindText, TextKind: TextReasoning, Openness: OpennessNative, Content: "deep"},
			}},
		}},
		{Kind: KindAgent, AgentID: "b", Status: StatusFailed},
	}

	CancelAllRunning(blocks)

	assert.Equal(t, StatusCancelled, blocks[1].Status)
	assert.Equal(t, StatusCancelled, blocks[1].Children[2].Status)
	// Non-running statuses are untouched.
	assert.Equal(t, StatusComplete, blocks[1].Children[1].Status)
	assert.Equal(t, StatusFailed, blocks[2].Status)
	// No open reasoning block survives anywhere.
	assert.Equal(t, OpennessClosed, blocks[0].Openness)
	assert.Equal(t, OpennessClosed, blocks[1].Children[0].Openness)
	assert.Equal(t, OpennessClosed, blocks[1].Children[2].Children[0].Openness)
}

func TestInsertAndResolvePlaceholders(t *testing.T) {
	blocks := InsertPlaceholders(nil, "t1", []string{"file-picker", "code-searcher"})
	require.Len(t, blocks, 2)
	assert.Equal(t, "t1-0", blocks[0].AgentID)
	assert.Equal(t, "t1-1", blocks[1].AgentID)
	assert.Equal(t, StatusRunning, blocks[0].Status)

	require.True(t, ResolvePlaceholderID(blocks, "t1-1", "real-2"))
	assert.Equal(t, "real-2", blocks[1].AgentID)
	assert.True(t, blocks[1].Resolved)
	// Position unchanged: declared order is final visual order.
	assert.Equal(t, "t1-0", blocks[0].AgentID)

	// Identity is mutable exactly once.
	assert.False(t, ResolvePlaceholderID(blocks, "real-2", "real-3"))
	assert.Equal(t, "real-2", blocks[1].AgentID)
}

func TestWithTarget(t *testing.T) {
	blocks := []*Block{{Kind: KindAgent, AgentID: "a1", Status: StatusRunning}}

	out, ok := WithTarget(blocks, "a1", func(children []*Block) []*Block {
		return AppendText(children, "hi", TextPlain, sequentialIDs())
	})
	require.True(t, ok)
	require.Len(t, out[0].Children, 1)

	_, ok = WithTarget(blocks, "ghost", func(children []*Block) []*Block { return children })
	assert.False(t, ok)
}

func TestBatchChildrenOrderedByDeclaredIndex(t *testing.T) {
	blocks := InsertPlaceholders(nil, "t1", []string{"a", "b", "c"})
	// Resolve out of order; collection order must stay declared order.
	ResolvePlaceholderID(blocks, "t1-2", "r2")
	ResolvePlaceholderID(blocks, "t1-0", "r0")

	children := BatchChildren(blocks, "t1")
	require.Len(t, children, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{children[0].BatchIndex, children[1].BatchIndex, children[2].BatchIndex})
	assert.Equal(t, "r0", children[0].AgentID)
	assert.Equal(t, "t1-1", children[1].AgentID)
	assert.Equal(t, "r2", children[2].AgentID)
}

func TestUpdateLastBlocks(t *testing.T) {
	entries := []Entry{
		NewUserEntry("e1", "hi"),
		NewAssistantEntry("e2"),
	}

	entries = UpdateLastBlocks(entries, func(blocks []*Block) []*Block {
		return AppendText(blocks, "hello", TextPlain, sequentialIDs())
	})
	require.Len(t, entries[1].Blocks, 1)

	// No assistant entry: total no-op.
	only := []Entry{NewUserEntry("e1", "hi")}
	only = UpdateLastBlocks(only, func(blocks []*Block) []*Block {
		return AppendText(blocks, "x", TextPlain, sequentialIDs())
	})
	assert.Empty(t, only[0].Blocks)
}

func TestCloneBlocksIsDeep(t *testing.T) {
	out := "done"
	blocks := []*Block{{
		Kind: KindAgent, AgentID: "a", Status: StatusRunning,
		Children: []*Block{{Kind: KindTool, CallID: "t", Output: &out, Input: map[string]any{"k": "v"}}},
	}}

	clone := CloneBlocks(blocks)
	clone[0].Status = StatusComplete
	*clone[0].Children[0].Output = "changed"
	clone[0].Children[0].Input["k"] = "w"

	assert.Equal(t, StatusRunning, blocks[0].Status)
	assert.Equal(t, "done", *blocks[0].Children[0].Output)
	assert.Equal(t, "v", blocks[0].Children[0].Input["k"])
}
