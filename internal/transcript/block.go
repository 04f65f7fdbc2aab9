// Package transcript defines the recursive block tree that materializes a
// streamed agent session as a nested document, plus the pure mutators that
// apply one unit of change at a time while preserving the tree invariants:
// at most one open reasoning block per child list, unique tool call ids and
// agent ids at any instant, placeholder order preserved under async
// resolution, and append-only text content.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// BlockKind discriminates the block variants in a transcript tree.
type BlockKind string

const (
	KindText    BlockKind = "text"
	KindTool    BlockKind = "tool"
	KindAgent   BlockKind = "agent"
	KindAskUser BlockKind = "ask_user"

	// Presentational kinds. The engine appends these verbatim and never
	// re-parses them.
	KindPlan    BlockKind = "plan"
	KindDivider BlockKind = "divider"
	KindImage   BlockKind = "image"
)

// TextKind distinguishes visible output from reasoning.
type TextKind string

const (
	TextPlain     TextKind = "plain"
	TextReasoning TextKind = "reasoning"
)

// Openness is the three-state openness of a reasoning block.
type Openness string

const (
	// OpennessNone is the state of non-reasoning text blocks.
	OpennessNone Openness = ""
	// OpennessTagOpen marks a reasoning block opened by an inline <think>
	// marker; it stays open until an explicit close marker or stream end.
	OpennessTagOpen Openness = "tag_open"
	// OpennessClosed marks a reasoning block explicitly closed, either by a
	// close marker or by a subsequent non-reasoning event.
	OpennessClosed Openness = "closed"
	// OpennessNative marks a reasoning block fed by the event stream's own
	// reasoning channel; it closes implicitly on the next non-reasoning
	// event in its subtree.
	OpennessNative Openness = "native"
)

// AgentStatus is the lifecycle state of an agent block.
type AgentStatus string

const (
	StatusRunning   AgentStatus = "running"
	StatusComplete  AgentStatus = "complete"
	StatusFailed    AgentStatus = "failed"
	StatusCancelled AgentStatus = "cancelled"
)

// Question is one question carried by an ask-user block.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Block is one node of the transcript tree. Which fields are meaningful
// depends on Kind; a block's children are exclusively owned by it and there
// are no parent back-pointers.
type Block struct {
	Kind BlockKind `json:"kind"`

	// Text / plan blocks
	ID       string   `json:"id,omitempty"`
	Content  string   `json:"content,omitempty"`
	TextKind TextKind `json:"text_kind,omitempty"`
	Openness Openness `json:"openness,omitempty"`

	// Tool blocks. CallID is the stable identity, unique across the whole
	// tree at any instant. Output is nil until the matching result arrives.
	CallID   string         `json:"call_id,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   *string        `json:"output,omitempty"`

	// Agent blocks. AgentID is mutable exactly once: placeholder id to real
	// id, tracked by Resolved. BatchCallID/BatchIndex record the spawn call
	// and declared position for blocks created from a batch spawn.
	AgentID     string      `json:"agent_id,omitempty"`
	AgentType   string      `json:"agent_type,omitempty"`
	Status      AgentStatus `json:"status,omitempty"`
	ParentID    string      `json:"parent_id,omitempty"`
	BatchCallID string      `json:"batch_call_id,omitempty"`
	BatchIndex  int         `json:"batch_index,omitempty"`
	Resolved    bool        `json:"resolved,omitempty"`
	Children    []*Block    `json:"children,omitempty"`

	// Ask-user blocks
	Questions []Question `json:"questions,omitempty"`
	Answers   []string   `json:"answers,omitempty"`
	Skipped   bool       `json:"skipped,omitempty"`

	// Image blocks
	Source string `json:"source,omitempty"`
}

// Entry roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one externally-visible transcript entry holding a block tree.
type Entry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Blocks    []*Block  `json:"blocks,omitempty"`
	Content   string    `json:"content,omitempty"` // user entries carry raw text
	CreatedAt time.Time `json:"created_at"`
}

// IDSource produces identifiers for reasoning blocks and entries. It is
// injected per session so concurrent sessions in one process never collide.
type IDSource func() string

// UUIDSource returns an IDSource backed by random UUIDs.
func UUIDSource() IDSource {
	return func() string { return uuid.NewString() }
}

// IsOpenReasoning reports whether b is a reasoning text block that is still
// open (native or tag-derived).
func (b *Block) IsOpenReasoning() bool {
	return b != nil && b.Kind == KindText && b.TextKind == TextReasoning &&
		(b.Openness == OpennessNative || b.Openness == OpennessTagOpen)
}

// CloneBlocks deep-copies a block list. Snapshots handed to the rendering
// layer are cloned so later in-place mutation cannot tear a frame.
func CloneBlocks(blocks []*Block) []*Block {
	if blocks == nil {
		return nil
	}
	out := make([]*Block, len(blocks))
	for i, b := range blocks {
		cp := *b
		cp.Children = CloneBlocks(b.Children)
		if b.Output != nil {
			o := *b.Output
			cp.Output = &o
		}
		if b.Input != nil {
			in := make(map[string]any, len(b.Input))
			for k, v := range b.Input {
				in[k] = v
			}
			cp.Input = in
		}
		cp.Questions = append([]Question(nil), b.Questions...)
		cp.Answers = append([]string(nil), b.Answers...)
		out[i] = &cp
	}
	return out
}

// CloneEntries deep-copies an entry list, including every block tree.
func CloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Blocks = CloneBlocks(e.Blocks)
	}
	return out
}
