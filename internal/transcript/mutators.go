package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codeloom/internal/tagparse"
)

// Tool names with engine-level meaning on the wire.
const (
	// AskUserToolName is the user-question tool; its block is replaced in
	// place by an ask-user block once the result is known.
	AskUserToolName = "ask_user"
	// TerminalToolName output is formatted as concatenated stdout/stderr
	// rather than a generic structured value.
	TerminalToolName = "run_terminal_cmd"
)

// =============================================================================
// TEXT MUTATORS
// =============================================================================

// closeReasoning sets every open reasoning block in one child list to the
// explicit closed state. The singleton-open-reasoning invariant means at most
// one block changes, but sweeping the list keeps the operation total even on
// a tree that somehow violated it.
func closeReasoning(blocks []*Block) {
	for _, b := range blocks {
		if b.IsOpenReasoning() {
			b.Openness = OpennessClosed
		}
	}
}

// CloseOpenReasoning closes any open reasoning block in the given child list.
func CloseOpenReasoning(blocks []*Block) {
	closeReasoning(blocks)
}

// AppendText applies one streamed fragment of the given kind to a child list.
//
// Reasoning fragments append to the currently open reasoning block, opening a
// new native one when none is open. Plain fragments first close an open
// native reasoning block, then coalesce into a trailing plain block when one
// exists, so high-frequency delivery never fragments the tree.
func AppendText(blocks []*Block, fragment string, kind TextKind, ids IDSource) []*Block {
	if fragment == "" {
		return blocks
	}

	last := lastBlock(blocks)

	if kind == TextReasoning {
		if last.IsOpenReasoning() {
			last.Content += fragment
			return blocks
		}
		return append(blocks, &Block{
			Kind:     KindText,
			ID:       ids(),
			TextKind: TextReasoning,
			Openness: OpennessNative,
			Content:  fragment,
		})
	}

	// Plain text ends a native reasoning block.
	if last.IsOpenReasoning() && last.Openness == OpennessNative {
		last.Openness = OpennessClosed
		last = nil
	}
	if last != nil && last.Kind == KindText && last.TextKind == TextPlain {
		last.Content += fragment
		return blocks
	}
	return append(blocks, &Block{
		Kind:     KindText,
		ID:       ids(),
		TextKind: TextPlain,
		Content:  fragment,
	})
}

// AppendSegments applies tag-parser output to a child list. Reasoning
// segments open tag-derived blocks; Close segments set the explicit closed
// state on whatever reasoning block is currently open, including a bare close
// with no content.
func AppendSegments(blocks []*Block, segs []tagparse.Segment, ids IDSource) []*Block {
	for _, seg := range segs {
		switch seg.Kind {
		case tagparse.KindReasoning:
			if seg.Content != "" {
				last := lastBlock(blocks)
				if last.IsOpenReasoning() {
					last.Content += seg.Content
				} else {
					blocks = append(blocks, &Block{
						Kind:     KindText,
						ID:       ids(),
						TextKind: TextReasoning,
						Openness: OpennessTagOpen,
						Content:  seg.Content,
					})
				}
			}
			if seg.Close {
				closeReasoning(blocks)
			}
		default:
			blocks = AppendText(blocks, seg.Content, TextPlain, ids)
		}
	}
	return blocks
}

// =============================================================================
// TOOL MUTATORS
// =============================================================================

// AppendTool appends a tool block to a child list. Tool calls always end
// reasoning, so any open reasoning block is closed first, unconditionally.
// A duplicate call id anywhere in the list is a no-op (identity uniqueness).
func AppendTool(blocks []*Block, tool *Block) []*Block {
	closeReasoning(blocks)
	if FindTool(blocks, tool.CallID) != nil {
		return blocks
	}
	return append(blocks, tool)
}

// AppendBlock appends a non-text block verbatim, closing open reasoning
// first: any non-reasoning event in a subtree ends a native reasoning block.
func AppendBlock(blocks []*Block, b *Block) []*Block {
	closeReasoning(blocks)
	return append(blocks, b)
}

// AttachOutput locates the tool block with the given call id anywhere in the
// tree and sets its formatted output. No match is a silent no-op reported to
// the caller via the return value.
func AttachOutput(blocks []*Block, callID string, payload any) bool {
	tool := FindTool(blocks, callID)
	if tool == nil {
		return false
	}
	out := FormatToolOutput(tool.ToolName, payload)
	tool.Output = &out
	return true
}

// FormatToolOutput renders a tool result payload for display. Terminal
// commands get stdout and stderr concatenated; everything else gets a generic
// structured-value rendering.
func FormatToolOutput(toolName string, payload any) string {
	if toolName == TerminalToolName {
		if m, ok := asStringMap(payload); ok {
			var parts []string
			if s, _ := m["stdout"].(string); s != "" {
				parts = append(parts, s)
			}
			if s, _ := m["stderr"].(string); s != "" {
				parts = append(parts, s)
			}
			return strings.Join(parts, "\n")
		}
	}
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return string(v)
		}
		return FormatToolOutput(toolName, decoded)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// AskUserResult is the decoded result of the user-question tool.
type AskUserResult struct {
	Answers []string
	Skipped bool
	// Usable is false when the payload carried no answer/skip data; the tool
	// block is then left untouched.
	Usable bool
}

// TransformAskUser replaces the tool block with the given call id by an
// ask-user block in place, carrying the original questions plus the answers
// or skip flag. The transform only fires for the user-question tool with a
// usable result; every other case leaves the tree unchanged, so re-applying
// the same result is safe.
func TransformAskUser(blocks []*Block, callID string, res AskUserResult) bool {
	for _, list := range allLists(blocks) {
		for i, b := range list {
			if b.Kind != KindTool || b.CallID != callID {
				continue
			}
			if b.ToolName != AskUserToolName || !res.Usable {
				return false
			}
			list[i] = &Block{
				Kind:      KindAskUser,
				CallID:    b.CallID,
				Questions: parseQuestions(b.Input),
				Answers:   res.Answers,
				Skipped:   res.Skipped,
			}
			return true
		}
	}
	return false
}

// parseQuestions extracts the declared questions from an ask_user tool input.
// Accepts both bare strings and {text, options} objects; anything else is
// skipped.
func parseQuestions(input map[string]any) []Question {
	raw, _ := input["questions"].([]any)
	var qs []Question
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			qs = append(qs, Question{Text: v})
		case map[string]any:
			q := Question{}
			q.Text, _ = v["text"].(string)
			if opts, ok := v["options"].([]any); ok {
				for _, o := range opts {
					if s, ok := o.(string); ok {
						q.Options = append(q.Options, s)
					}
				}
			}
			if q.Text != "" {
				qs = append(qs, q)
			}
		}
	}
	return qs
}

// =============================================================================
// AGENT MUTATORS
// =============================================================================

// CompleteAgent sets exactly one agent's status and closes any reasoning
// still open in its own child list. Returns false when no agent matches.
func CompleteAgent(blocks []*Block, agentID string, status AgentStatus) bool {
	agent := FindAgent(blocks, agentID)
	if agent == nil {
		return false
	}
	agent.Status = status
	closeReasoning(agent.Children)
	return true
}

// CancelAllRunning marks every running agent at every depth cancelled and
// closes every open reasoning block encountered along the way, in one
// recursive sweep.
func CancelAllRunning(blocks []*Block) {
	closeReasoning(blocks)
	for _, b := range blocks {
		if b.Kind == KindAgent {
			if b.Status == StatusRunning {
				b.Status = StatusCancelled
			}
			CancelAllRunning(b.Children)
		}
	}
}

// PlaceholderID builds the synthetic id of a declared spawn child, unique per
// spawn call by construction.
func PlaceholderID(callID string, index int) string {
	return fmt.Sprintf("%s-%d", callID, index)
}

// InsertPlaceholders appends one running placeholder agent block per declared
// spawn child, in declared order, closing open reasoning first (the spawn
// call is a tool-call event).
func InsertPlaceholders(blocks []*Block, callID string, declaredTypes []string) []*Block {
	closeReasoning(blocks)
	for i, typ := range declaredTypes {
		blocks = append(blocks, &Block{
			Kind:        KindAgent,
			AgentID:     PlaceholderID(callID, i),
			AgentType:   typ,
			Status:      StatusRunning,
			BatchCallID: callID,
			BatchIndex:  i,
		})
	}
	return blocks
}

// ResolvePlaceholderID swaps a placeholder's id for its real id in place.
// The block's position never changes and the swap happens at most once.
func ResolvePlaceholderID(blocks []*Block, tempID, realID string) bool {
	agent := FindAgent(blocks, tempID)
	if agent == nil || agent.Resolved {
		return false
	}
	agent.AgentID = realID
	agent.Resolved = true
	return true
}

// =============================================================================
// LOOKUPS
// =============================================================================

// FindAgent returns the agent block with the given id anywhere in the tree.
func FindAgent(blocks []*Block, agentID string) *Block {
	for _, b := range blocks {
		if b.Kind == KindAgent {
			if b.AgentID == agentID {
				return b
			}
			if found := FindAgent(b.Children, agentID); found != nil {
				return found
			}
		}
	}
	return nil
}

// FindTool returns the tool block with the given call id anywhere in the tree.
func FindTool(blocks []*Block, callID string) *Block {
	for _, b := range blocks {
		if b.Kind == KindTool && b.CallID == callID {
			return b
		}
		if b.Kind == KindAgent {
			if found := FindTool(b.Children, callID); found != nil {
				return found
			}
		}
	}
	return nil
}

// BatchChildren returns the agent blocks created from the given spawn call,
// ordered by declared position.
func BatchChildren(blocks []*Block, callID string) []*Block {
	var out []*Block
	var walk func([]*Block)
	walk = func(list []*Block) {
		for _, b := range list {
			if b.Kind == KindAgent {
				if b.BatchCallID == callID {
					out = append(out, b)
				}
				walk(b.Children)
			}
		}
	}
	walk(blocks)
	// Declared order equals insertion order within one list, but sort by the
	// recorded index anyway so the fan-out stays positional.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].BatchIndex > out[j].BatchIndex; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// WithTarget runs fn against the child list owned by the destination agent,
// or against the top-level list when agentID is empty. Returns false when the
// agent cannot be located; the tree is then unchanged.
func WithTarget(blocks []*Block, agentID string, fn func([]*Block) []*Block) ([]*Block, bool) {
	if agentID == "" {
		return fn(blocks), true
	}
	agent := FindAgent(blocks, agentID)
	if agent == nil {
		return blocks, false
	}
	agent.Children = fn(agent.Children)
	return blocks, true
}

// lastBlock returns the final block of a list, or nil when empty.
func lastBlock(blocks []*Block) *Block {
	if len(blocks) == 0 {
		return nil
	}
	return blocks[len(blocks)-1]
}

// allLists yields every child list in the tree, outermost first. Used by
// in-place replacement, which needs the owning slice rather than the block.
func allLists(blocks []*Block) [][]*Block {
	lists := [][]*Block{blocks}
	for _, b := range blocks {
		if b.Kind == KindAgent && len(b.Children) > 0 {
			lists = append(lists, allLists(b.Children)...)
		}
	}
	return lists
}

// asStringMap normalizes a payload into a map when its dynamic shape allows.
func asStringMap(payload any) (map[string]any, bool) {
	switch v := payload.(type) {
	case map[string]any:
		return v, true
	case json.RawMessage:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

// =============================================================================
// ENTRY HELPERS
// =============================================================================

// NewUserEntry builds a user entry carrying raw text.
func NewUserEntry(id, text string) Entry {
	return Entry{ID: id, Role: RoleUser, Content: text, CreatedAt: time.Now()}
}

// NewAssistantEntry builds an empty assistant entry ready to receive blocks.
func NewAssistantEntry(id string) Entry {
	return Entry{ID: id, Role: RoleAssistant, CreatedAt: time.Now()}
}

// UpdateLastBlocks rewrites the block tree of the final assistant entry.
// A transcript without a trailing assistant entry is left unchanged: events
// arriving outside a turn degrade to a no-op rather than a panic.
func UpdateLastBlocks(entries []Entry, fn func([]*Block) []*Block) []Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == RoleAssistant {
			entries[i].Blocks = fn(entries[i].Blocks)
			return entries
		}
	}
	return entries
}
