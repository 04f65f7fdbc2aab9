// Package stream consumes the ordered event stream emitted by the backend
// agent-execution service and incrementally reconstructs the transcript's
// block tree. It hosts the chunk router, the placeholder matcher, and the
// event dispatcher; all mutation is enqueued onto the batched commit
// scheduler. Every malformed or unmatched input degrades to a logged no-op:
// nothing on this path panics in response to bad data.
package stream

import (
	"encoding/json"
	"fmt"

	"codeloom/internal/transcript"
)

// Event is the closed set of discrete events plus the raw-chunk side
// channel. The dispatcher switches exhaustively over these types; adding a
// new event kind means extending that switch.
type Event interface {
	isEvent()
}

// AgentStarted reports that the backend started an agent, carrying its real
// id and actual type. ParentID names the agent that spawned it, when known.
type AgentStarted struct {
	AgentID   string
	AgentType string
	ParentID  string
}

// AgentFinished reports that an agent reached a terminal state.
type AgentFinished struct {
	AgentID string
	Failed  bool
	Reason  string
}

// ToolCalled reports a tool invocation addressed to an agent's subtree
// (empty AgentID means the top level).
type ToolCalled struct {
	CallID   string
	ToolName string
	AgentID  string
	Input    map[string]any
}

// ToolResult carries the result payload for a previously-seen tool call.
type ToolResult struct {
	CallID  string
	AgentID string
	Payload any
}

// TurnFinished closes one turn, optionally reporting aggregate cost.
// It never mutates the tree.
type TurnFinished struct {
	CostUSD float64
}

// Channel identifies which side channel a raw fragment arrived on.
type Channel string

const (
	ChannelText      Channel = "text"
	ChannelReasoning Channel = "reasoning"
)

// RawChunk is one streamed text fragment, optionally tagged with the owning
// agent. Chunks are applied in the same wall-clock order they are received
// relative to discrete events.
type RawChunk struct {
	AgentID string
	Channel Channel
	Text    string
}

func (AgentStarted) isEvent()  {}
func (AgentFinished) isEvent() {}
func (ToolCalled) isEvent()    {}
func (ToolResult) isEvent()    {}
func (TurnFinished) isEvent()  {}
func (RawChunk) isEvent()      {}

// SpawnChildResult is one per-child named result inside a batch-spawn tool
// result. The dispatcher detects this shape structurally, not by call id.
type SpawnChildResult struct {
	AgentName string `json:"agentName"`
	Value     string `json:"value"`
	Failed    bool   `json:"failed,omitempty"`
}

// decodeSpawnResults reports whether payload has the batch-spawn result
// shape: an array of per-child named results.
func decodeSpawnResults(payload any) ([]SpawnChildResult, bool) {
	switch v := payload.(type) {
	case []SpawnChildResult:
		return v, len(v) > 0
	case json.RawMessage:
		var out []SpawnChildResult
		if err := json.Unmarshal(v, &out); err == nil && len(out) > 0 && out[0].AgentName != "" {
			return out, true
		}
	case []any:
		out := make([]SpawnChildResult, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			name, ok := m["agentName"].(string)
			if !ok || name == "" {
				return nil, false
			}
			value, _ := m["value"].(string)
			failed, _ := m["failed"].(bool)
			out = append(out, SpawnChildResult{AgentName: name, Value: value, Failed: failed})
		}
		return out, len(out) > 0
	}
	return nil, false
}

// decodeAskUserResult reports whether payload carries usable answer/skip
// data for the user-question tool.
func decodeAskUserResult(payload any) (transcript.AskUserResult, bool) {
	m, ok := asmap(payload)
	if !ok {
		return transcript.AskUserResult{}, false
	}
	res := transcript.AskUserResult{}
	if skipped, ok := m["skipped"].(bool); ok && skipped {
		res.Skipped = true
		res.Usable = true
	}
	if raw, ok := m["answers"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				res.Answers = append(res.Answers, s)
			}
		}
		res.Usable = res.Usable || len(res.Answers) > 0
	}
	return res, res.Usable
}

func asmap(payload any) (map[string]any, bool) {
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

// errorMessage normalizes an arbitrary failure value to a human-readable
// string, so reporting an error can never itself crash.
func errorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return "unknown error"
	case error:
		return e.Error()
	case string:
		if e == "" {
			return "unknown error"
		}
		return e
	default:
		return fmt.Sprintf("%v", e)
	}
}
