package gateway

import (
	"encoding/json"
	"fmt"

	"codeloom/internal/stream"
)

// Message is one websocket protocol frame.
type Message struct {
	Type    string          `json:"type"`              // "req", "res", "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation
	Method  string          `json:"method,omitempty"`  // method name (req)
	Event   string          `json:"event,omitempty"`   // event name (event frames)
	Params  any             `json:"params,omitempty"`  // request params
	Payload json.RawMessage `json:"payload,omitempty"` // event payload
	Result  json.RawMessage `json:"result,omitempty"`  // response result
	Error   string          `json:"error,omitempty"`   // response error
	OK      *bool           `json:"ok,omitempty"`      // response success
}

// Wire event names emitted by the agent-execution service.
const (
	EventAgentStarted  = "agent.started"
	EventAgentFinished = "agent.finished"
	EventToolCalled    = "tool.called"
	EventToolResult    = "tool.result"
	EventTurnFinished  = "turn.finished"
	EventChunk         = "chunk"
)

// Per-event payload shapes.
type agentStartedPayload struct {
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	ParentID  string `json:"parentId,omitempty"`
}

type agentFinishedPayload struct {
	AgentID string `json:"agentId"`
	Failed  bool   `json:"failed,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type toolCalledPayload struct {
	CallID   string         `json:"callId"`
	ToolName string         `json:"toolName"`
	AgentID  string         `json:"agentId,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

type toolResultPayload struct {
	CallID  string          `json:"callId"`
	AgentID string          `json:"agentId,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type turnFinishedPayload struct {
	CostUSD float64 `json:"costUsd,omitempty"`
}

type chunkPayload struct {
	AgentID string `json:"agentId,omitempty"`
	Channel string `json:"channel"` // "text" or "reasoning"
	Text    string `json:"text"`
}

// DecodeEvent translates a wire event frame into a stream event. Frames with
// unknown names or undecodable payloads return an error; the caller logs and
// skips them.
func DecodeEvent(msg *Message) (stream.Event, error) {
	switch msg.Event {
	case EventAgentStarted:
		var p agentStartedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return stream.AgentStarted{AgentID: p.AgentID, AgentType: p.AgentType, ParentID: p.ParentID}, nil

	case EventAgentFinished:
		var p agentFinishedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return stream.AgentFinished{AgentID: p.AgentID, Failed: p.Failed, Reason: p.Reason}, nil

	case EventToolCalled:
		var p toolCalledPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return stream.ToolCalled{CallID: p.CallID, ToolName: p.ToolName, AgentID: p.AgentID, Input: p.Input}, nil

	case EventToolResult:
		var p toolResultPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		// The payload stays raw: the dispatcher detects shapes structurally.
		return stream.ToolResult{CallID: p.CallID, AgentID: p.AgentID, Payload: p.Result}, nil

	case EventTurnFinished:
		var p turnFinishedPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
			}
		}
		return stream.TurnFinished{CostUSD: p.CostUSD}, nil

	case EventChunk:
		var p chunkPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
		return stream.RawChunk{AgentID: p.AgentID, Channel: stream.Channel(p.Channel), Text: p.Text}, nil
	}

	return nil, fmt.Errorf("unknown event %q", msg.Event)
}

// ChatSendParams are the parameters for a chat.send request.
type ChatSendParams struct {
	Content   string `json:"content"`
	SessionID string `json:"sessionId,omitempty"`
}
