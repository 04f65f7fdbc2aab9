package stream

import (
	"strings"

	"codeloom/internal/commit"
	"codeloom/internal/logging"
	"codeloom/internal/tagparse"
	"codeloom/internal/transcript"
)

// Wire-level names with engine meaning.
const (
	// SpawnToolName declares a batch of sub-agents. The call itself is never
	// rendered as a tool block; it produces ordered placeholder agent blocks.
	SpawnToolName = "spawn_agents"
	// PlanToolName is a control-plane tool tracked for plan extraction and
	// never rendered as a tool block.
	PlanToolName = "update_plan"
	// hiddenAgentPrefix marks internal agent types that are filtered out
	// with no mutation.
	hiddenAgentPrefix = "internal/"
)

// Config wires a Dispatcher to its collaborators.
type Config struct {
	Scheduler *commit.Scheduler
	IDs       transcript.IDSource
	// OnCost receives the aggregate cost reported by turn-finished events.
	OnCost func(usd float64)
	// OnStreaming fires once per turn, on the first chunk or discrete event:
	// the external status transitions from waiting to streaming.
	OnStreaming func()
}

// Dispatcher is the top-level state machine over the event stream. It owns
// the cross-cutting per-turn state: which agents are currently streaming,
// per-target tag-parser tails, the extracted plan, and cost totals. All tree
// mutation is enqueued as transforms on the commit scheduler; the dispatcher
// itself holds no tree.
type Dispatcher struct {
	sched   *commit.Scheduler
	ids     transcript.IDSource
	matcher *Matcher

	streaming       map[string]struct{}
	tagStates       map[string]tagparse.State
	contentReceived bool
	plan            string
	costTotal       float64

	onCost      func(float64)
	onStreaming func()
	log         *logging.Logger
}

// NewDispatcher creates a dispatcher for one session.
func NewDispatcher(cfg Config) *Dispatcher {
	ids := cfg.IDs
	if ids == nil {
		ids = transcript.UUIDSource()
	}
	return &Dispatcher{
		sched:       cfg.Scheduler,
		ids:         ids,
		matcher:     NewMatcher(),
		streaming:   make(map[string]struct{}),
		tagStates:   make(map[string]tagparse.State),
		onCost:      cfg.OnCost,
		onStreaming: cfg.OnStreaming,
		log:         logging.Get(logging.CategoryStream),
	}
}

// BeginTurn starts a new turn: appends the user entry plus a fresh assistant
// entry and resets all per-turn state.
func (d *Dispatcher) BeginTurn(userText string) {
	d.matcher.Reset()
	d.streaming = make(map[string]struct{})
	d.tagStates = make(map[string]tagparse.State)
	d.contentReceived = false

	userID, asstID := d.ids(), d.ids()
	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		entries = append(entries, transcript.NewUserEntry(userID, userText))
		return append(entries, transcript.NewAssistantEntry(asstID))
	})
}

// Handle applies one event. It is total over the closed event set: an
// unknown kind is logged and dropped, never a panic.
func (d *Dispatcher) Handle(ev Event) {
	switch e := ev.(type) {
	case RawChunk:
		d.handleChunk(e)
	case AgentStarted:
		d.handleAgentStarted(e)
	case AgentFinished:
		d.handleAgentFinished(e)
	case ToolCalled:
		d.handleToolCalled(e)
	case ToolResult:
		d.handleToolResult(e)
	case TurnFinished:
		d.handleTurnFinished(e)
	default:
		d.log.Warn("unknown event kind %T dropped", ev)
	}
}

// =============================================================================
// CHUNKS
// =============================================================================

func (d *Dispatcher) handleChunk(c RawChunk) {
	dest, ok := Route(c)
	if !ok {
		return
	}
	d.markContent()

	if dest.Kind == transcript.TextReasoning {
		// Native reasoning channel: boundaries come from the channel itself,
		// not inline markup, so the tag parser is bypassed.
		d.mutateTarget(dest.AgentID, func(list []*transcript.Block) []*transcript.Block {
			return transcript.AppendText(list, c.Text, transcript.TextReasoning, d.ids)
		})
		return
	}

	st := d.tagStates[dest.AgentID]
	segs, next := tagparse.Split(st, c.Text)
	d.tagStates[dest.AgentID] = next
	if len(segs) == 0 {
		return
	}
	d.mutateTarget(dest.AgentID, func(list []*transcript.Block) []*transcript.Block {
		return transcript.AppendSegments(list, segs, d.ids)
	})
}

// =============================================================================
// AGENT LIFECYCLE
// =============================================================================

func (d *Dispatcher) handleAgentStarted(e AgentStarted) {
	if strings.HasPrefix(e.AgentType, hiddenAgentPrefix) {
		d.log.Debug("hidden agent type %q filtered", e.AgentType)
		return
	}
	d.markContent()
	d.streaming[e.AgentID] = struct{}{}

	if tempID, ok := d.matcher.Resolve(e.AgentType); ok {
		realID := e.AgentID
		d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
			return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
				transcript.ResolvePlaceholderID(blocks, tempID, realID)
				return blocks
			})
		})
		return
	}

	// No declared placeholder fits: create a brand-new agent block, nested
	// under the given parent when that parent is resolvable, else appended
	// at the top level. Total either way.
	agent := &transcript.Block{
		Kind:      transcript.KindAgent,
		AgentID:   e.AgentID,
		AgentType: e.AgentType,
		Status:    transcript.StatusRunning,
		ParentID:  e.ParentID,
		Resolved:  true,
	}
	parentID := e.ParentID
	log := d.log
	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
			// Agent ids are unique across the whole tree at any instant, so a
			// replayed agent-started is dropped rather than duplicated.
			if transcript.FindAgent(blocks, agent.AgentID) != nil {
				log.Warn("duplicate agent-started for %q dropped", agent.AgentID)
				return blocks
			}
			if parentID != "" {
				if out, ok := transcript.WithTarget(blocks, parentID, func(list []*transcript.Block) []*transcript.Block {
					return transcript.AppendBlock(list, agent)
				}); ok {
					return out
				}
				log.Warn("unmatched agent %q: parent %q not in tree, appending at top level", agent.AgentID, parentID)
			}
			return transcript.AppendBlock(blocks, agent)
		})
	})
}

func (d *Dispatcher) handleAgentFinished(e AgentFinished) {
	d.markContent()
	delete(d.streaming, e.AgentID)
	d.flushTagTail(e.AgentID)
	delete(d.tagStates, e.AgentID)

	status := transcript.StatusComplete
	if e.Failed {
		status = transcript.StatusFailed
	}
	agentID := e.AgentID
	log := d.log
	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
			if !transcript.CompleteAgent(blocks, agentID, status) {
				log.Warn("agent-finished for unknown agent %q ignored", agentID)
			}
			return blocks
		})
	})
}

// =============================================================================
// TOOLS
// =============================================================================

func (d *Dispatcher) handleToolCalled(e ToolCalled) {
	d.markContent()

	// A tool call unconditionally ends reasoning in its subtree, even when
	// the call itself is never rendered.
	d.mutateTarget(e.AgentID, func(list []*transcript.Block) []*transcript.Block {
		transcript.CloseOpenReasoning(list)
		return list
	})

	switch e.ToolName {
	case SpawnToolName:
		declared := parseSpawnDeclarations(e.Input)
		if len(declared) == 0 {
			d.log.Warn("spawn call %q declared no children, ignored", e.CallID)
			return
		}
		d.matcher.Declare(e.CallID, declared)
		callID := e.CallID
		d.mutateTarget(e.AgentID, func(list []*transcript.Block) []*transcript.Block {
			return transcript.InsertPlaceholders(list, callID, declared)
		})

	case PlanToolName:
		plan, _ := e.Input["plan"].(string)
		if plan == "" {
			d.log.Warn("plan call %q carried no plan text", e.CallID)
			return
		}
		d.plan = plan
		d.mutateTarget(e.AgentID, func(list []*transcript.Block) []*transcript.Block {
			return transcript.AppendBlock(list, &transcript.Block{Kind: transcript.KindPlan, Content: plan})
		})

	default:
		tool := &transcript.Block{
			Kind:     transcript.KindTool,
			CallID:   e.CallID,
			ToolName: e.ToolName,
			Input:    e.Input,
		}
		agentID := e.AgentID
		log := d.log
		d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
			return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
				// Call ids are unique across the whole tree, not just within
				// one child list; a replayed call is dropped wherever the
				// original landed.
				if transcript.FindTool(blocks, tool.CallID) != nil {
					log.Warn("duplicate tool call %q dropped", tool.CallID)
					return blocks
				}
				out, ok := transcript.WithTarget(blocks, agentID, func(list []*transcript.Block) []*transcript.Block {
					return transcript.AppendTool(list, tool)
				})
				if !ok {
					log.Warn("tool call %q addressed to unknown agent %q dropped", tool.CallID, agentID)
				}
				return out
			})
		})
	}
}

func (d *Dispatcher) handleToolResult(e ToolResult) {
	d.markContent()

	callID := e.CallID
	payload := e.Payload
	ids := d.ids
	log := d.log
	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
			// Ask-user transform first: a usable answer payload replaces the
			// tool block in place.
			if res, ok := decodeAskUserResult(payload); ok {
				if transcript.TransformAskUser(blocks, callID, res) {
					return blocks
				}
			}

			// Batch-spawn result shape fans out positionally to the spawn's
			// children, regardless of call id bookkeeping elsewhere.
			if results, ok := decodeSpawnResults(payload); ok {
				fanOutSpawnResults(blocks, callID, results, ids, log)
				return blocks
			}

			if !transcript.AttachOutput(blocks, callID, payload) {
				log.Warn("tool result for unknown call %q dropped", callID)
			}
			return blocks
		})
	})
}

// fanOutSpawnResults applies one batch-spawn result to the N declared
// children in declared order: terminal status per child, plus a substituted
// text block only when the child produced no streamed content of its own.
func fanOutSpawnResults(blocks []*transcript.Block, callID string, results []SpawnChildResult, ids transcript.IDSource, log *logging.Logger) {
	children := transcript.BatchChildren(blocks, callID)
	if len(children) == 0 {
		log.Warn("spawn result for call %q matched no children", callID)
		return
	}
	for i, r := range results {
		if i >= len(children) {
			log.Warn("spawn result %d for call %q has no declared child, dropped", i, callID)
			break
		}
		child := children[i]
		if r.Failed {
			child.Status = transcript.StatusFailed
		} else {
			child.Status = transcript.StatusComplete
		}
		transcript.CloseOpenReasoning(child.Children)
		if len(child.Children) == 0 && r.Value != "" {
			child.Children = []*transcript.Block{{
				Kind:     transcript.KindText,
				ID:       ids(),
				TextKind: transcript.TextPlain,
				Content:  r.Value,
			}}
		}
	}
}

// =============================================================================
// TURN BOUNDARY
// =============================================================================

func (d *Dispatcher) handleTurnFinished(e TurnFinished) {
	d.markContent()
	if e.CostUSD > 0 {
		d.costTotal += e.CostUSD
		if d.onCost != nil {
			d.onCost(e.CostUSD)
		}
	}
	// Never mutates the tree.
}

// FinishStream flushes every buffered tag-parser tail as literal text and
// closes still-open reasoning blocks: stream end is the other legal close of
// a tag-derived region. Call when the backend signals end of output, before
// the scheduler's terminal operation.
func (d *Dispatcher) FinishStream() {
	for target := range d.tagStates {
		d.flushTagTail(target)
	}
	d.tagStates = make(map[string]tagparse.State)

	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
			var closeAll func([]*transcript.Block)
			closeAll = func(list []*transcript.Block) {
				transcript.CloseOpenReasoning(list)
				for _, b := range list {
					if b.Kind == transcript.KindAgent {
						closeAll(b.Children)
					}
				}
			}
			closeAll(blocks)
			return blocks
		})
	})
}

// Interrupt represents a user-triggered interruption or stream failure as
// data: a whole-tree cancellation sweep plus a terminal error marker. All
// already-produced content is preserved.
func (d *Dispatcher) Interrupt(reason any) {
	d.FinishStream()
	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
			transcript.CancelAllRunning(blocks)
			return blocks
		})
	})
	d.sched.SetError(errorMessage(reason))
}

// =============================================================================
// ACCESSORS AND HELPERS
// =============================================================================

// ContentReceived reports whether any content arrived this turn.
func (d *Dispatcher) ContentReceived() bool { return d.contentReceived }

// StreamingCount returns how many agents are currently streaming.
func (d *Dispatcher) StreamingCount() int { return len(d.streaming) }

// Plan returns the most recently extracted plan text, if any.
func (d *Dispatcher) Plan() string { return d.plan }

// CostTotal returns the aggregate cost reported so far.
func (d *Dispatcher) CostTotal() float64 { return d.costTotal }

func (d *Dispatcher) markContent() {
	if d.contentReceived {
		return
	}
	d.contentReceived = true
	if d.onStreaming != nil {
		d.onStreaming()
	}
}

// mutateTarget enqueues fn against the destination child list, falling back
// to a logged no-op when the target agent is not in the tree.
func (d *Dispatcher) mutateTarget(agentID string, fn func([]*transcript.Block) []*transcript.Block) {
	log := d.log
	d.sched.Enqueue(func(entries []transcript.Entry) []transcript.Entry {
		return transcript.UpdateLastBlocks(entries, func(blocks []*transcript.Block) []*transcript.Block {
			out, ok := transcript.WithTarget(blocks, agentID, fn)
			if !ok {
				log.Warn("mutation addressed to unknown agent %q dropped", agentID)
			}
			return out
		})
	})
}

// flushTagTail drains one target's buffered partial-marker text as literal
// content.
func (d *Dispatcher) flushTagTail(target string) {
	st, ok := d.tagStates[target]
	if !ok || st.Pending == "" {
		return
	}
	segs, next := tagparse.Flush(st)
	d.tagStates[target] = next
	if len(segs) == 0 {
		return
	}
	d.mutateTarget(target, func(list []*transcript.Block) []*transcript.Block {
		return transcript.AppendSegments(list, segs, d.ids)
	})
}

// parseSpawnDeclarations extracts the declared child types from a spawn tool
// input of the form {"agents": [{"type": "..."}, ...]}.
func parseSpawnDeclarations(input map[string]any) []string {
	raw, _ := input["agents"].([]any)
	var types []string
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if typ, ok := m["type"].(string); ok && typ != "" {
			types = append(types, typ)
		}
	}
	return types
}
