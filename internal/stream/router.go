package stream

import (
	"codeloom/internal/logging"
	"codeloom/internal/transcript"
)

// Destination describes where a streamed fragment belongs: the top-level
// block list (AgentID empty) or a specific agent's child list, plus the text
// kind it carries.
type Destination struct {
	AgentID string
	Kind    transcript.TextKind
}

// Route classifies a raw fragment's destination. Unrecognized shapes return
// false and are logged, never thrown: the fragment is dropped.
func Route(c RawChunk) (Destination, bool) {
	var kind transcript.TextKind
	switch c.Channel {
	case ChannelText:
		kind = transcript.TextPlain
	case ChannelReasoning:
		kind = transcript.TextReasoning
	default:
		logging.Get(logging.CategoryStream).Warn("unroutable chunk: unknown channel %q (agent %q)", c.Channel, c.AgentID)
		return Destination{}, false
	}
	return Destination{AgentID: c.AgentID, Kind: kind}, true
}
