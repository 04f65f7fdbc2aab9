package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codeloom/internal/transcript"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name   string
		chunk  RawChunk
		want   Destination
		wantOK bool
	}{
		{
			name:   "top-level plain text",
			chunk:  RawChunk{Channel: ChannelText, Text: "hi"},
			want:   Destination{Kind: transcript.TextPlain},
			wantOK: true,
		},
		{
			name:   "agent reasoning",
			chunk:  RawChunk{AgentID: "a1", Channel: ChannelReasoning, Text: "hm"},
			want:   Destination{AgentID: "a1", Kind: transcript.TextReasoning},
			wantOK: true,
		},
		{
			name:   "unknown channel has no destination",
			chunk:  RawChunk{AgentID: "a1", Channel: "telemetry"},
			wantOK: false,
		},
		{
			name:   "empty channel has no destination",
			chunk:  RawChunk{Text: "orphan"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, ok := Route(tt.chunk)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, dest)
			}
		})
	}
}
