// Package tagparse implements the incremental tokenizer that splits streamed
// text into plain and reasoning segments based on inline <think> markup.
// Markers may arrive split across any number of fragments; the parser buffers
// the longest trailing run that could still complete a marker and re-tests it
// once more text arrives.
package tagparse

import "strings"

// Markers delimiting an inline reasoning region.
const (
	OpenMarker  = "<think>"
	CloseMarker = "</think>"
)

// Kind classifies a segment of streamed text.
type Kind int

const (
	KindPlain Kind = iota
	KindReasoning
)

// Segment is one run of text of a single kind extracted from a fragment.
type Segment struct {
	Kind    Kind
	Content string
	// Close reports that an explicit close marker terminated the reasoning
	// region this segment belongs to. A Close segment may carry empty content:
	// a bare close marker with no preceding open is a no-op close on whatever
	// reasoning block is currently open downstream.
	Close bool
}

// State carries parser state across fragment boundaries.
// The zero value is a valid initial state (not inside a reasoning region).
type State struct {
	// InReasoning is true while inside an open tag-derived reasoning region.
	InReasoning bool
	// Pending holds a trailing run of text that is a prefix of a marker and
	// cannot be classified until more text arrives.
	Pending string
}

// Split tokenizes fragment given trailing state from prior fragments.
// It returns the ordered segments fully classified so far plus the updated
// state. Content held back in State.Pending has not been emitted yet; call
// Flush at stream end to recover it as literal text.
//
// Open markers encountered inside an already-open reasoning region carry no
// nesting semantics: the region stays flat and closes on the first close
// marker. This is a known limitation of the markup, not of the parser.
func Split(st State, fragment string) ([]Segment, State) {
	text := st.Pending + fragment
	st.Pending = ""

	var segs []Segment
	emit := func(kind Kind, content string, closed bool) {
		if content == "" && !closed {
			return
		}
		// Coalesce with the previous segment when nothing changed in between.
		if n := len(segs); n > 0 && !closed {
			last := &segs[n-1]
			if last.Kind == kind && !last.Close {
				last.Content += content
				return
			}
		}
		segs = append(segs, Segment{Kind: kind, Content: content, Close: closed})
	}

	for text != "" {
		if st.InReasoning {
			if idx := strings.Index(text, CloseMarker); idx >= 0 {
				emit(KindReasoning, text[:idx], true)
				text = text[idx+len(CloseMarker):]
				st.InReasoning = false
				continue
			}
			keep := partialMarkerSuffix(text, CloseMarker)
			emit(KindReasoning, text[:len(text)-len(keep)], false)
			st.Pending = keep
			return segs, st
		}

		openIdx := strings.Index(text, OpenMarker)
		closeIdx := strings.Index(text, CloseMarker)

		// A bare close marker before any open is interpreted as a no-op close
		// on the currently open block downstream.
		if closeIdx >= 0 && (openIdx < 0 || closeIdx < openIdx) {
			emit(KindPlain, text[:closeIdx], false)
			emit(KindReasoning, "", true)
			text = text[closeIdx+len(CloseMarker):]
			continue
		}

		if openIdx >= 0 {
			emit(KindPlain, text[:openIdx], false)
			text = text[openIdx+len(OpenMarker):]
			st.InReasoning = true
			continue
		}

		keep := longestPartialSuffix(text)
		emit(KindPlain, text[:len(text)-len(keep)], false)
		st.Pending = keep
		return segs, st
	}

	return segs, st
}

// Flush drains buffered partial-marker text at stream end, returning it as a
// literal segment of the current kind. The marker never completed, so the
// held-back characters are ordinary content.
func Flush(st State) ([]Segment, State) {
	if st.Pending == "" {
		return nil, st
	}
	kind := KindPlain
	if st.InReasoning {
		kind = KindReasoning
	}
	seg := Segment{Kind: kind, Content: st.Pending}
	st.Pending = ""
	return []Segment{seg}, st
}

// partialMarkerSuffix returns the longest proper suffix of text that is a
// prefix of marker. The returned run could still complete the marker once
// more text arrives, so it must be held back.
func partialMarkerSuffix(text, marker string) string {
	max := len(marker) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, text[len(text)-n:]) {
			return text[len(text)-n:]
		}
	}
	return ""
}

// longestPartialSuffix checks both markers and returns the longer candidate.
// CloseMarker is checked even outside a reasoning region because a bare close
// is meaningful (no-op close).
func longestPartialSuffix(text string) string {
	open := partialMarkerSuffix(text, OpenMarker)
	cls := partialMarkerSuffix(text, CloseMarker)
	if len(cls) > len(open) {
		return cls
	}
	return open
}
