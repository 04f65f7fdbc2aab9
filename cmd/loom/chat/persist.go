// This file contains session persistence for the chat model: JSON files as
// the source of truth plus the SQLite archive for cross-session queries.
package chat

import (
	"path/filepath"

	"codeloom/internal/logging"
	"codeloom/internal/session"
	"codeloom/internal/transcript"
)

func archivePath(workspace string) string {
	return filepath.Join(workspace, ".loom", "archive.db")
}

// persistSession saves the committed transcript to both stores. Failures are
// logged, never surfaced: persistence must not break an interactive session.
func (m *Model) persistSession() {
	if m.workspace == "" || m.sessionID == "" || len(m.entries) == 0 {
		return
	}

	state := &session.State{
		SessionID: m.sessionID,
		TurnCount: m.turnCount,
		CostUSD:   m.costUSD,
		Title:     sessionTitle(m.entries),
	}
	if err := session.Save(m.workspace, state, m.entries); err != nil {
		logging.Get(logging.CategorySession).Error("save session: %v", err)
	}

	if m.archive != nil {
		if err := m.archive.ArchiveEntries(m.sessionID, m.entries); err != nil {
			logging.Get(logging.CategoryStore).Error("archive session: %v", err)
		}
	}
}

// Resume seeds the model with a previously saved session.
func (m *Model) Resume(state *session.State, entries []transcript.Entry) {
	if state == nil {
		return
	}
	m.sessionID = state.SessionID
	m.turnCount = state.TurnCount
	m.costUSD = state.CostUSD
	m.entries = entries
}

// sessionTitle derives a short listing title from the first user entry.
func sessionTitle(entries []transcript.Entry) string {
	for _, e := range entries {
		if e.Role == transcript.RoleUser && e.Content != "" {
			if len(e.Content) > 60 {
				return e.Content[:57] + "..."
			}
			return e.Content
		}
	}
	return ""
}

// ResumeLatest loads the most recent saved session into the model, if any.
func (m *Model) ResumeLatest() {
	state, err := session.Latest(m.workspace)
	if err != nil || state == nil {
		return
	}
	loaded, entries := session.Load(m.workspace, state.SessionID)
	if loaded == nil {
		return
	}
	m.Resume(loaded, entries)
	logging.Get(logging.CategorySession).Info("resumed session %s (%d entries)", loaded.SessionID, len(entries))
}
