// Package session persists chat sessions to the workspace .loom directory.
//
// Each session is stored as two JSON files under .loom/sessions/:
//
//	{id}.state.json      - session metadata (timestamps, turn count, cost)
//	{id}.transcript.json - the full transcript entry list
//
// Writes are atomic per file and run concurrently. Loads are best-effort:
// a missing or corrupt session reads as "no saved session" so a damaged
// file never blocks startup.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"codeloom/internal/logging"
	"codeloom/internal/transcript"
)

// State is the metadata file for a saved session.
type State struct {
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	TurnCount    int       `json:"turn_count"`
	CostUSD      float64   `json:"cost_usd"`
	Title        string    `json:"title,omitempty"`
}

const sessionsDir = "sessions"

// Dir returns the sessions directory for a workspace.
func Dir(workspace string) string {
	return filepath.Join(workspace, ".loom", sessionsDir)
}

func statePath(workspace, id string) string {
	return filepath.Join(Dir(workspace), id+".state.json")
}

func transcriptPath(workspace, id string) string {
	return filepath.Join(Dir(workspace), id+".transcript.json")
}

// Save writes the session state and transcript files. Both files are
// written concurrently; the first failure aborts the save.
func Save(workspace string, state *State, entries []transcript.Entry) error {
	if workspace == "" || state == nil || state.SessionID == "" {
		return fmt.Errorf("session: missing workspace or session id")
	}
	if err := os.MkdirAll(Dir(workspace), 0755); err != nil {
		return fmt.Errorf("session: create sessions dir: %w", err)
	}

	// Preserve the original StartedAt if this session was saved before.
	if existing, err := loadState(workspace, state.SessionID); err == nil && !existing.StartedAt.IsZero() {
		state.StartedAt = existing.StartedAt
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now()
	}
	state.LastActiveAt = time.Now()

	var g errgroup.Group
	g.Go(func() error {
		return writeJSON(statePath(workspace, state.SessionID), state)
	})
	g.Go(func() error {
		return writeJSON(transcriptPath(workspace, state.SessionID), entries)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logging.Get(logging.CategorySession).Debug("saved session %s (%d entries)", state.SessionID, len(entries))
	return nil
}

// Load reads a saved session. Returns nil state when the session does not
// exist or cannot be parsed; callers treat that as "start fresh".
func Load(workspace, id string) (*State, []transcript.Entry) {
	state, err := loadState(workspace, id)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategorySession).Warn("load session state %s: %v", id, err)
		}
		return nil, nil
	}

	var entries []transcript.Entry
	data, err := os.ReadFile(transcriptPath(workspace, id))
	if err == nil {
		if uerr := json.Unmarshal(data, &entries); uerr != nil {
			logging.Get(logging.CategorySession).Warn("parse transcript %s: %v", id, uerr)
			entries = nil
		}
	} else if !os.IsNotExist(err) {
		logging.Get(logging.CategorySession).Warn("read transcript %s: %v", id, err)
	}

	return state, entries
}

// List returns all saved session states, newest activity first.
func List(workspace string) ([]State, error) {
	dir := Dir(workspace)
	names, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read sessions dir: %w", err)
	}

	var states []State
	for _, entry := range names {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".state.json") {
			continue
		}
		id := strings.TrimSuffix(name, ".state.json")
		state, err := loadState(workspace, id)
		if err != nil {
			logging.Get(logging.CategorySession).Warn("skip unreadable session %s: %v", id, err)
			continue
		}
		states = append(states, *state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].LastActiveAt.After(states[j].LastActiveAt)
	})
	return states, nil
}

// Latest returns the most recently active session state, or nil when no
// sessions have been saved.
func Latest(workspace string) (*State, error) {
	states, err := List(workspace)
	if err != nil || len(states) == 0 {
		return nil, err
	}
	return &states[0], nil
}

func loadState(workspace, id string) (*State, error) {
	data, err := os.ReadFile(statePath(workspace, id))
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("session: parse state %s: %w", id, err)
	}
	if state.SessionID == "" {
		state.SessionID = id
	}
	return &state, nil
}

// writeJSON writes via a temp file and rename so a crash mid-write never
// leaves a truncated session file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("session: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
