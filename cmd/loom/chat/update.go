package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"codeloom/cmd/loom/config"
	"codeloom/cmd/loom/ui"
	"codeloom/internal/commit"
	"codeloom/internal/logging"
	"codeloom/internal/stream"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.shutdown()
			return m, tea.Quit

		case tea.KeyEsc:
			// Esc interrupts an in-flight turn; otherwise it dismisses a
			// visible stream error; otherwise it quits.
			if m.isLoading {
				return m, m.interruptTurn()
			}
			if m.streamErr != "" && m.sched != nil {
				m.sched.DismissError()
				return m, nil
			}
			m.shutdown()
			return m, tea.Quit

		case tea.KeyEnter:
			return m, m.submitInput()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 1
		footerHeight := 3
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - headerHeight - footerHeight
		m.textinput.Width = msg.Width - 4
		if renderer, err := glamour.NewTermRenderer(
			glamour.WithStylePath(m.glamourStyle()),
			glamour.WithWordWrap(msg.Width-4),
		); err == nil {
			m.renderer = renderer
		}
		m.ready = true
		m.refreshViewport()

	case snapshotMsg:
		m.applySnapshot(msg.snap)
		return m, m.waitForSnapshot()

	case gatewayEventMsg:
		cmd := m.handleGatewayEvent(msg.ev)
		return m, tea.Batch(m.waitForGateway(), cmd)

	case gatewayStateMsg:
		m.status = msg.state.String()
		return m, m.waitForGateway()

	case gatewayErrMsg:
		logging.Get(logging.CategoryTUI).Error("gateway: %v", msg.err)
		if m.disp != nil && m.isLoading {
			// Mid-stream loss: mark the error and cancel running agents.
			m.disp.Interrupt(msg.err)
			m.isLoading = false
		} else {
			m.status = "connection error: " + msg.err.Error()
		}
		return m, m.waitForGateway()

	case ConfigChanged:
		m.applyConfig(msg.Cfg)
		return m, nil

	case spinner.TickMsg:
		m.spinner, spCmd = m.spinner.Update(msg)
		return m, spCmd
	}

	m.textinput, tiCmd = m.textinput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// submitInput sends the typed message as a new turn.
func (m *Model) submitInput() tea.Cmd {
	text := strings.TrimSpace(m.textinput.Value())
	if text == "" || m.isLoading {
		return nil
	}
	m.textinput.Reset()

	if err := m.beginTurn(text); err != nil {
		// The error snapshot reaches the persistent reader started in Init.
		m.status = "send failed: " + err.Error()
		return nil
	}
	m.turnCount++
	return m.spinner.Tick
}

// interruptTurn stops the in-flight turn locally and tells the backend.
func (m *Model) interruptTurn() tea.Cmd {
	if m.disp == nil {
		return nil
	}
	if err := m.client.CancelTurn(m.sessionID); err != nil {
		logging.Get(logging.CategoryTUI).Warn("cancel turn: %v", err)
	}
	m.disp.Interrupt("interrupted by user")
	m.isLoading = false
	m.status = "interrupted"
	return nil
}

// handleGatewayEvent feeds one decoded event through the dispatcher. The
// dispatcher is only ever called from here, so its state needs no locking.
func (m *Model) handleGatewayEvent(ev stream.Event) tea.Cmd {
	if m.disp == nil || m.sched == nil || m.sched.Disposed() {
		logging.Get(logging.CategoryTUI).Debug("dropping event outside a turn: %T", ev)
		return nil
	}

	m.disp.Handle(ev)

	if _, ok := ev.(stream.TurnFinished); ok {
		m.disp.FinishStream()
		m.sched.MarkComplete()
	}
	return nil
}

// applySnapshot installs a committed transcript view and, on a terminal
// snapshot, persists the session.
func (m *Model) applySnapshot(snap commit.Snapshot) {
	m.entries = snap.Entries
	m.streamErr = snap.Err
	m.refreshViewport()

	// Completion and stream failure both end the turn.
	if (snap.Done || snap.Err != "") && !m.turnDone {
		m.turnDone = true
		m.isLoading = false
		if snap.Err != "" {
			m.status = "turn failed"
		} else {
			m.status = "ready"
		}
		m.persistSession()
	}
}

// refreshViewport re-renders the transcript into the viewport, pinned to the
// bottom.
func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderEntries())
	m.viewport.GotoBottom()
}

// applyConfig hot-applies an edited config: theme, markdown style, and the
// flush interval used by the next turn's scheduler.
func (m *Model) applyConfig(cfg config.Config) {
	m.cfg = cfg
	m.styles = ui.NewStyles(ui.ForName(cfg.Theme))
	m.textinput.PromptStyle = m.styles.Prompt
	m.textinput.TextStyle = m.styles.UserInput
	m.spinner.Style = m.styles.Spinner
	width := m.width - 4
	if width < 20 {
		width = 80
	}
	if renderer, err := glamour.NewTermRenderer(
		glamour.WithStylePath(m.glamourStyle()),
		glamour.WithWordWrap(width),
	); err == nil {
		m.renderer = renderer
	}
	m.refreshViewport()
}

func (m *Model) glamourStyle() string {
	if m.styles.Theme.IsDark {
		return "dark"
	}
	return "light"
}

// shutdown saves state and releases the connection before quitting.
func (m *Model) shutdown() {
	if m.isLoading && m.disp != nil {
		m.disp.Interrupt("session closed")
		m.isLoading = false
		if m.sched != nil {
			m.entries = m.sched.Entries()
		}
	}
	m.persistSession()
	if m.sched != nil {
		m.sched.Dispose()
	}
	m.client.Close()
	if m.archive != nil {
		m.archive.Close()
	}
	logging.Close()
}
