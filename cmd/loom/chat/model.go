// Package chat provides the interactive TUI for loom. This file contains
// model construction and the message plumbing between the background
// collaborators (gateway read loop, commit scheduler) and the bubbletea
// update loop.
package chat

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"codeloom/cmd/loom/config"
	"codeloom/cmd/loom/ui"
	"codeloom/internal/commit"
	"codeloom/internal/gateway"
	"codeloom/internal/logging"
	"codeloom/internal/store"
	"codeloom/internal/stream"
	"codeloom/internal/transcript"
)

// =============================================================================
// MESSAGES
// =============================================================================
// Everything the background goroutines produce is funneled through channels
// into tea.Msgs, so the dispatcher and the model state are only ever touched
// from the update loop.

type snapshotMsg struct{ snap commit.Snapshot }

// ConfigChanged is sent from outside the program when config.json is edited
// while the TUI runs.
type ConfigChanged struct{ Cfg config.Config }

type gatewayEventMsg struct{ ev stream.Event }

type gatewayStateMsg struct{ state gateway.ConnectionState }

type gatewayErrMsg struct{ err error }

// Model is the top-level bubbletea model for the chat session.
type Model struct {
	cfg       config.Config
	workspace string
	sessionID string

	client  *gateway.Client
	sched   *commit.Scheduler
	disp    *stream.Dispatcher
	archive *store.ArchiveStore

	// Latest committed transcript, already cloned by the scheduler sink.
	entries   []transcript.Entry
	streamErr string
	turnDone  bool

	snapshots chan commit.Snapshot
	gatewayCh chan tea.Msg

	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
	styles    ui.Styles

	isLoading bool
	turnCount int
	costUSD   float64
	status    string
	width     int
	height    int
	ready     bool
}

// New constructs the chat model and its collaborators. The gateway
// connection is established lazily in Init.
func New(cfg config.Config) *Model {
	workspace, _ := os.Getwd()

	styles := ui.NewStyles(ui.ForName(cfg.Theme))

	ti := textinput.New()
	ti.Placeholder = "Ask me anything... (Enter to send, Esc to interrupt, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "| "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	var renderer *glamour.TermRenderer
	if styles.Theme.IsDark {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(80),
		)
	} else {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(80),
		)
	}

	archive, err := store.NewArchiveStore(archivePath(workspace))
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("archive store unavailable: %v", err)
		archive = nil
	}

	m := &Model{
		cfg:       cfg,
		workspace: workspace,
		sessionID: uuid.NewString(),
		client:    gateway.NewClient(cfg.GatewayURL),
		archive:   archive,
		snapshots: make(chan commit.Snapshot, 1),
		gatewayCh: make(chan tea.Msg, 256),
		viewport:  vp,
		textinput: ti,
		spinner:   sp,
		renderer:  renderer,
		styles:    styles,
		status:    "connecting...",
	}

	m.client.OnEvent(func(ev stream.Event) {
		m.gatewayCh <- gatewayEventMsg{ev: ev}
	})
	m.client.OnStateChange(func(s gateway.ConnectionState) {
		m.gatewayCh <- gatewayStateMsg{state: s}
	})
	m.client.OnStreamError(func(err error) {
		m.gatewayCh <- gatewayErrMsg{err: err}
	})

	return m
}

// Init connects to the gateway and starts the channel pumps. Each pump is
// issued exactly once here and re-issued only from its own message handler,
// so the channels always have a single reader.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		m.connectCmd(),
		m.waitForGateway(),
		m.waitForSnapshot(),
	)
}

func (m *Model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.client.Connect(ctx); err != nil {
			return gatewayErrMsg{err: err}
		}
		return nil
	}
}

// waitForGateway pumps one message from the gateway channel into the update
// loop; Update re-issues it after every receipt.
func (m *Model) waitForGateway() tea.Cmd {
	return func() tea.Msg {
		return <-m.gatewayCh
	}
}

// waitForSnapshot pumps one committed snapshot into the update loop.
func (m *Model) waitForSnapshot() tea.Cmd {
	ch := m.snapshots
	return func() tea.Msg {
		return snapshotMsg{snap: <-ch}
	}
}

// pushSnapshot delivers a snapshot with latest-wins semantics: if the update
// loop is behind, the stale buffered snapshot is replaced rather than making
// the scheduler wait.
func (m *Model) pushSnapshot(snap commit.Snapshot) {
	for {
		select {
		case m.snapshots <- snap:
			return
		default:
			select {
			case <-m.snapshots:
			default:
			}
		}
	}
}

// beginTurn builds the per-turn scheduler and dispatcher, seeded with the
// committed transcript so far, and kicks off the request.
func (m *Model) beginTurn(userText string) error {
	interval := time.Duration(m.cfg.FlushIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = commit.DefaultInterval
	}

	m.sched = commit.NewScheduler(
		transcript.CloneEntries(m.entries),
		m.pushSnapshot,
		commit.WithInterval(interval),
	)
	m.disp = stream.NewDispatcher(stream.Config{
		Scheduler: m.sched,
		OnCost:    func(usd float64) { m.costUSD += usd },
	})
	m.disp.BeginTurn(userText)

	if err := m.client.SendChat(userText, m.sessionID); err != nil {
		m.disp.Interrupt(err)
		return err
	}

	m.isLoading = true
	m.turnDone = false
	m.status = "thinking..."
	return nil
}
