package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codeloom/cmd/loom/chat"
	"codeloom/cmd/loom/config"
	"codeloom/internal/logging"
	"codeloom/internal/session"
	"codeloom/internal/store"
)

var version = "0.3.0"

var (
	// Global flags
	verbose    bool
	gatewayURL string
	resume     bool

	// Logger for non-interactive commands
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "loom - interactive terminal coding assistant",
	Long: `loom is an interactive terminal client for an agent-execution backend.

It renders the live transcript of a coding session as a nested document:
streamed text, model reasoning, tool calls with their results, and the
sub-agents a turn spawns, all updated in place as events arrive.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The interactive chat has its own file-based logging.
		if cmd.CalledAs() == "loom" {
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat()
	},
}

// sessionsCmd lists saved sessions.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions in this workspace",
	RunE:  listSessions,
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the loom version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loom %s\n", version)
	},
}

func runInteractiveChat() error {
	cfg, _ := config.Load()
	if gatewayURL != "" {
		cfg.GatewayURL = gatewayURL
	}

	workspace, _ := os.Getwd()
	if err := logging.Initialize(workspace); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging disabled: %v\n", err)
	}
	logging.Boot("loom %s starting, gateway %s", version, cfg.GatewayURL)

	model := chat.New(cfg)
	if resume {
		model.ResumeLatest()
	}

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Apply config edits live while the TUI runs.
	if path, cerr := config.ConfigFile(); cerr == nil {
		if watcher, werr := config.NewWatcher(path, func(cfg config.Config) {
			_ = logging.ReloadConfig()
			p.Send(chat.ConfigChanged{Cfg: cfg})
		}); werr == nil {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if serr := watcher.Start(ctx); serr == nil {
				defer watcher.Stop()
			}
		}
	}

	_, err := p.Run()
	return err
}

// listSessions prints saved sessions from the JSON store, falling back to
// entry counts from the SQLite archive when available.
func listSessions(cmd *cobra.Command, args []string) error {
	workspace, err := os.Getwd()
	if err != nil {
		return err
	}

	states, err := session.List(workspace)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("No saved sessions.")
		return nil
	}

	counts := map[string]int{}
	if archive, aerr := store.NewArchiveStore(archiveDBPath(workspace)); aerr == nil {
		defer archive.Close()
		if sums, serr := archive.SessionSummaries(); serr == nil {
			for _, sum := range sums {
				counts[sum.SessionID] = sum.EntryCount
			}
		}
	}

	for _, st := range states {
		title := st.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-40s  %d turns  %d entries  $%.4f  %s\n",
			shortID(st.SessionID), title, st.TurnCount, counts[st.SessionID],
			st.CostUSD, st.LastActiveAt.Format(time.DateTime))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func archiveDBPath(workspace string) string {
	return filepath.Join(workspace, ".loom", "archive.db")
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "Gateway websocket URL (overrides config)")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "Resume the most recent session")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
