package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	settingsPath string
	stateFile    string
	provider     string
	model        string
	limit        int
	headless     bool
	debugMode    bool
	historySize  int
)

var rootCmd = &cobra.Command{
	Use:   "note-drafter",
	Short: "Turn Ready notes in Notion into note.com drafts",
	Long: `Fetches Ready items from a Notion database, writes an article for each
with a language model, renders a header image and saves the result as a
draft on note.com using a stored browser session. Published items are
marked Done.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		SetDebugMode(debugMode)

		cfg, err := LoadConfig(buildOverrides(cmd))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		processor, closeFn, err := NewDraftProcessor(cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		processor.Limit = limit

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := processor.Run(ctx)
		if summary != nil {
			PrintSummary(os.Stdout, summary)
		}
		if err != nil {
			return err
		}
		if code := summary.ExitCode(); code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent post outcomes from the run ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		SetDebugMode(debugMode)
		cfg, err := LoadConfig(buildOverrides(cmd))
		if err != nil {
			return err
		}
		if cfg.Settings.Ledger.Path == "" {
			return errors.New("ledger is disabled (ledger.path is empty)")
		}
		ledger, err := OpenLedger(cfg.Settings.Ledger.Path)
		if err != nil {
			return err
		}
		defer ledger.Close()

		entries, err := ledger.Recent(historySize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-16s %-10s %s", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Outcome, e.ItemID, e.Title)
			if e.PostURL != "" {
				line += "  " + e.PostURL
			}
			if e.NeedsReconcile {
				line += "  [reconcile]"
			}
			if e.Error != "" {
				line += "  (" + e.Error + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("run finished with exit code %d", e.code)
}

func buildOverrides(cmd *cobra.Command) *ConfigOverrides {
	overrides := &ConfigOverrides{}
	flags := cmd.Flags()
	if flags.Changed("settings") {
		overrides.SettingsPath = &settingsPath
	}
	if flags.Changed("state-file") {
		overrides.StateFile = &stateFile
	}
	if flags.Changed("provider") {
		overrides.Provider = &provider
	}
	if flags.Changed("model") {
		overrides.Model = &model
	}
	if flags.Changed("headless") {
		overrides.Headless = &headless
	}
	return overrides
}

// NewDraftProcessor wires the production components. The returned func
// releases the ledger.
func NewDraftProcessor(cfg *Config) (*DraftProcessor, func(), error) {
	prompts, err := LoadPrompts(cfg.Settings)
	if err != nil {
		return nil, nil, err
	}
	completer, err := NewCompleter(cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Using %s model %s", cfg.Settings.Generation.Provider, cfg.Model)

	notion := NewNotionClient(cfg)
	sessions := NewSessionStore(cfg.Settings.Session.StateFile, cfg.Env.StateB64)

	dp := &DraftProcessor{
		Source:   NewContentFetcher(notion, cfg.Settings.Notion.ReadyValue),
		Writer:   NewWriter(completer, prompts, cfg.Model),
		Renderer: NewImageRenderer(cfg.Settings),
		Updater:  NewNotionUpdater(notion, cfg.Settings.Notion.DoneValue),
		Sessions: sessions,
		Timeouts: cfg.Settings.Timeouts,
	}

	dp.OpenPublisher = func(ctx context.Context) (DraftPublisher, error) {
		page, err := OpenChromePage(ctx, cfg.Settings)
		if err != nil {
			return nil, err
		}
		opts := NewPublisherOptions(cfg.Settings)
		// An env-supplied session has no file to refresh.
		if cfg.Settings.Session.Refresh && cfg.Env.StateB64 == "" {
			opts.Sessions = sessions
		}
		return NewPublisher(page, opts), nil
	}

	closeFn := func() {}
	if path := cfg.Settings.Ledger.Path; path != "" {
		ledger, err := OpenLedger(path)
		if err != nil {
			log.Printf("⚠ Run ledger disabled: %v", err)
		} else {
			dp.Ledger = ledger
			closeFn = func() { ledger.Close() }
		}
	}
	return dp, closeFn, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to settings file (must exist)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&stateFile, "state-file", "", "Path to the browser session file")
	rootCmd.Flags().StringVar(&provider, "provider", "", "Generation provider (openai, anthropic)")
	rootCmd.Flags().StringVar(&model, "model", "", "Model name (empty uses the provider default)")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "Process at most this many items")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser without a window")
	historyCmd.Flags().IntVar(&historySize, "n", 20, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		log.Printf("✗ %v", err)
		os.Exit(1)
	}
}
