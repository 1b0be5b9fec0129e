package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediadex/pkg/auth"
	"mediadex/pkg/catalog"
	"mediadex/pkg/checkpoint"
	"mediadex/pkg/config"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/source"
	"mediadex/pkg/syncer"
	"mediadex/pkg/ui"
	"mediadex/pkg/ui/tui"
)

var (
	// Sync command flags
	syncAccount     string
	syncSource      string
	syncContent     string
	syncForceRescan bool
	syncClear       bool
	syncUnitLimit   int
	syncParallelism int
	syncBatchSize   int
	syncPageSize    int
	syncRateLimit   int
	syncDataDir     string
	syncTUI         bool
	syncNotify      bool
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync source catalogs into the local index",
	Long: `Scan a source and store everything it holds in the local catalog.

Credentials are resolved in order from:
  - A stored account named with --account
  - The sources section of the configuration file
  - The default account (environment variables, then the first stored one)

Without --content, every content type the source carries is synced in
turn: media for chat archives, live and vod for panels. Repeat syncs are
incremental; each unit resumes from its last high-water mark, and
--force-rescan discards that state to walk the full catalog again.`,
	Example: `  # Sync the default account
  mediadex sync

  # Sync a stored panel account's VOD catalog from scratch
  mediadex sync --account tv --content vod --force-rescan

  # Watch progress in the full-screen UI and get a desktop notification
  mediadex sync --tui --notify`,
	Args: cobra.NoArgs,
	Run:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	// Local flags for sync command
	syncCmd.Flags().StringVarP(&syncAccount, "account", "a", "", "use a specific stored account")
	syncCmd.Flags().StringVar(&syncSource, "source", "", "source type when reading credentials from config (chatarchive, paneltv)")
	syncCmd.Flags().StringVar(&syncContent, "content", "", "sync a single content type (media, live, vod)")
	syncCmd.Flags().BoolVar(&syncForceRescan, "force-rescan", false, "discard cached sync state and walk the full catalog")
	syncCmd.Flags().BoolVar(&syncClear, "clear", false, "delete previously synced items for this source first")
	syncCmd.Flags().IntVar(&syncUnitLimit, "unit-limit", 0, "cap how many units are scanned (0 = config default)")
	syncCmd.Flags().IntVar(&syncParallelism, "parallelism", 0, "concurrent unit scans (0 = config default)")
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "items per persistence batch (0 = config default)")
	syncCmd.Flags().IntVar(&syncPageSize, "page-size", 0, "items per source page (0 = config default)")
	syncCmd.Flags().IntVar(&syncRateLimit, "requests-per-minute", 0, "source request budget (0 = config default)")
	syncCmd.Flags().StringVar(&syncDataDir, "data-dir", "", "override the data directory")
	syncCmd.Flags().BoolVar(&syncTUI, "tui", false, "full-screen terminal UI with live progress")
	syncCmd.Flags().BoolVar(&syncNotify, "notify", false, "send a desktop notification when the sync finishes")
}

// runResult pairs one content-type run with its outcome.
type runResult struct {
	Content models.ContentType
	Status  syncer.Status
	Err     error
}

func runSync(cmd *cobra.Command, args []string) {
	// Build flags map from command line
	flags := make(map[string]interface{})
	if syncUnitLimit > 0 {
		flags["unit-limit"] = syncUnitLimit
	}
	if syncParallelism > 0 {
		flags["parallelism"] = syncParallelism
	}
	if syncBatchSize > 0 {
		flags["batch-size"] = syncBatchSize
	}
	if syncPageSize > 0 {
		flags["page-size"] = syncPageSize
	}
	if syncRateLimit > 0 {
		flags["requests-per-minute"] = syncRateLimit
	}
	if syncDataDir != "" {
		flags["data-dir"] = syncDataDir
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		ui.PrintError("failed to load configuration", err.Error())
		os.Exit(1)
	}

	account, err := resolveAccount(cfg, syncAccount, syncSource)
	if err != nil {
		ui.PrintError("no usable credentials found", err.Error())
		fmt.Println("\nTo link an account, run:")
		fmt.Println("  mediadex accounts add --name home --source chatarchive --server https://archive.example.net")
		fmt.Println("\nFor containers, set environment variables instead:")
		fmt.Println("  export MEDIADEX_SERVER_URL=https://archive.example.net")
		fmt.Println("  export MEDIADEX_SECRET=your_token")
		os.Exit(1)
	}

	contents, err := contentTypesFor(account, syncContent)
	if err != nil {
		ui.PrintError("invalid content type", err.Error())
		os.Exit(1)
	}

	log := logger.GetLogger()
	log.WithField("version", version).WithField("account", account.Name).Info("mediadex sync starting")

	if !syncTUI && !quiet {
		ui.PrintInfo("Account", fmt.Sprintf("%s (%s)", account.Name, account.Source))
	}

	catalogStore, err := catalog.NewStore(cfg.Storage.CatalogPath())
	if err != nil {
		ui.PrintError("failed to open catalog store", err.Error())
		os.Exit(1)
	}
	defer catalogStore.Close()

	ckpts, err := checkpoint.NewStore(cfg.Storage.CheckpointPath())
	if err != nil {
		ui.PrintError("failed to open checkpoint store", err.Error())
		os.Exit(1)
	}
	defer ckpts.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if syncClear {
		deleted, err := catalogStore.DeleteAll(account.Source)
		if err != nil {
			ui.PrintError("failed to clear catalog", err.Error())
			os.Exit(1)
		}
		if !quiet {
			ui.PrintWarning(fmt.Sprintf("cleared %d stored %s items", deleted, account.Source))
		}
	}

	mode := syncer.ModeExpertNow
	if syncForceRescan {
		mode = syncer.ModeForceRescan
	}

	var results []runResult
	if syncTUI {
		terminal := tui.New(string(account.Source), "syncing")

		tctx, cancel := context.WithCancel(ctx)
		resCh := make(chan []runResult, 1)
		go func() {
			resCh <- runSyncs(tctx, cfg, account, contents, mode, catalogStore, ckpts, terminal, log)
		}()

		// The screen stays up after the last run so the summary can be
		// read; quitting it cancels anything still in flight.
		if err := terminal.Run(); err != nil {
			ui.PrintError("terminal UI failed", err.Error())
		}
		cancel()
		results = <-resCh

		printRunSummaries(account, results)
	} else {
		results = runSyncs(ctx, cfg, account, contents, mode, catalogStore, ckpts, nil, log)
	}

	finishSync(account, results)
}

// runSyncs executes one sync per content type, sequentially, through the
// same stores. shared is the renderer every run reports to; nil creates a
// fresh progress line per run.
func runSyncs(ctx context.Context, cfg *config.Config, account *auth.Account, contents []models.ContentType, mode syncer.SyncMode, cat *catalog.Store, ckpts *checkpoint.Store, shared ui.StatusRenderer, log logger.Logger) []runResult {
	results := make([]runResult, 0, len(contents))

	for _, content := range contents {
		renderer := shared
		if renderer == nil {
			renderer = ui.NewSyncProgress(runLabel(account.Source, content), quiet)
		}

		final, err := runOneSync(ctx, cfg, account, content, mode, cat, ckpts, renderer, log)
		results = append(results, runResult{Content: content, Status: final, Err: err})

		if ctx.Err() != nil {
			break
		}
	}

	return results
}

// runOneSync wires one orchestrator run end to end and blocks until its
// status stream closes.
func runOneSync(ctx context.Context, cfg *config.Config, account *auth.Account, content models.ContentType, mode syncer.SyncMode, cat *catalog.Store, ckpts *checkpoint.Store, renderer ui.StatusRenderer, log logger.Logger) (syncer.Status, error) {
	src, err := source.New(*account, content, sourceOptions(cfg, account.Source), log)
	if err != nil {
		return syncer.Status{}, fmt.Errorf("building %s client: %w", account.Source, err)
	}

	orch := syncer.New(src, teePersister{cat, renderer}, ckpts, syncCfgFrom(cfg), log)

	var final syncer.Status
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for st := range orch.Status() {
			renderer.Observe(st)
			if st.Terminal() {
				final = st
			}
		}
	}()

	err = orch.Run(ctx, syncer.SyncRequest{Mode: mode, ContentType: content})
	<-drained
	return final, err
}

// printRunSummaries prints one line per finished run, for after the
// full-screen UI has torn down.
func printRunSummaries(account *auth.Account, results []runResult) {
	for _, res := range results {
		label := runLabel(account.Source, res.Content)
		st := res.Status
		switch st.State {
		case syncer.StateCompleted:
			if st.Discovered == 0 {
				ui.PrintSuccess(fmt.Sprintf("✓ %s: up to date", label))
			} else {
				ui.PrintSuccess(fmt.Sprintf("✓ %s: %d items stored", label, st.Persisted))
			}
		case syncer.StateCancelled:
			ui.PrintWarning(fmt.Sprintf("✗ %s: cancelled, %d items persisted", label, st.ItemsPersisted))
		case syncer.StateError:
			ui.PrintError(fmt.Sprintf("✗ %s: %s", label, st.Reason), st.Message)
		default:
			if res.Err != nil {
				ui.PrintError("✗ "+label, res.Err.Error())
			}
		}
	}
}

// finishSync turns per-run outcomes into the process exit: a desktop
// notification when asked for, and a non-zero exit when any run failed.
// User-initiated cancellation is a clean stop, not a failure.
func finishSync(account *auth.Account, results []runResult) {
	var persisted int64
	var failed, cancelled int
	for _, res := range results {
		switch res.Status.State {
		case syncer.StateCompleted:
			persisted += res.Status.Persisted
		case syncer.StateCancelled:
			persisted += res.Status.ItemsPersisted
			cancelled++
		case syncer.StateError:
			failed++
		default:
			if res.Err != nil {
				failed++
			}
		}
	}

	if syncNotify {
		notifier := ui.NewNotifier()
		switch {
		case failed > 0:
			notifier.SendError("mediadex", fmt.Sprintf("%s sync failed", account.Source))
		case cancelled > 0:
			notifier.SendNotification("mediadex", fmt.Sprintf("%s sync cancelled, %d items stored", account.Source, persisted))
		default:
			notifier.SendSuccess("mediadex", fmt.Sprintf("%s sync complete, %d items stored", account.Source, persisted))
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// teePersister forwards flushed batches to the renderer so the discovery
// feed shows what actually got persisted. Embedding keeps the store's
// optional capabilities (deletion detection, unit marks) visible to the
// orchestrator's type assertions.
type teePersister struct {
	*catalog.Store
	renderer ui.StatusRenderer
}

func (t teePersister) UpsertAll(items []models.CatalogItem) (int, int, error) {
	created, updated, err := t.Store.UpsertAll(items)
	if err == nil && t.renderer != nil {
		t.renderer.Discovered(items)
	}
	return created, updated, err
}

// resolveAccount picks the account a command talks to: an explicitly named
// stored account, credentials from the config tree, or the default from
// the credential chain, in that order.
func resolveAccount(cfg *config.Config, name, sourceFlag string) (*auth.Account, error) {
	switch sourceFlag {
	case "", string(models.SourceChatArchive), string(models.SourcePanelTV):
	default:
		return nil, fmt.Errorf("unknown source type %q (chatarchive, paneltv)", sourceFlag)
	}

	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("credential manager unavailable: %w", err)
	}

	if name != "" {
		account, err := manager.Retrieve(name)
		if err != nil {
			return nil, fmt.Errorf("account %q not found, run 'mediadex accounts list'", name)
		}
		return account, nil
	}

	if account := accountFromConfig(cfg, sourceFlag); account != nil {
		logger.GetLogger().WithField("source", string(account.Source)).Info("using credentials from configuration")
		return account, nil
	}

	account, err := manager.RetrieveDefault()
	if err != nil {
		return nil, err
	}
	if sourceFlag != "" && account.Source != models.SourceType(sourceFlag) {
		return nil, fmt.Errorf("default account %q is %s, pick a %s account with --account", account.Name, account.Source, sourceFlag)
	}
	return account, nil
}

// accountFromConfig builds an ephemeral account from the config tree.
// sourceFlag narrows which sources block is considered; empty tries the
// archive first and the panel second.
func accountFromConfig(cfg *config.Config, sourceFlag string) *auth.Account {
	ca := cfg.Sources.ChatArchive
	if (sourceFlag == "" || sourceFlag == string(models.SourceChatArchive)) && ca.BaseURL != "" && ca.Token != "" {
		return &auth.Account{
			Name:      "config",
			Source:    models.SourceChatArchive,
			ServerURL: ca.BaseURL,
			Secret:    ca.Token,
		}
	}

	tv := cfg.Sources.PanelTV
	if (sourceFlag == "" || sourceFlag == string(models.SourcePanelTV)) && tv.BaseURL != "" && tv.Username != "" && tv.Password != "" {
		return &auth.Account{
			Name:      "config",
			Source:    models.SourcePanelTV,
			ServerURL: tv.BaseURL,
			Username:  tv.Username,
			Secret:    tv.Password,
		}
	}

	return nil
}

// contentTypesFor expands the --content flag against what the account's
// source can sync. An empty flag syncs every content type the source has.
func contentTypesFor(account *auth.Account, flag string) ([]models.ContentType, error) {
	available := source.ContentTypes(account.Source)
	if len(available) == 0 {
		return nil, fmt.Errorf("unknown source type %q", account.Source)
	}
	if flag == "" {
		return available, nil
	}

	want := models.ContentType(strings.ToLower(flag))
	for _, ct := range available {
		if ct == want {
			return []models.ContentType{want}, nil
		}
	}
	return nil, fmt.Errorf("%s does not sync %q content (available: %s)", account.Source, flag, joinContentTypes(available))
}

func joinContentTypes(cts []models.ContentType) string {
	parts := make([]string, len(cts))
	for i, ct := range cts {
		parts[i] = string(ct)
	}
	return strings.Join(parts, ", ")
}

func runLabel(st models.SourceType, ct models.ContentType) string {
	return fmt.Sprintf("%s/%s", st, ct)
}

// sourceOptions maps the config tree onto adapter tuning.
func sourceOptions(cfg *config.Config, st models.SourceType) source.Options {
	timeout := cfg.Sources.ChatArchive.Timeout
	if st == models.SourcePanelTV {
		timeout = cfg.Sources.PanelTV.Timeout
	}
	return source.Options{
		Timeout:       timeout,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		RequestBudget: cfg.RateLimit.RequestsPerMinute,
		RequestWindow: time.Minute,
	}
}

func syncCfgFrom(cfg *config.Config) syncer.SyncConfig {
	return syncer.SyncConfig{
		BatchSize:         cfg.Sync.BatchSize,
		EmitProgressEvery: cfg.Sync.EmitProgressEvery,
		Parallelism:       cfg.Sync.Parallelism,
		PageSize:          cfg.Sync.PageSize,
		FlushInterval:     cfg.Sync.FlushInterval,
		UnitLimit:         cfg.Sync.UnitLimit,
		HeapLimitBytes:    int64(cfg.Memory.HeapLimitMB) << 20,
	}
}
