package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediadex/pkg/auth"
	"mediadex/pkg/catalog"
	"mediadex/pkg/checkpoint"
	"mediadex/pkg/config"
	"mediadex/pkg/live"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/source"
	"mediadex/pkg/syncer"
	"mediadex/pkg/ui"
	"mediadex/pkg/ui/tui"
)

var (
	watchAccount   string
	watchUnitLimit int
	watchTUI       bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live catalog updates",
	Long: `Attach to the archive's update feed and persist new items as they
appear. Before following the feed, a short sampling pass sorts units
into quiet and active, and active ones get a paced warm-up backfill so
the feed starts from known ground.

Watching runs until interrupted. High-water marks are saved on the way
out, so the next sync resumes where the watch stopped.

Panels do not publish an update feed; sync them on a schedule instead.`,
	Example: `  # Watch the default archive account
  mediadex watch

  # Watch a named account in the full-screen UI
  mediadex watch --account home --tui`,
	Args: cobra.NoArgs,
	Run:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchAccount, "account", "a", "", "use a specific stored account")
	watchCmd.Flags().IntVar(&watchUnitLimit, "unit-limit", 0, "cap how many units are followed (0 = config default)")
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "full-screen terminal UI with live progress")
}

func runWatch(cmd *cobra.Command, args []string) {
	flags := make(map[string]interface{})
	if watchUnitLimit > 0 {
		flags["unit-limit"] = watchUnitLimit
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		ui.PrintError("failed to load configuration", err.Error())
		os.Exit(1)
	}

	account, err := resolveAccount(cfg, watchAccount, "")
	if err != nil {
		ui.PrintError("no usable credentials found", err.Error())
		os.Exit(1)
	}
	if account.Source != models.SourceChatArchive {
		ui.PrintError(fmt.Sprintf("%s does not publish an update feed", account.Source),
			"run 'mediadex sync' on a schedule to keep panel catalogs fresh")
		os.Exit(1)
	}

	log := logger.GetLogger()
	log.WithField("account", account.Name).Info("mediadex watch starting")

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

	var final syncer.Status
	var watchErr error
	if watchTUI {
		terminal := tui.New(string(account.Source), "watching")

		tctx, cancel := context.WithCancel(ctx)
		resCh := make(chan runResult, 1)
		go func() {
			st, err := watchOnce(tctx, cfg, account, catalogStore, ckpts, terminal, log)
			resCh <- runResult{Content: models.ContentMedia, Status: st, Err: err}
		}()

		if err := terminal.Run(); err != nil {
			ui.PrintError("terminal UI failed", err.Error())
		}
		cancel()
		res := <-resCh
		final, watchErr = res.Status, res.Err
	} else {
		if !quiet {
			ui.PrintInfo("Account", fmt.Sprintf("%s (%s)", account.Name, account.Source))
			ui.PrintHighlight("Watching for updates, press Ctrl+C to stop")
		}
		renderer := ui.NewSyncProgress(runLabel(account.Source, models.ContentMedia), quiet)
		final, watchErr = watchOnce(ctx, cfg, account, catalogStore, ckpts, renderer, log)
	}

	switch final.State {
	case syncer.StateCancelled:
		ui.PrintSuccess(fmt.Sprintf("watch stopped, %d items persisted", final.ItemsPersisted))
	case syncer.StateCompleted:
		ui.PrintSuccess(fmt.Sprintf("update feed ended, %d items persisted", final.Persisted))
	case syncer.StateError:
		ui.PrintError("watch failed: "+final.Reason, final.Message)
		os.Exit(1)
	default:
		if watchErr != nil {
			ui.PrintError("watch failed", watchErr.Error())
			os.Exit(1)
		}
	}
}

// watchOnce wires the live stream through the orchestrator and blocks
// until the feed ends or the context is cancelled.
func watchOnce(ctx context.Context, cfg *config.Config, account *auth.Account, cat *catalog.Store, ckpts *checkpoint.Store, renderer ui.StatusRenderer, log logger.Logger) (syncer.Status, error) {
	src, err := source.New(*account, models.ContentMedia, sourceOptions(cfg, account.Source), log)
	if err != nil {
		return syncer.Status{}, fmt.Errorf("building %s client: %w", account.Source, err)
	}

	// Seed the stream with stored high-water marks so warm-ups only
	// backfill what syncs have not already covered.
	marks, err := cat.UnitMarks(account.Source)
	if err != nil {
		log.WithError(err).Warn("could not load unit marks, warm-ups start from scratch")
		marks = nil
	}

	var pace time.Duration
	if cfg.Live.BackfillPerSec > 0 {
		pace = time.Duration(float64(time.Second) / cfg.Live.BackfillPerSec)
	}
	stream := live.New(src, live.Config{
		SampleSize:     cfg.Live.SeedSampleSize,
		NoisyThreshold: cfg.Live.NoisyPerMinute,
		ActiveWindow:   cfg.Live.ActiveWindow,
		WarmupLimit:    cfg.Live.WarmupLimit,
		WarmupWorkers:  cfg.Live.BackfillWorkers,
		WarmupPace:     pace,
		UnitLimit:      cfg.Sync.UnitLimit,
		Marks:          marks,
	}, log)

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

	err = orch.Watch(ctx, syncer.SyncRequest{Mode: syncer.ModeExpertNow, ContentType: models.ContentMedia}, stream)
	<-drained
	return final, err
}
