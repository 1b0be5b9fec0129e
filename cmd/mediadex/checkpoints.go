package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediadex/pkg/checkpoint"
	"mediadex/pkg/models"
	"mediadex/pkg/source"
	"mediadex/pkg/ui"
)

var (
	cpSource  string
	cpAccount string
	cpContent string
)

// checkpointsCmd represents the checkpoints command
var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage sync state",
	Long: `Inspect the per-account sync checkpoints.

A checkpoint records when a source/account/content combination last
synced, what the run found, and the catalog version the source reported.
Incremental syncs build on this state; resetting it forces the next sync
to walk the full catalog again.`,
}

// checkpointsListCmd represents the checkpoints list command
var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints",
	Run:   runCheckpointsList,
}

// checkpointsResetCmd represents the checkpoints reset command
var checkpointsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Force the next sync to walk the full catalog",
	Long: `Mark checkpoints so the next sync ignores incremental state.

The stored items stay in the catalog; only the resume state is affected.
Without --content, every content type the account has synced is marked.`,
	Example: `  # Rescan everything the panel account has
  mediadex checkpoints reset --source paneltv --account tv

  # Rescan only its VOD catalog
  mediadex checkpoints reset --source paneltv --account tv --content vod`,
	Args: cobra.NoArgs,
	Run:  runCheckpointsReset,
}

// checkpointsDeleteCmd represents the checkpoints delete command
var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an account's checkpoints",
	Long: `Delete all checkpoints for a source/account combination.

This removes the sync history entirely. The next sync behaves like the
first one ever run for that account.`,
	Args: cobra.NoArgs,
	Run:  runCheckpointsDelete,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsResetCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)

	checkpointsCmd.PersistentFlags().StringVar(&cpSource, "source", "", "filter by source type (chatarchive, paneltv)")
	checkpointsCmd.PersistentFlags().StringVar(&cpAccount, "account", "", "filter by account name")
	checkpointsResetCmd.Flags().StringVar(&cpContent, "content", "", "reset a single content type (media, live, vod)")
}

// openCheckpoints loads configuration and opens the checkpoint store.
func openCheckpoints() *checkpoint.Store {
	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("failed to load configuration", err.Error())
		os.Exit(1)
	}
	ckpts, err := checkpoint.NewStore(cfg.Storage.CheckpointPath())
	if err != nil {
		ui.PrintError("failed to open checkpoint store", err.Error())
		os.Exit(1)
	}
	return ckpts
}

func checkpointSourceFlag() models.SourceType {
	switch strings.ToLower(cpSource) {
	case string(models.SourceChatArchive):
		return models.SourceChatArchive
	case string(models.SourcePanelTV):
		return models.SourcePanelTV
	default:
		ui.PrintError("Unknown source type", fmt.Sprintf("%q is not one of: chatarchive, paneltv", cpSource))
		os.Exit(1)
		return ""
	}
}

func runCheckpointsList(cmd *cobra.Command, args []string) {
	ckpts := openCheckpoints()
	defer ckpts.Close()

	all, err := ckpts.List()
	if err != nil {
		ui.PrintError("failed to list checkpoints", err.Error())
		os.Exit(1)
	}

	cps := all[:0]
	for _, cp := range all {
		if cpSource != "" && cp.Source != models.SourceType(strings.ToLower(cpSource)) {
			continue
		}
		if cpAccount != "" && cp.AccountID != cpAccount {
			continue
		}
		cps = append(cps, cp)
	}

	if len(cps) == 0 {
		ui.PrintInfo("No checkpoints stored", "Run 'mediadex sync' to create them")
		return
	}

	ui.PrintHighlight("Sync Checkpoints")
	fmt.Println()

	for i, cp := range cps {
		mode := "full"
		if cp.WasIncremental {
			mode = "incremental"
		}

		fmt.Printf("%d. %s\n", i+1, cp.Key.String())
		fmt.Printf("   Last sync: %s (%s, %s)\n", formatMs(cp.LastSyncCompleteMs), mode, formatSyncDuration(cp.LastSyncDurationMs))
		fmt.Printf("   Items: %d (+%d new, ~%d updated, -%d deleted)\n", cp.ItemCount, cp.NewItemCount, cp.UpdatedItemCount, cp.DeletedItemCount)
		fmt.Printf("   Generation: %d\n", cp.Generation)
		if cp.Etag != "" {
			fmt.Printf("   Etag: %s\n", cp.Etag)
		}
		if cp.ForcedFullSync {
			fmt.Printf("   %s\n", ui.Yellow("Full rescan pending"))
		}
		if cp.LastError != "" {
			fmt.Printf("   %s\n", ui.Red(fmt.Sprintf("Last error (%d in a row): %s", cp.ConsecutiveFailures, cp.LastError)))
		}
		fmt.Println()
	}
}

func runCheckpointsReset(cmd *cobra.Command, args []string) {
	if cpSource == "" || cpAccount == "" {
		ui.PrintError("Both --source and --account are required", "run 'mediadex checkpoints list' to see what is stored")
		os.Exit(1)
	}
	sourceType := checkpointSourceFlag()

	ckpts := openCheckpoints()
	defer ckpts.Close()

	var keys []checkpoint.Key
	if cpContent != "" {
		content := models.ContentType(strings.ToLower(cpContent))
		valid := false
		for _, ct := range source.ContentTypes(sourceType) {
			if ct == content {
				valid = true
			}
		}
		if !valid {
			ui.PrintError("Invalid content type", fmt.Sprintf("%s does not sync %q content", sourceType, cpContent))
			os.Exit(1)
		}
		keys = []checkpoint.Key{{Source: sourceType, AccountID: cpAccount, ContentType: content}}
	} else {
		cps, err := ckpts.GetForAccount(sourceType, cpAccount)
		if err != nil {
			ui.PrintError("failed to read checkpoints", err.Error())
			os.Exit(1)
		}
		if len(cps) == 0 {
			ui.PrintInfo("No checkpoints for this account", "the next sync is a full scan already")
			return
		}
		for _, cp := range cps {
			keys = append(keys, cp.Key)
		}
	}

	for _, key := range keys {
		if err := ckpts.ForceFullSync(key); err != nil {
			ui.PrintError("failed to reset "+key.String(), err.Error())
			os.Exit(1)
		}
	}
	ui.PrintSuccess(fmt.Sprintf("Marked %d checkpoint(s), the next sync walks the full catalog", len(keys)))
}

func runCheckpointsDelete(cmd *cobra.Command, args []string) {
	if cpSource == "" || cpAccount == "" {
		ui.PrintError("Both --source and --account are required", "run 'mediadex checkpoints list' to see what is stored")
		os.Exit(1)
	}
	sourceType := checkpointSourceFlag()

	ckpts := openCheckpoints()
	defer ckpts.Close()

	cps, err := ckpts.GetForAccount(sourceType, cpAccount)
	if err != nil {
		ui.PrintError("failed to read checkpoints", err.Error())
		os.Exit(1)
	}
	if len(cps) == 0 {
		ui.PrintInfo("No checkpoints for this account", "")
		return
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Delete %d checkpoint(s) for %s/%s? (y/N): ", len(cps), sourceType, cpAccount)
	input, _ := reader.ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
		return
	}

	if err := ckpts.DeleteForAccount(sourceType, cpAccount); err != nil {
		ui.PrintError("failed to delete checkpoints", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Deleted %d checkpoint(s) for %s/%s", len(cps), sourceType, cpAccount))
}

// formatMs renders a millisecond timestamp, or "never" for the zero value.
func formatMs(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func formatSyncDuration(ms int64) string {
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
