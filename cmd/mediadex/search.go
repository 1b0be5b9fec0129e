package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mediadex/pkg/catalog"
	"mediadex/pkg/ui"
	"mediadex/pkg/ui/tui"
)

var searchLimit int

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the local catalog",
	Long: `Search synced items by title.

Matching is fuzzy: "brk bad" finds "Breaking Bad". Results are ranked by
how well they match, best first. Only the local catalog is consulted, so
searching works offline.`,
	Example: `  # Find something to watch
  mediadex search breaking bad

  # More results
  mediadex search concert --limit 50`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum number of results")
}

func runSearch(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("failed to load configuration", err.Error())
		os.Exit(1)
	}

	store, err := catalog.NewStore(cfg.Storage.CatalogPath())
	if err != nil {
		ui.PrintError("failed to open catalog store", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	query := strings.Join(args, " ")
	items, err := store.Search(query, searchLimit)
	if err != nil {
		ui.PrintError("search failed", err.Error())
		os.Exit(1)
	}

	if len(items) == 0 {
		ui.PrintInfo("No matches", fmt.Sprintf("nothing in the catalog matches %q", query))
		return
	}

	for i, item := range items {
		fmt.Printf("%2d. %s\n", i+1, item.Title)

		details := make([]string, 0, 4)
		if item.HasMedia() {
			details = append(details, string(item.Kind))
		}
		details = append(details, fmt.Sprintf("%s/%s", item.Source, item.ContentType))
		if item.SizeBytes > 0 {
			details = append(details, tui.FormatBytes(item.SizeBytes))
		}
		if !item.AddedAt.IsZero() {
			details = append(details, item.AddedAt.Format("2006-01-02"))
		}
		fmt.Printf("    %s\n", ui.Dim(strings.Join(details, " · ")))
	}

	fmt.Println()
	fmt.Println(ui.Dim(fmt.Sprintf("%d result(s) for %q", len(items), query)))
}
