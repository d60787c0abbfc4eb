package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ttsdeck/internal/catalog"
)

var forceRefreshFlag bool
var searchLimitFlag int

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local card catalog",
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the latest bulk card data",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), globalConfig)
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.catalog.Refresh(cmd.Context(), forceRefreshFlag)
		if err != nil {
			return err
		}
		if !stats.Refreshed {
			fmt.Printf("Catalog generation %d is still fresh; use --force to refresh anyway.\n", stats.Generation)
			return nil
		}
		fmt.Printf("Catalog refreshed: generation %d, %d cards (%d skipped) in %s.\n",
			stats.Generation, stats.Loaded, stats.Skipped, stats.Duration.Round(time.Second))
		return nil
	},
}

var catalogStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted catalog generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), globalConfig)
		if err != nil {
			return err
		}
		defer app.Close()

		gens, err := app.catalogStore.Generations(cmd.Context())
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			fmt.Println("No catalog downloaded yet. Run: ttsdeck catalog refresh")
			return nil
		}
		for _, gen := range gens {
			marker := " "
			if gen.Current {
				marker = "*"
			}
			fmt.Printf("%s generation %d: %d cards (%s), downloaded %s\n",
				marker, gen.ID, gen.CardCount, gen.BulkType, gen.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search card names and rules text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !globalConfig.Catalog.SearchIndex {
			return fmt.Errorf("the search index is disabled (catalog.searchindex = false)")
		}
		app, err := newApp(cmd.Context(), globalConfig)
		if err != nil {
			return err
		}
		defer app.Close()

		hits, err := app.searchIndex.Search(strings.Join(args, " "), searchLimitFlag)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No cards matched.")
			return nil
		}

		snap, err := app.catalog.Snapshot()
		if err != nil {
			return err
		}
		for _, hit := range hits {
			line := hit.Name
			if entry, lerr := lookupHit(snap, hit); lerr == nil {
				line = fmt.Sprintf("%s (%s #%s)", entry.Name, entry.SetCode, entry.CollectorNumber)
			}
			fmt.Printf("%6.2f  %s\n", hit.Score, line)
		}
		return nil
	},
}

func lookupHit(snap *catalog.Snapshot, hit catalog.SearchResult) (*catalog.Entry, error) {
	id, err := uuid.Parse(hit.CardID)
	if err != nil {
		return nil, err
	}
	return snap.LookupByID(id)
}

func init() {
	catalogRefreshCmd.Flags().BoolVar(&forceRefreshFlag, "force", false, "Refresh even if the current generation is fresh")
	catalogSearchCmd.Flags().IntVar(&searchLimitFlag, "limit", 10, "Maximum number of results")
	catalogCmd.AddCommand(catalogRefreshCmd, catalogStatusCmd, catalogSearchCmd)
	rootCmd.AddCommand(catalogCmd)
}
