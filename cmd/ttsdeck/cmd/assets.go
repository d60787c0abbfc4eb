package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var purgeYesFlag bool

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Manage the local card image cache",
}

var assetsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the size of the image cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), globalConfig)
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.cache.Store().Stats()
		if err != nil {
			return err
		}
		fmt.Printf("%d cached images, %s under %s\n",
			stats.Files, formatBytes(stats.Bytes), app.cache.Store().Root())
		return nil
	},
}

var assetsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached card image",
	Long: `Purge empties the image cache. Images are refetched on demand during
the next build; nothing else expires them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), globalConfig)
		if err != nil {
			return err
		}
		defer app.Close()

		if !purgeYesFlag {
			stats, err := app.cache.Store().Stats()
			if err != nil {
				return err
			}
			fmt.Printf("About to delete %d cached images (%s). Continue? [y/N] ",
				stats.Files, formatBytes(stats.Bytes))
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
				fmt.Println("Aborted.")
				return nil
			}
		}

		stats, err := app.cache.Store().Purge()
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d images (%s).\n", stats.Files, formatBytes(stats.Bytes))
		return nil
	},
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	assetsPurgeCmd.Flags().BoolVarP(&purgeYesFlag, "yes", "y", false, "Skip the confirmation prompt")
	assetsCmd.AddCommand(assetsStatsCmd, assetsPurgeCmd)
	rootCmd.AddCommand(assetsCmd)
}
