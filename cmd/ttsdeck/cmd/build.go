package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ttsdeck/internal/builder"
	"ttsdeck/internal/progress"
)

var rebuildFlag bool

var buildCmd = &cobra.Command{
	Use:   "build <url | file | ->",
	Short: "Build a Tabletop Simulator deck from a decklist",
	Long: `Build renders a decklist into sheet images and a Tabletop Simulator
saved object. The argument is a deck site URL (e.g. an Archidekt deck),
a path to a plain text decklist, or - to read the list from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&rebuildFlag, "rebuild", false, "Discard the cached decklist resolution and rebuild")
	rootCmd.AddCommand(buildCmd)
}

// readSource turns the argument into builder input: URLs pass through,
// anything else is read as a file (or stdin for -).
func readSource(arg string) (string, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return arg, nil
	}
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading decklist from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("reading decklist file %s: %w", arg, err)
	}
	return string(data), nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, err := readSource(args[0])
	if err != nil {
		return err
	}

	app, err := newApp(ctx, globalConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.requireCatalog(ctx); err != nil {
		return err
	}

	start := app.builder.Start
	if rebuildFlag {
		start = app.builder.Rebuild
	}

	deckID := builder.DeckID(source)
	sub := app.bus.Subscribe(deckID)
	defer sub.Close()

	if _, err := start(ctx, source); err != nil {
		return err
	}
	log.Infof("Building deck %s", deckID)

	if err := watchBuild(sub); err != nil {
		return err
	}

	build, err := app.builder.Status(deckID)
	if err != nil {
		return err
	}
	fmt.Printf("Built %q: %d sheets in %s\n", build.Title, build.SheetCount, app.output.Dir(deckID))
	fmt.Printf("Load %s into Tabletop Simulator as a saved object.\n", app.output.Dir(deckID)+"/deck.json")
	return nil
}

// watchBuild renders progress events on a live terminal line until the
// build reaches a terminal state.
func watchBuild(sub *progress.Subscription) error {
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	for ev := range sub.Events() {
		switch ev.Kind {
		case progress.KindLoading:
			fmt.Fprintln(writer, "Resolving decklist...")
		case progress.KindRenderingImages:
			fmt.Fprintf(writer, "Fetching card images: %d/%d\n", ev.Done, ev.Total)
		case progress.KindSavingPages:
			fmt.Fprintf(writer, "Saving sheets: %d/%d\n", ev.Done, ev.Total)
		case progress.KindComplete:
			fmt.Fprintln(writer, "Done.")
			return nil
		case progress.KindError:
			fmt.Fprintln(writer, "Build failed.")
			return fmt.Errorf("build failed: %s", ev.Message)
		}
	}
	return fmt.Errorf("progress stream ended before the build finished")
}
