// Package cmd wires the CLI surface: flag parsing, config selection, and
// construction of the crawl/download pipeline.
package cmd

import (
	"fmt"

	"github.com/urfave/cli"
)

// BuildArgs carries version metadata injected at link time.
type BuildArgs struct {
	Version string
	Commit  string
	Date    string
}

var currentBuildArgs BuildArgs

var (
	links       cli.StringSlice
	inputFile   string
	configName  string
	multiConfig bool

	retryFailed      bool
	retryAll         bool
	retryMaintenance bool
	completedBefore  string
	completedAfter   string
	maxItemsRetry    int

	// downloadMode is accepted for compatibility with older invocations;
	// runs are non-interactive, so there is nothing to skip.
	downloadMode bool
	noProgress   bool

	runFlags = []cli.Flag{
		cli.StringSliceFlag{
			Name:  "links, l",
			Usage: "URL to crawl (repeatable)",
			Value: &links,
		},
		cli.StringFlag{
			Name:        "input-file, i",
			Usage:       "path to the URLs input file (defaults to the config's URLs.txt)",
			Destination: &inputFile,
		},
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "named config to run",
			Value:       "Default",
			Destination: &configName,
		},
		cli.BoolFlag{
			Name:        "multiconfig",
			Usage:       "run every named config sequentially",
			Destination: &multiConfig,
		},
		cli.BoolFlag{
			Name:        "retry-failed",
			Usage:       "re-run every failed item from history",
			Destination: &retryFailed,
		},
		cli.BoolFlag{
			Name:        "retry-all",
			Usage:       "re-scrape every completed item in the date range",
			Destination: &retryAll,
		},
		cli.BoolFlag{
			Name:        "retry-maintenance",
			Usage:       "re-download items whose hash matches a known-bad placeholder",
			Destination: &retryMaintenance,
		},
		cli.StringFlag{
			Name:        "completed-before",
			Usage:       "date bound for --retry-all (YYYY-MM-DD)",
			Destination: &completedBefore,
		},
		cli.StringFlag{
			Name:        "completed-after",
			Usage:       "date bound for --retry-all (YYYY-MM-DD)",
			Destination: &completedAfter,
		},
		cli.IntFlag{
			Name:        "max-items-retry",
			Usage:       "cap the number of retried items (0 = all)",
			Destination: &maxItemsRetry,
		},
		cli.BoolFlag{
			Name:        "download",
			Usage:       "start downloading immediately (kept for compatibility; runs never prompt)",
			Destination: &downloadMode,
		},
		cli.BoolFlag{
			Name:        "no-progress",
			Usage:       "disable progress bars",
			Destination: &noProgress,
		},
	}
)

// Execute runs the CLI.
func Execute(args []string, b BuildArgs) error {
	currentBuildArgs = b
	app := cli.App{
		Name:      "cyberdrop-dl",
		HelpName:  "cyberdrop-dl",
		Usage:     "bulk media crawler and downloader",
		UsageText: "cyberdrop-dl [options] [URL...]",
		Version:   fmt.Sprintf("%s (%s)", b.Version, b.Commit),
		Commands: []cli.Command{
			{
				Name:   "auth",
				Usage:  "manage stored site credentials",
				Flags:  authFlags,
				Action: authAction,
			},
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "print the installed version",
				Action: func(ctx *cli.Context) error {
					fmt.Printf("cyberdrop-dl %s %s %s\n", b.Version, b.Commit, b.Date)
					return nil
				},
			},
		},
		Action:                 run,
		Flags:                  runFlags,
		UseShortOptionHandling: true,
	}
	return app.Run(args)
}
