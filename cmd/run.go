package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/jbsparrow/cyberdrop-dl/internal/cache"
	"github.com/jbsparrow/cyberdrop-dl/internal/client"
	"github.com/jbsparrow/cyberdrop-dl/internal/config"
	"github.com/jbsparrow/cyberdrop-dl/internal/cookies"
	"github.com/jbsparrow/cyberdrop-dl/internal/dispatch"
	"github.com/jbsparrow/cyberdrop-dl/internal/downloader"
	"github.com/jbsparrow/cyberdrop-dl/internal/flaresolverr"
	"github.com/jbsparrow/cyberdrop-dl/internal/history"
	"github.com/jbsparrow/cyberdrop-dl/internal/rate"
	"github.com/jbsparrow/cyberdrop-dl/internal/scraper"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
)

func run(ctx *cli.Context) error {
	storage, err := config.OpenStorage()
	if err != nil {
		return err
	}

	names := []string{configName}
	if multiConfig {
		names, err = storage.ConfigNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			names = []string{"Default"}
		}
	}

	for _, name := range names {
		if err := runConfig(ctx, storage, name); err != nil {
			return err
		}
	}
	return nil
}

func runConfig(cliCtx *cli.Context, storage *config.Storage, name string) error {
	settings, err := config.Load(storage.SettingsPath(name))
	if err != nil {
		return err
	}
	if settings.DownloadFolder == "" {
		settings.DownloadFolder = filepath.Join(storage.Root, "Downloads", name)
	}

	logFile, err := os.OpenFile(
		filepath.Join(storage.LogsDir(), "cyberdrop.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644,
	)
	if err != nil {
		return err
	}
	defer logFile.Close()
	lg := logger.NewStandardLogger(log.New(io.MultiWriter(os.Stderr, logFile), "", log.LstdFlags))
	lg.Info("running config %q", name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := rate.NewGate()
	speedLimit, err := rate.ParseSpeedLimit(settings.DownloadSpeedLimit)
	if err != nil {
		return fmt.Errorf("config: download_speed_limit: %w", err)
	}
	slowSpeed, err := rate.ParseSpeedLimit(settings.SlowDownloadSpeed)
	if err != nil {
		return fmt.Errorf("config: slow_download_speed: %w", err)
	}
	gov := rate.New(rate.Config{
		DefaultRate: rate.HostRate{
			Capacity: settings.RateLimit,
			Period:   settings.RatePeriod.D(),
		},
		MaxSimultaneousDownloads:          settings.MaxSimultaneousDownloads,
		MaxSimultaneousDownloadsPerDomain: settings.MaxSimultaneousDownloadsPerDomain,
		DownloadSpeedLimit:                speedLimit,
	}, gate)

	store, err := cache.Open(storage.RequestCachePath())
	if err != nil {
		return err
	}
	defer store.Close()
	if n, err := store.PruneExpired(); err != nil {
		lg.Warning("cache prune: %v", err)
	} else if n > 0 {
		lg.Info("pruned %d expired cache entries", n)
	}
	policy := cache.Policy{
		FileHosts:   settings.FileHosts,
		Forums:      settings.Forums,
		FileHostTTL: time.Duration(settings.FileHostCacheExpireAfter) * 24 * time.Hour,
		ForumTTL:    time.Duration(settings.ForumCacheExpireAfter) * 24 * time.Hour,
		DefaultTTL:  time.Duration(config.DefFileHostCacheDays) * 24 * time.Hour,
	}

	jar := cookies.NewJar()
	for path, err := range jar.SeedFromDir(storage.CookiesDir()) {
		lg.Warning("cookie seed %s: %v", path, err)
	}

	var solver client.Solver
	if settings.FlareSolverr != "" {
		fs, err := flaresolverr.New(settings.FlareSolverr, settings.Proxy, lg)
		if err != nil {
			return err
		}
		solver = fs
		defer func() {
			if err := fs.Destroy(context.Background()); err != nil {
				lg.Warning("%v", err)
			}
		}()
	}

	cl, err := client.New(client.Config{
		UserAgent:      settings.UserAgent,
		Attempts:       settings.DownloadAttempts,
		Proxy:          settings.Proxy,
		TLSMode:        settings.TLSMode,
		ConnectTimeout: settings.ConnectTimeout.D(),
		Policy:         policy,
	}, gov, store, jar, solver, lg)
	if err != nil {
		return err
	}

	hist, err := history.Open(storage.HistoryPath())
	if err != nil {
		return err
	}
	defer hist.Close()

	var skipPattern *regexp.Regexp
	if settings.SkipPattern != "" {
		skipPattern, err = regexp.Compile(settings.SkipPattern)
		if err != nil {
			return fmt.Errorf("config: skip_pattern: %w", err)
		}
	}

	pr := newProgress(!noProgress)
	eng := downloader.New(downloader.Config{
		Attempts:          settings.DownloadAttempts,
		RequiredFreeSpace: settings.EffectiveFreeSpace(),
		SlowSpeedLimit:    slowSpeed,
		SlowSpeedWindow:   config.DefSlowSpeedSustained,
		SkipExtensions:    settings.SkipExts,
		SkipPattern:       skipPattern,
	}, cl, gov, hist, gate, lg, pr.handlers(lg))

	reg := scraper.NewRegistry()
	// Concrete site scrapers register here as they are implemented. The
	// generic and no_crawler fallbacks are owned by the dispatcher.

	after, before, err := parseDateRange()
	if err != nil {
		return err
	}

	disp := dispatch.New(dispatch.Config{
		DownloadFolder:       settings.DownloadFolder,
		ScrapeTimeout:        settings.ScrapeTimeout.D(),
		MaxConcurrentScrapes: settings.MaxSimultaneousDownloads,
		BlockedHosts:         settings.BlockedHosts,
		SkipHosts:            settings.SkipHosts,
		OnlyHosts:            settings.OnlyHosts,
		CompletedAfter:       after,
		CompletedBefore:      before,
		GenericEnabled:       settings.GenericCrawler,
		JDownloaderFolder:    settings.JDownloaderFolder,
		SkipRefererSeen:      settings.SkipRefererSeenBefore,
		MaxFilenameLen:       settings.MaxFileNameLength,
		MaxFolderLen:         settings.MaxFolderNameLength,
		ChildLimits: scraper.ChildLimits{
			Album:   settings.MaxAlbumChildren,
			Profile: settings.MaxProfileChildren,
			Forum:   settings.MaxForumChildren,
			Post:    settings.MaxPostChildren,
		},
		MaxItemsRetry:        maxItemsRetry,
		PlaceholderHashes:    settings.PlaceholderHashes,
	}, reg, cl, hist, eng, store, lg)

	switch {
	case retryFailed:
		err = disp.RetryFailed(ctx)
	case retryAll:
		err = disp.RetryAll(ctx, after, before)
	case retryMaintenance:
		err = disp.RetryMaintenance(ctx)
	default:
		inputs, ierr := gatherInputs(cliCtx, storage, name)
		if ierr != nil {
			return ierr
		}
		if len(inputs) == 0 {
			lg.Info("nothing to do")
			return nil
		}
		err = disp.Run(ctx, inputs)
	}
	pr.wait()
	if err != nil {
		return err
	}

	s := &disp.Stats
	lg.Info("done: %d scraped, %d forwarded, %d unsupported, %d failed",
		s.Scraped, s.Forwarded, s.Unsupported, s.Failed)
	return nil
}

// gatherInputs merges --links, positional args, and the input file.
func gatherInputs(cliCtx *cli.Context, storage *config.Storage, name string) ([]dispatch.Input, error) {
	urls := append([]string(nil), links...)
	urls = append(urls, cliCtx.Args()...)
	inputs := dispatch.FromArgs(urls)

	path := inputFile
	if path == "" {
		path = filepath.Join(storage.ConfigsDir(), name, "URLs.txt")
	}
	fromFile, err := dispatch.ParseInputFile(path)
	if err != nil {
		return nil, err
	}
	return append(inputs, fromFile...), nil
}

func parseDateRange() (after, before time.Time, err error) {
	if completedAfter != "" {
		after, err = time.Parse("2006-01-02", completedAfter)
		if err != nil {
			return after, before, fmt.Errorf("--completed-after: %w", err)
		}
	}
	if completedBefore != "" {
		before, err = time.Parse("2006-01-02", completedBefore)
		if err != nil {
			return after, before, fmt.Errorf("--completed-before: %w", err)
		}
	}
	return after, before, nil
}
