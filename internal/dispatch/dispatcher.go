// Package dispatch routes input URLs to site scrapers, fans crawling out
// across the task pool, and feeds discovered files into the download
// engine. It owns the run lifecycle: filters, routing, retry modes, and
// the pause gate.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jbsparrow/cyberdrop-dl/internal/cache"
	"github.com/jbsparrow/cyberdrop-dl/internal/client"
	"github.com/jbsparrow/cyberdrop-dl/internal/downloader"
	"github.com/jbsparrow/cyberdrop-dl/internal/history"
	"github.com/jbsparrow/cyberdrop-dl/internal/scraper"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
	"github.com/jbsparrow/cyberdrop-dl/pkg/vmap"
)

// Config holds dispatcher construction parameters.
type Config struct {
	DownloadFolder       string
	ScrapeTimeout        time.Duration
	MaxConcurrentScrapes int

	BlockedHosts []string
	SkipHosts    []string
	OnlyHosts    []string

	CompletedAfter  time.Time
	CompletedBefore time.Time

	GenericEnabled    bool
	JDownloaderFolder string
	SkipRefererSeen   bool

	MaxFilenameLen int
	MaxFolderLen   int
	ChildLimits    scraper.ChildLimits

	MaxItemsRetry     int
	PlaceholderHashes map[string][]string // site -> known-bad SHA-256 digests
}

// Stats counts item outcomes for the run summary.
type Stats struct {
	mu          sync.Mutex
	Scraped     int
	Forwarded   int
	Unsupported int
	Failed      int
}

func (s *Stats) add(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Dispatcher maps URLs to scrapers and runs the crawl.
type Dispatcher struct {
	cfg   Config
	reg   *scraper.Registry
	cl    *client.Client
	hist  *history.Store
	eng   *downloader.Engine
	store *cache.Store // for retry-mode cache busting, may be nil
	log   logger.Logger

	seen      *vmap.Map[string, struct{}]
	noCrawler scraper.Scraper
	generic   scraper.Scraper

	startMu sync.Mutex
	started map[string]bool

	Stats Stats
}

// runState is the per-Run context: the base context downloads detach to,
// the download wait group, and the session cache for this run.
type runState struct {
	baseCtx   context.Context
	downloads sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*scraper.Session
}

// New builds a dispatcher over the given registry and engine.
func New(cfg Config, reg *scraper.Registry, cl *client.Client, hist *history.Store, eng *downloader.Engine, store *cache.Store, log logger.Logger) *Dispatcher {
	if cfg.MaxConcurrentScrapes < 1 {
		cfg.MaxConcurrentScrapes = 15
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Dispatcher{
		cfg:       cfg,
		reg:       reg,
		cl:        cl,
		hist:      hist,
		eng:       eng,
		store:     store,
		log:       log,
		seen:      vmap.New[string, struct{}](),
		noCrawler: scraper.NoCrawler{},
		generic:   scraper.Generic{},
		started:   make(map[string]bool),
	}
}

// Run crawls every input. Item failures are logged and counted, never
// propagated; the only error returns are context cancellation.
func (d *Dispatcher) Run(ctx context.Context, inputs []Input) error {
	scrapes, sctx := errgroup.WithContext(ctx)
	scrapes.SetLimit(d.cfg.MaxConcurrentScrapes)
	rs := &runState{
		baseCtx:  ctx,
		sessions: make(map[string]*scraper.Session),
	}

	for _, in := range inputs {
		item, err := d.admit(in)
		if err != nil {
			d.log.Warning("input %s: %v", in.URL, err)
			d.Stats.add(&d.Stats.Unsupported)
			continue
		}
		if item == nil {
			continue
		}
		sc := d.route(item)
		if sc == nil {
			continue
		}
		scrapes.Go(func() error {
			d.scrapeOne(sctx, rs, sc, item)
			return nil
		})
	}

	err := scrapes.Wait()
	rs.downloads.Wait()
	return err
}

// admit parses and filters one input. A nil, nil return means the URL
// was filtered out silently (seen, host filters, date range).
func (d *Dispatcher) admit(in Input) (*scraper.ScrapeItem, error) {
	item, err := scraper.NewScrapeItem(in.URL)
	if err != nil {
		return nil, err
	}
	if !d.seen.SetIfAbsent(item.URL.String(), struct{}{}) {
		return nil, nil
	}
	host := item.URL.Hostname()
	if hostMatches(host, d.cfg.BlockedHosts) {
		d.log.Info("skipping %s: blocked host", item.URL)
		return nil, nil
	}
	if hostMatches(host, d.cfg.SkipHosts) {
		d.log.Info("skipping %s: in skip_hosts", item.URL)
		return nil, nil
	}
	if len(d.cfg.OnlyHosts) > 0 && !hostMatches(host, d.cfg.OnlyHosts) {
		d.log.Info("skipping %s: not in only_hosts", item.URL)
		return nil, nil
	}
	if !d.inDateRange(item) {
		d.log.Info("skipping %s: outside date range", item.URL)
		return nil, nil
	}
	item.Group = in.Group
	if in.Group != "" {
		item.ParentTitle = scraper.SanitizeFolder(in.Group, d.cfg.MaxFolderLen)
	}
	item.Limits = d.cfg.ChildLimits
	return item, nil
}

func (d *Dispatcher) inDateRange(item *scraper.ScrapeItem) bool {
	if item.PossibleDatetime.IsZero() {
		return true
	}
	if !d.cfg.CompletedAfter.IsZero() && item.PossibleDatetime.Before(d.cfg.CompletedAfter) {
		return false
	}
	if !d.cfg.CompletedBefore.IsZero() && item.PossibleDatetime.After(d.cfg.CompletedBefore) {
		return false
	}
	return true
}

// route picks the scraper for an item: longest-suffix registry match,
// then the media-extension fast path, then the external download
// manager, then the generic crawler. Returns nil when the item was
// handled (forwarded) or recorded as unsupported.
func (d *Dispatcher) route(item *scraper.ScrapeItem) scraper.Scraper {
	if sc := d.reg.Match(item.URL.Hostname()); sc != nil {
		return sc
	}
	if scraper.IsMediaExt(scraper.ExtOf(item.URL.Path)) {
		return d.noCrawler
	}
	if d.cfg.JDownloaderFolder != "" {
		if err := writeCrawljob(d.cfg.JDownloaderFolder, d.cfg.DownloadFolder, item); err != nil {
			d.log.Error("jdownloader forward %s: %v", item.URL, err)
			d.Stats.add(&d.Stats.Failed)
		} else {
			d.log.Info("forwarded %s to jdownloader", item.URL)
			d.Stats.add(&d.Stats.Forwarded)
		}
		return nil
	}
	if d.cfg.GenericEnabled {
		return d.generic
	}
	d.log.Warning("unsupported URL: %s", item.URL)
	d.Stats.add(&d.Stats.Unsupported)
	return nil
}

// scrapeOne runs one scraper fetch under the scrape deadline. Downloads
// it spawns run under the base context so a long transfer is not killed
// by the scrape timeout.
func (d *Dispatcher) scrapeOne(ctx context.Context, rs *runState, sc scraper.Scraper, item *scraper.ScrapeItem) {
	sess := d.sessionFor(sc, rs)
	if err := d.startupOnce(ctx, sc, sess); err != nil {
		d.log.Error("%s: startup: %v", sc.Info().Domain, err)
		d.Stats.add(&d.Stats.Failed)
		return
	}

	fctx, cancel := scraper.Deadline(ctx, d.cfg.ScrapeTimeout)
	defer cancel()

	d.log.Info("%s: scraping %s", sc.Info().Domain, item.URL)
	err := sc.Fetch(fctx, sess, item)
	switch {
	case err == nil, errors.Is(err, scraper.ErrMaxChildren):
		d.Stats.add(&d.Stats.Scraped)
	case errors.Is(err, context.Canceled):
	default:
		d.log.Error("%s: %s: %v", sc.Info().Domain, item.URL, err)
		d.Stats.add(&d.Stats.Failed)
	}
}

func (d *Dispatcher) startupOnce(ctx context.Context, sc scraper.Scraper, sess *scraper.Session) error {
	st, ok := sc.(scraper.Starter)
	if !ok {
		return nil
	}
	d.startMu.Lock()
	defer d.startMu.Unlock()
	domain := sc.Info().Domain
	if d.started[domain] {
		return nil
	}
	if err := st.Startup(ctx, sess); err != nil {
		return err
	}
	d.started[domain] = true
	return nil
}

func (d *Dispatcher) sessionFor(sc scraper.Scraper, rs *runState) *scraper.Session {
	info := sc.Info()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if sess, ok := rs.sessions[info.Domain]; ok {
		return sess
	}
	folderDomain := info.FolderDomain
	if folderDomain == "" {
		folderDomain = info.Domain
	}
	sess := &scraper.Session{
		Site:            info.Domain,
		FolderDomain:    folderDomain,
		DownloadFolder:  d.cfg.DownloadFolder,
		MaxFilenameLen:  d.cfg.MaxFilenameLen,
		MaxFolderLen:    d.cfg.MaxFolderLen,
		SkipRefererSeen: d.cfg.SkipRefererSeen,
		Fetch:           d.cl,
		Hist:            d.hist,
		Log:             d.log,
		Submit: func(_ context.Context, item *scraper.DownloadItem) error {
			rs.downloads.Add(1)
			go func() {
				defer rs.downloads.Done()
				if err := d.eng.Download(rs.baseCtx, item); err != nil {
					d.log.Error("download %s: %v", item.SourceURL, err)
					d.Stats.add(&d.Stats.Failed)
				}
			}()
			return nil
		},
	}
	rs.sessions[info.Domain] = sess
	return sess
}

// hostMatches reports whether host equals or is a subdomain of any entry.
func hostMatches(host string, list []string) bool {
	host = strings.ToLower(host)
	for _, entry := range list {
		entry = strings.ToLower(strings.TrimPrefix(entry, "*."))
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
