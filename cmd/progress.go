package cmd

import (
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/jbsparrow/cyberdrop-dl/internal/downloader"
	"github.com/jbsparrow/cyberdrop-dl/internal/scraper"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
)

// progress renders one mpb bar per active transfer. With rendering
// disabled it degrades to log lines only.
type progress struct {
	p    *mpb.Progress
	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newProgress(enabled bool) *progress {
	pr := &progress{bars: make(map[string]*mpb.Bar)}
	if enabled {
		pr.p = mpb.New(mpb.WithWidth(64))
	}
	return pr
}

// wait blocks until every bar has rendered its final state.
func (pr *progress) wait() {
	if pr.p != nil {
		pr.p.Wait()
	}
}

func (pr *progress) barFor(d *scraper.DownloadItem, total, resumedFrom int64) *mpb.Bar {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	key := d.CompletePath()
	if bar, ok := pr.bars[key]; ok {
		return bar
	}
	name := d.Filename
	bar := pr.p.New(total,
		mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(
				decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done",
			),
		),
		mpb.AppendDecorators(
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f"),
		),
		mpb.BarRemoveOnComplete(),
	)
	if resumedFrom > 0 {
		bar.SetCurrent(resumedFrom)
	}
	bar.EnableTriggerComplete()
	pr.bars[key] = bar
	return bar
}

func (pr *progress) drop(d *scraper.DownloadItem, abort bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	key := d.CompletePath()
	if bar, ok := pr.bars[key]; ok {
		if abort {
			bar.Abort(true)
		}
		delete(pr.bars, key)
	}
}

// handlers bridges engine events to bars and the run log.
func (pr *progress) handlers(log logger.Logger) downloader.Handlers {
	h := downloader.Handlers{
		OnSkip: func(d *scraper.DownloadItem, reason string) {
			log.Info("skip %s: %s", d.SourceURL, reason)
		},
		OnComplete: func(d *scraper.DownloadItem, size int64) {
			log.Info("completed %s (%d bytes)", d.CompletePath(), size)
		},
		OnFailure: func(d *scraper.DownloadItem, err error) {
			log.Error("failed %s: %v", d.SourceURL, err)
		},
	}
	if pr.p == nil {
		return h
	}
	h.OnStart = func(d *scraper.DownloadItem, total, resumedFrom int64) {
		pr.barFor(d, total, resumedFrom)
	}
	h.OnProgress = func(d *scraper.DownloadItem, n int) {
		pr.mu.Lock()
		bar := pr.bars[d.CompletePath()]
		pr.mu.Unlock()
		if bar != nil {
			bar.IncrBy(n)
		}
	}
	complete := h.OnComplete
	h.OnComplete = func(d *scraper.DownloadItem, size int64) {
		pr.drop(d, false)
		complete(d, size)
	}
	failure := h.OnFailure
	h.OnFailure = func(d *scraper.DownloadItem, err error) {
		pr.drop(d, true)
		failure(d, err)
	}
	return h
}
