package downloader

import "github.com/jbsparrow/cyberdrop-dl/internal/scraper"

// Handlers receives engine events: progress rendering and per-item
// logging live behind these, not inside the engine. Unset fields are
// replaced with no-ops.
type Handlers struct {
	// OnStart fires when a transfer begins (or resumes). total is the
	// server-reported length, -1 when unknown.
	OnStart func(d *scraper.DownloadItem, total, resumedFrom int64)

	// OnProgress fires after every written chunk.
	OnProgress func(d *scraper.DownloadItem, n int)

	// OnSkip fires when an item is skipped without a transfer.
	OnSkip func(d *scraper.DownloadItem, reason string)

	// OnComplete fires after the atomic rename and history write.
	OnComplete func(d *scraper.DownloadItem, size int64)

	// OnFailure fires when an item fails past all retries.
	OnFailure func(d *scraper.DownloadItem, err error)
}

func (h *Handlers) setDefault() {
	if h.OnStart == nil {
		h.OnStart = func(*scraper.DownloadItem, int64, int64) {}
	}
	if h.OnProgress == nil {
		h.OnProgress = func(*scraper.DownloadItem, int) {}
	}
	if h.OnSkip == nil {
		h.OnSkip = func(*scraper.DownloadItem, string) {}
	}
	if h.OnComplete == nil {
		h.OnComplete = func(*scraper.DownloadItem, int64) {}
	}
	if h.OnFailure == nil {
		h.OnFailure = func(*scraper.DownloadItem, error) {}
	}
}
