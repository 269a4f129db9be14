package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/jbsparrow/cyberdrop-dl/internal/history"
)

// RetryFailed re-runs every history row that never completed.
func (d *Dispatcher) RetryFailed(ctx context.Context) error {
	recs, err := d.hist.FetchFailedItems()
	if err != nil {
		return err
	}
	return d.runRecords(ctx, toInputs(recs), false)
}

// RetryAll re-scrapes every completed row inside [after, before]. Items
// still on disk skip through the history preflight; only missing or new
// files transfer.
func (d *Dispatcher) RetryAll(ctx context.Context, after, before time.Time) error {
	recs, err := d.hist.FetchAllItems(after, before)
	if err != nil {
		return err
	}
	return d.runRecords(ctx, toInputs(recs), true)
}

// RetryMaintenance re-runs rows whose stored hash matches a configured
// known-bad placeholder digest (a "file removed" image served with
// status 200). The rows are flipped back to pending first so the engine
// re-downloads them.
func (d *Dispatcher) RetryMaintenance(ctx context.Context) error {
	var inputs []Input
	for site, hashes := range d.cfg.PlaceholderHashes {
		recs, err := d.hist.FetchByHash(site, hashes)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := d.hist.MarkIncomplete(rec.Site, rec.URLPath); err != nil {
				return err
			}
		}
		inputs = append(inputs, toInputs(recs)...)
	}
	return d.runRecords(ctx, inputs, true)
}

// runRecords feeds history-derived inputs through the normal run path.
// With bust set, cached pages for the retried referers are dropped so
// scrapers see fresh content.
func (d *Dispatcher) runRecords(ctx context.Context, inputs []Input, bust bool) error {
	if d.cfg.MaxItemsRetry > 0 && len(inputs) > d.cfg.MaxItemsRetry {
		d.log.Info("limiting retry to %d of %d items", d.cfg.MaxItemsRetry, len(inputs))
		inputs = inputs[:d.cfg.MaxItemsRetry]
	}
	if bust && d.store != nil {
		for _, in := range inputs {
			if err := d.store.Delete(http.MethodGet, in.URL); err != nil {
				d.log.Warning("cache bust %s: %v", in.URL, err)
			}
		}
	}
	if len(inputs) == 0 {
		d.log.Info("retry: nothing to do")
		return nil
	}
	return d.Run(ctx, inputs)
}

// toInputs converts history rows to inputs via their stored absolute
// referer; rows from versions predating the referer_url column are
// dropped.
func toInputs(recs []history.Record) []Input {
	out := make([]Input, 0, len(recs))
	for _, rec := range recs {
		if rec.RefererURL == "" {
			continue
		}
		out = append(out, Input{URL: rec.RefererURL})
	}
	return out
}
