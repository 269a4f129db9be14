// Package rate implements the rate governor: per-host FIFO token buckets
// for request pacing, global and per-host concurrency semaphores for
// downloads, a byte bucket for download-speed shaping, and the
// process-wide pause gate.
package rate

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jbsparrow/cyberdrop-dl/pkg/vmap"
)

// HostRate describes a per-host request budget.
type HostRate struct {
	Capacity int
	Period   time.Duration
}

// Config holds governor limits.
type Config struct {
	// DefaultRate applies to hosts without an explicit override.
	DefaultRate HostRate
	// HostRates overrides the default per host suffix.
	HostRates map[string]HostRate
	// MaxSimultaneousDownloads caps in-flight downloads globally.
	MaxSimultaneousDownloads int
	// MaxSimultaneousDownloadsPerDomain caps in-flight downloads per host.
	MaxSimultaneousDownloadsPerDomain int
	// DownloadSpeedLimit is bytes/sec across all downloads, 0 = unlimited.
	DownloadSpeedLimit int64
}

// Governor owns every throttling primitive. All waits respect the gate.
type Governor struct {
	cfg      Config
	gate     *Gate
	buckets  *vmap.Map[string, *bucket]
	hostSems *vmap.Map[string, *semaphore.Weighted]
	global   *semaphore.Weighted
	shaper   *ByteBucket
}

// New creates a governor. A nil gate gets a fresh running gate.
func New(cfg Config, gate *Gate) *Governor {
	if cfg.DefaultRate.Capacity < 1 {
		cfg.DefaultRate = HostRate{Capacity: 10, Period: time.Second}
	}
	if cfg.DefaultRate.Period <= 0 {
		cfg.DefaultRate.Period = time.Second
	}
	if cfg.MaxSimultaneousDownloads < 1 {
		cfg.MaxSimultaneousDownloads = 1
	}
	if cfg.MaxSimultaneousDownloadsPerDomain < 1 {
		cfg.MaxSimultaneousDownloadsPerDomain = 1
	}
	if gate == nil {
		gate = NewGate()
	}
	return &Governor{
		cfg:      cfg,
		gate:     gate,
		buckets:  vmap.New[string, *bucket](),
		hostSems: vmap.New[string, *semaphore.Weighted](),
		global:   semaphore.NewWeighted(int64(cfg.MaxSimultaneousDownloads)),
		shaper:   NewByteBucket(cfg.DownloadSpeedLimit),
	}
}

// Gate returns the pause gate shared with the dispatcher.
func (g *Governor) Gate() *Gate { return g.gate }

// rateFor picks the configured budget for host using the longest matching
// suffix override.
func (g *Governor) rateFor(host string) HostRate {
	host = strings.ToLower(host)
	best := ""
	r := g.cfg.DefaultRate
	for suffix, hr := range g.cfg.HostRates {
		s := strings.ToLower(suffix)
		if (host == s || strings.HasSuffix(host, "."+s)) && len(s) > len(best) {
			best = s
			r = hr
		}
	}
	if r.Period <= 0 {
		r.Period = time.Second
	}
	return r
}

// Wait blocks until a request token for host is available. Tokens are
// handed out FIFO per host. The pause gate is honored first.
func (g *Governor) Wait(ctx context.Context, host string) error {
	if err := g.gate.Wait(ctx); err != nil {
		return err
	}
	b := g.buckets.GetOr(host, func() *bucket {
		r := g.rateFor(host)
		return newBucket(r.Capacity, r.Period)
	})
	return b.acquire(ctx)
}

// AcquireDownloadSlot takes both the global and the per-host download
// semaphores, returning a release function. The global slot is taken
// first so a saturated host cannot starve other hosts of global slots
// while it holds nothing.
func (g *Governor) AcquireDownloadSlot(ctx context.Context, host string) (release func(), err error) {
	if err := g.gate.Wait(ctx); err != nil {
		return nil, err
	}
	if err := g.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	sem := g.hostSems.GetOr(host, func() *semaphore.Weighted {
		return semaphore.NewWeighted(int64(g.cfg.MaxSimultaneousDownloadsPerDomain))
	})
	if err := sem.Acquire(ctx, 1); err != nil {
		g.global.Release(1)
		return nil, err
	}
	return func() {
		sem.Release(1)
		g.global.Release(1)
	}, nil
}

// AcquireBytes blocks until n bytes of download budget are available.
// Called by the download engine around each chunk read.
func (g *Governor) AcquireBytes(ctx context.Context, n int) error {
	if err := g.gate.Wait(ctx); err != nil {
		return err
	}
	return g.shaper.Acquire(ctx, n)
}

// SetSpeedLimit updates the download speed limit, 0 = unlimited.
func (g *Governor) SetSpeedLimit(limit int64) {
	g.shaper.SetLimit(limit)
}
