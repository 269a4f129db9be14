// Package downloader implements the resumable download engine: range
// transfers into .part files, atomic completion, speed shaping, and the
// history writes that make re-runs idempotent.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jbsparrow/cyberdrop-dl/internal/client"
	"github.com/jbsparrow/cyberdrop-dl/internal/history"
	"github.com/jbsparrow/cyberdrop-dl/internal/rate"
	"github.com/jbsparrow/cyberdrop-dl/internal/scraper"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
	"github.com/jbsparrow/cyberdrop-dl/pkg/vmap"
)

const (
	defChunkSize = 32 << 10

	// MinRequiredFreeSpace is the floor for the free-space requirement.
	MinRequiredFreeSpace = 512 << 20

	// defSlowSpeedWindow is how long throughput must stay below the slow
	// threshold before the transfer is canceled and retried.
	defSlowSpeedWindow = 10 * time.Second

	// defResumeWait bounds how long a disk-full pause waits for an
	// operator resume before the item fails.
	defResumeWait = 5 * time.Minute
)

// diskFree is a seam over the platform free-space probe.
var diskFree = freeSpace

// Config holds engine construction parameters.
type Config struct {
	Attempts          int
	RequiredFreeSpace int64
	SlowSpeedLimit    int64         // bytes/sec, 0 disables slow detection
	SlowSpeedWindow   time.Duration // sustained interval for SlowSpeedLimit
	ResumeWait        time.Duration // disk-full pause bound
	SkipExtensions    []string
	SkipPattern       *regexp.Regexp
}

// Engine transfers DownloadItems to disk.
type Engine struct {
	cfg      Config
	cl       *client.Client
	gov      *rate.Governor
	hist     *history.Store
	gate     *rate.Gate
	log      logger.Logger
	handlers Handlers

	inflight  *vmap.Map[string, struct{}]
	pathLocks *vmap.Map[string, *sync.Mutex]
	skipExts  map[string]struct{}
}

// New builds an engine. handlers may be the zero value.
func New(cfg Config, cl *client.Client, gov *rate.Governor, hist *history.Store, gate *rate.Gate, log logger.Logger, handlers Handlers) *Engine {
	if cfg.Attempts < 1 {
		cfg.Attempts = 5
	}
	if cfg.RequiredFreeSpace < MinRequiredFreeSpace {
		cfg.RequiredFreeSpace = MinRequiredFreeSpace
	}
	if cfg.SlowSpeedWindow <= 0 {
		cfg.SlowSpeedWindow = defSlowSpeedWindow
	}
	if cfg.ResumeWait <= 0 {
		cfg.ResumeWait = defResumeWait
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	handlers.setDefault()
	skipExts := make(map[string]struct{}, len(cfg.SkipExtensions))
	for _, ext := range cfg.SkipExtensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		skipExts[strings.ToLower(ext)] = struct{}{}
	}
	return &Engine{
		cfg:       cfg,
		cl:        cl,
		gov:       gov,
		hist:      hist,
		gate:      gate,
		log:       log,
		handlers:  handlers,
		inflight:  vmap.New[string, struct{}](),
		pathLocks: vmap.New[string, *sync.Mutex](),
		skipExts:  skipExts,
	}
}

// Download runs one item end to end: preflight, transfer with retries,
// atomic completion, history write. A skipped item returns nil; failures
// are recorded in history before returning.
func (e *Engine) Download(ctx context.Context, d *scraper.DownloadItem) error {
	urlPath := history.PathOf(d.SourceURL)
	key := d.Site + ":" + urlPath
	if !e.inflight.SetIfAbsent(key, struct{}{}) {
		e.handlers.OnSkip(d, "already in flight")
		return nil
	}
	defer e.inflight.Delete(key)

	done, err := e.hist.IsComplete(d.Site, urlPath)
	if err != nil {
		return err
	}
	if done {
		e.handlers.OnSkip(d, "previously completed")
		return nil
	}
	if reason := e.skipReason(d); reason != "" {
		e.handlers.OnSkip(d, reason)
		return nil
	}

	release, err := e.gov.AcquireDownloadSlot(ctx, d.SourceURL.Hostname())
	if err != nil {
		return err
	}
	defer release()

	mu := e.pathLocks.GetOr(d.CompletePath(), func() *sync.Mutex { return new(sync.Mutex) })
	mu.Lock()
	defer mu.Unlock()

	if err := e.transfer(ctx, d); err != nil {
		e.markFailed(d)
		e.handlers.OnFailure(d, err)
		return err
	}
	return nil
}

func (e *Engine) skipReason(d *scraper.DownloadItem) string {
	if _, ok := e.skipExts[d.Extension]; ok {
		return "skipped extension " + d.Extension
	}
	if e.cfg.SkipPattern != nil && e.cfg.SkipPattern.MatchString(d.Filename) {
		return "filename matches skip pattern"
	}
	return ""
}

// transfer runs the retry loop around single attempts.
func (e *Engine) transfer(ctx context.Context, d *scraper.DownloadItem) error {
	retry := client.DefaultRetryConfig()
	retry.MaxRetries = e.cfg.Attempts
	var (
		state      client.RetryState
		mismatches int
	)
	for {
		state.Attempts++
		d.Attempt = state.Attempts
		err := e.attempt(ctx, d)
		if err == nil {
			return nil
		}
		state.LastError = err

		if errors.Is(err, ErrInsufficientSpace) {
			// A full disk pauses the whole run, not just this item. The
			// attempt is retried only if an operator resumes in time;
			// the gate stays paused otherwise.
			if !e.awaitResume(ctx, d) {
				return err
			}
			if retry.MaxRetries > 0 && state.Attempts >= retry.MaxRetries {
				return err
			}
			continue
		}

		cat := e.classify(err, &mismatches)
		if cat == client.ErrCategoryFatal || (retry.MaxRetries > 0 && state.Attempts >= retry.MaxRetries) {
			return err
		}
		if werr := retry.WaitForRetry(ctx, &state, cat); werr != nil {
			return werr
		}
	}
}

// classify maps engine sentinels onto retry categories before falling
// back to the shared network classification. A size mismatch gets one
// retry; the partial was already deleted by the attempt.
func (e *Engine) classify(err error, mismatches *int) client.ErrorCategory {
	switch {
	case errors.Is(err, ErrZeroLength):
		return client.ErrCategoryFatal
	case errors.Is(err, ErrSlowSpeed):
		return client.ErrCategoryRetryable
	case errors.Is(err, ErrSizeMismatch):
		*mismatches++
		if *mismatches > 1 {
			return client.ErrCategoryFatal
		}
		return client.ErrCategoryRetryable
	}
	return client.ClassifyError(err)
}

// awaitResume pauses the run when the disk fills and waits for an
// operator resume before the attempt is retried. Reports whether the
// resume arrived within the configured bound.
func (e *Engine) awaitResume(ctx context.Context, d *scraper.DownloadItem) bool {
	e.gate.Pause()
	e.log.Warning("paused: insufficient disk space under %s", d.DownloadFolder)
	wctx, cancel := context.WithTimeout(ctx, e.cfg.ResumeWait)
	defer cancel()
	return e.gate.Wait(wctx) == nil
}

// attempt performs one full range-aware transfer pass.
func (e *Engine) attempt(ctx context.Context, d *scraper.DownloadItem) error {
	if err := e.gate.Wait(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(d.DownloadFolder, 0755); err != nil {
		return err
	}
	if err := e.checkFreeSpace(d.DownloadFolder); err != nil {
		return err
	}

	partial := d.PartialPath()
	var offset int64
	if fi, err := os.Stat(partial); err == nil {
		offset = fi.Size()
	}

	opts := &client.Options{Referer: d.Referer}
	if offset > 0 {
		opts.Headers = map[string]string{"Range": fmt.Sprintf("bytes=%d-", offset)}
	}
	res, err := e.cl.Stream(ctx, d.TransferURL(), opts)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	total := int64(-1)
	switch res.StatusCode {
	case http.StatusOK:
		if res.ContentLength >= 0 {
			total = res.ContentLength
		}
		if offset > 0 {
			// Server ignored the range; start over.
			if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
				return err
			}
			offset = 0
		}
	case http.StatusPartialContent:
		total = totalFromContentRange(res.Header.Get("Content-Range"))
		if total >= 0 && offset > total {
			if err := os.Remove(partial); err != nil {
				return err
			}
			return fmt.Errorf("%w: partial %d > total %d", ErrSizeMismatch, offset, total)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// Partial is at or past the server length; restart clean.
		if err := os.Remove(partial); err != nil {
			return err
		}
		return fmt.Errorf("%w: range %d rejected", ErrSizeMismatch, offset)
	default:
		if res.StatusCode >= 400 {
			return &client.StatusError{Code: res.StatusCode, URL: d.TransferURL()}
		}
	}
	if total == 0 {
		return ErrZeroLength
	}
	if total > 0 && offset == 0 {
		if err := e.checkFreeSpaceFor(d.DownloadFolder, total); err != nil {
			return err
		}
	}

	e.handlers.OnStart(d, total, offset)

	written, err := e.writeBody(ctx, d, partial, offset, res.Body)
	if err != nil {
		return err
	}

	observed := offset + written
	if total >= 0 && observed != total {
		if observed > total {
			if rmErr := os.Remove(partial); rmErr != nil {
				return rmErr
			}
		}
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, observed, total)
	}

	return e.finish(d, partial, observed)
}

// writeBody streams body into the part file at offset, shaping each
// chunk through the byte bucket and watching for sustained slowness.
func (e *Engine) writeBody(ctx context.Context, d *scraper.DownloadItem, partial string, offset int64, body io.Reader) (written int64, err error) {
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return 0, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	var (
		buf         = make([]byte, defChunkSize)
		windowStart = time.Now()
		windowBytes int64
	)
	for {
		if err := e.gate.Wait(ctx); err != nil {
			return written, err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := e.gov.AcquireBytes(ctx, n); err != nil {
				return written, err
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			windowBytes += int64(n)
			e.handlers.OnProgress(d, n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				if serr := f.Sync(); serr != nil {
					return written, serr
				}
				return written, nil
			}
			return written, rerr
		}
		if e.cfg.SlowSpeedLimit > 0 {
			if elapsed := time.Since(windowStart); elapsed >= e.cfg.SlowSpeedWindow {
				if bps := windowBytes * int64(time.Second) / int64(elapsed); bps < e.cfg.SlowSpeedLimit {
					return written, fmt.Errorf("%w: %s/s over the last %s",
						ErrSlowSpeed, humanize.IBytes(uint64(bps)), elapsed.Round(time.Second))
				}
				windowStart, windowBytes = time.Now(), 0
			}
		}
	}
}

// finish renames the part file into place, restores the item mtime, and
// records completion.
func (e *Engine) finish(d *scraper.DownloadItem, partial string, size int64) error {
	complete := d.CompletePath()
	if err := moveFile(partial, complete); err != nil {
		return err
	}
	if !d.Datetime.IsZero() {
		if err := os.Chtimes(complete, d.Datetime, d.Datetime); err != nil {
			e.log.Warning("set mtime %s: %v", complete, err)
		}
	}
	hash, err := hashFile(complete)
	if err != nil {
		e.log.Warning("hash %s: %v", complete, err)
	}
	d.Filesize = size
	rec := e.record(d)
	rec.Filesize = size
	rec.Hash = hash
	if err := e.hist.MarkComplete(rec); err != nil {
		return err
	}
	e.handlers.OnComplete(d, size)
	return nil
}

func (e *Engine) markFailed(d *scraper.DownloadItem) {
	if err := e.hist.MarkFailed(e.record(d)); err != nil {
		e.log.Error("history: mark failed %s: %v", d.SourceURL, err)
	}
}

func (e *Engine) record(d *scraper.DownloadItem) *history.Record {
	rec := &history.Record{
		Site:     d.Site,
		URLPath:  history.PathOf(d.SourceURL),
		AlbumID:  d.AlbumID,
		Filename: d.Filename,
		Filesize: d.Filesize,
	}
	if ref, err := url.Parse(d.Referer); err == nil && ref.Host != "" {
		rec.RefererPath = history.PathOf(ref)
		rec.RefererURL = d.Referer
	}
	return rec
}

func (e *Engine) checkFreeSpace(folder string) error {
	return e.checkFreeSpaceFor(folder, e.cfg.RequiredFreeSpace)
}

func (e *Engine) checkFreeSpaceFor(folder string, need int64) error {
	if need < e.cfg.RequiredFreeSpace {
		need = e.cfg.RequiredFreeSpace
	}
	avail, err := diskFree(folder)
	if err != nil {
		// Unknown filesystems should not block downloads.
		return nil
	}
	if avail < need {
		return fmt.Errorf("%w: need %s, have %s at %s",
			ErrInsufficientSpace, humanize.IBytes(uint64(need)), humanize.IBytes(uint64(avail)), folder)
	}
	return nil
}

// totalFromContentRange extracts the total length from a
// "bytes start-end/total" header, -1 when absent or unparsable.
func totalFromContentRange(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return -1
	}
	tail := v[i+1:]
	if tail == "*" {
		return -1
	}
	n, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// hashFile returns the hex SHA-256 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
