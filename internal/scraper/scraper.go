package scraper

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jbsparrow/cyberdrop-dl/internal/client"
	"github.com/jbsparrow/cyberdrop-dl/internal/history"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
)

// Info describes a concrete scraper.
type Info struct {
	Domain         string   // stable id: logs, history keys, folder naming
	FolderDomain   string   // human-readable variant for folder names
	PrimaryBase    string   // canonical origin URL
	SupportedSites []string // host suffixes this scraper claims
}

// Scraper is the contract every site scraper implements. Fetch walks the
// item's page structure, creating children via item.CreateChild and
// emitting files via Session.HandleFile; it never touches the disk.
type Scraper interface {
	Info() Info
	Fetch(ctx context.Context, s *Session, item *ScrapeItem) error
}

// Starter is implemented by scrapers needing one-time setup (login,
// token exchange) before their first Fetch.
type Starter interface {
	Startup(ctx context.Context, s *Session) error
}

// Fetcher is the slice of the HTTP client a scraper may use.
type Fetcher interface {
	Get(ctx context.Context, rawurl string, opts *client.Options) (*client.Response, error)
	Head(ctx context.Context, rawurl string) (*client.Response, error)
	Post(ctx context.Context, rawurl string, body []byte, opts *client.Options) (*client.Response, error)
}

// History is the slice of the history store a scraper may consult.
type History interface {
	IsComplete(site, urlPath string) (bool, error)
	IsCompleteByReferer(site, refererPath string) (bool, error)
	MarkAlbumMembership(site, urlPath, albumID string) error
	LastForumPost(site, threadPath string) (string, error)
	SetLastForumPost(site, threadPath, postURL string) error
}

// Session is the per-scraper view of the run: fetching, history, and the
// download submitter. Scrapers hold a Session; nothing in the Session
// points back at the dispatcher.
type Session struct {
	Site            string
	FolderDomain    string
	DownloadFolder  string
	MaxFilenameLen  int
	MaxFolderLen    int
	SkipRefererSeen bool

	Fetch  Fetcher
	Hist   History
	Submit func(ctx context.Context, d *DownloadItem) error
	Log    logger.Logger
}

// CheckCompleteFromReferer reports whether the item's URL already served
// as the referer of a completed download in a previous run, letting the
// scraper skip the network walk entirely.
func (s *Session) CheckCompleteFromReferer(item *ScrapeItem) (bool, error) {
	if !s.SkipRefererSeen || s.Hist == nil {
		return false, nil
	}
	done, err := s.Hist.IsCompleteByReferer(s.Site, history.PathOf(item.URL))
	if err != nil {
		return false, fmt.Errorf("scraper: referer check: %w", err)
	}
	if done {
		s.Log.Info("%s: referer %s already completed, skipping", s.Site, item.URL)
	}
	return done, nil
}

// HandleFile derives a DownloadItem from the scrape item and submits it.
// The referer is the item's URL at call time; album membership decides
// the folder.
func (s *Session) HandleFile(ctx context.Context, item *ScrapeItem, src *url.URL, filename string) error {
	if err := item.AddChild(); err != nil {
		return err
	}
	if filename == "" {
		filename = filepath.Base(src.Path)
	}
	clean := SanitizeFilename(filename, s.MaxFilenameLen)
	if clean == "" {
		return fmt.Errorf("scraper: %s: unusable filename for %s", s.Site, src)
	}

	folder := s.DownloadFolder
	if item.PartOfAlbum && item.ParentTitle != "" {
		for _, part := range strings.Split(item.ParentTitle, "/") {
			folder = filepath.Join(folder, SanitizeFolder(part, s.MaxFolderLen))
		}
	} else {
		folder = filepath.Join(folder, looseFolder(s.FolderDomain, s.MaxFolderLen))
	}
	if item.RetryPath != "" {
		folder = item.RetryPath
	}

	// Bind any row from an earlier run to the album now that the file's
	// membership is known.
	if item.PartOfAlbum && item.AlbumID != "" && s.Hist != nil {
		if err := s.Hist.MarkAlbumMembership(s.Site, history.PathOf(src), item.AlbumID); err != nil {
			s.Log.Warning("%s: album membership for %s: %v", s.Site, src, err)
		}
	}

	d := &DownloadItem{
		SourceURL:        src,
		Referer:          item.URL.String(),
		DownloadFolder:   folder,
		Filename:         clean,
		OriginalFilename: filename,
		Extension:        ExtOf(clean),
		Site:             s.Site,
		AlbumID:          item.AlbumID,
		Datetime:         item.PossibleDatetime,
		Parents:          append(append([]string(nil), item.Parents...), item.URL.String()),
	}
	return s.Submit(ctx, d)
}

func looseFolder(folderDomain string, max int) string {
	return SanitizeFolder(fmt.Sprintf("Loose Files (%s)", folderDomain), max)
}

// Deadline wraps ctx with the scrape soft deadline when one is set.
func Deadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
