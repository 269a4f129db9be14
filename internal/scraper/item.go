// Package scraper defines the contract concrete site scrapers implement
// and the crawl/download work items that flow between the dispatcher,
// the scrapers, and the download engine.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ItemType classifies what kind of collection a ScrapeItem points at.
type ItemType int

const (
	TypeNone ItemType = iota
	TypeForum
	TypeForumPost
	TypeProfile
	TypeAlbum
)

func (t ItemType) String() string {
	switch t {
	case TypeForum:
		return "forum"
	case TypeForumPost:
		return "forum_post"
	case TypeProfile:
		return "profile"
	case TypeAlbum:
		return "album"
	}
	return "none"
}

// ErrMaxChildren is returned by AddChild when a collection has produced
// its configured maximum of children. Scrapers treat it as an early
// return, not a failure.
var ErrMaxChildren = errors.New("collection reached its children limit")

// ChildLimits caps how many children each collection type may emit.
// Zero means unlimited.
type ChildLimits struct {
	Album   int
	Profile int
	Forum   int
	Post    int
}

// For returns the cap for a collection type.
func (c ChildLimits) For(t ItemType) int {
	switch t {
	case TypeAlbum:
		return c.Album
	case TypeProfile:
		return c.Profile
	case TypeForum:
		return c.Forum
	case TypeForumPost:
		return c.Post
	}
	return 0
}

// ScrapeItem is one unit of crawling work.
type ScrapeItem struct {
	URL              *url.URL
	Parents          []string // ancestor URLs, oldest first
	ParentTitle      string   // slash-joined sanitized ancestor titles
	PartOfAlbum      bool
	AlbumID          string
	PossibleDatetime time.Time
	Type             ItemType
	Children         int
	ChildrenLimit    int         // 0 = unlimited
	Limits           ChildLimits // per-type defaults when SetupAs* passes 0
	Retry            bool
	RetryPath        string
	Group            string // input-file group title, "" when ungrouped
}

// NewScrapeItem parses rawurl into a ScrapeItem. The URL must be
// absolute http(s) with a host; the path keeps its escaping and loses
// any trailing slash except at the root.
func NewScrapeItem(rawurl string) (*ScrapeItem, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse %q: %w", rawurl, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scraper: unsupported scheme in %q", rawurl)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("scraper: missing host in %q", rawurl)
	}
	if p := u.EscapedPath(); len(p) > 1 && strings.HasSuffix(p, "/") {
		u.RawPath = strings.TrimRight(p, "/")
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return &ScrapeItem{URL: u}, nil
}

// CreateChild clones the item for a discovered sub-URL: parents gain the
// current URL, and extraTitle (when non-empty) extends the title path.
func (s *ScrapeItem) CreateChild(rawurl, extraTitle string) (*ScrapeItem, error) {
	child, err := NewScrapeItem(rawurl)
	if err != nil {
		return nil, err
	}
	child.Parents = append(append([]string(nil), s.Parents...), s.URL.String())
	child.ParentTitle = s.ParentTitle
	child.PartOfAlbum = s.PartOfAlbum
	child.AlbumID = s.AlbumID
	child.PossibleDatetime = s.PossibleDatetime
	child.Retry = s.Retry
	child.RetryPath = s.RetryPath
	child.Group = s.Group
	child.Limits = s.Limits
	if extraTitle != "" {
		t := SanitizeFolder(extraTitle, 0)
		if child.ParentTitle != "" {
			child.ParentTitle = child.ParentTitle + "/" + t
		} else {
			child.ParentTitle = t
		}
	}
	return child, nil
}

// SetCanonical rewrites the item URL to the site's canonical form. The
// history store keys on the rewritten URL; callers wanting the original
// as Referer must capture it first.
func (s *ScrapeItem) SetCanonical(u *url.URL) { s.URL = u }

// SetupAsAlbum marks the item as an album with the given title and id.
func (s *ScrapeItem) SetupAsAlbum(title, albumID string, limit int) {
	s.setupCollection(TypeAlbum, title, limit)
	s.PartOfAlbum = true
	s.AlbumID = albumID
}

// SetupAsProfile marks the item as a profile collection.
func (s *ScrapeItem) SetupAsProfile(title string, limit int) {
	s.setupCollection(TypeProfile, title, limit)
}

// SetupAsForum marks the item as a forum thread.
func (s *ScrapeItem) SetupAsForum(title string, limit int) {
	s.setupCollection(TypeForum, title, limit)
}

// SetupAsPost marks the item as a single forum post.
func (s *ScrapeItem) SetupAsPost(title string, limit int) {
	s.setupCollection(TypeForumPost, title, limit)
}

func (s *ScrapeItem) setupCollection(t ItemType, title string, limit int) {
	s.Type = t
	if limit == 0 {
		limit = s.Limits.For(t)
	}
	s.ChildrenLimit = limit
	if title == "" {
		return
	}
	clean := SanitizeFolder(title, 0)
	if s.ParentTitle != "" {
		s.ParentTitle = s.ParentTitle + "/" + clean
	} else {
		s.ParentTitle = clean
	}
}

// AddChild counts one produced child, returning ErrMaxChildren once the
// limit is reached.
func (s *ScrapeItem) AddChild() error {
	if s.ChildrenLimit > 0 && s.Children >= s.ChildrenLimit {
		return ErrMaxChildren
	}
	s.Children++
	return nil
}

// DownloadItem is one unit of download work.
type DownloadItem struct {
	SourceURL        *url.URL
	Referer          string
	DownloadFolder   string // absolute
	Filename         string // sanitized
	OriginalFilename string
	Extension        string // lowercase, with dot
	DebridLink       string // alternate transfer URL, "" when unused
	Site             string // scraper domain, history key component
	AlbumID          string
	Datetime         time.Time
	Parents          []string
	Filesize         int64
	Attempt          int
}

// CompletePath is the final on-disk location.
func (d *DownloadItem) CompletePath() string {
	return filepath.Join(d.DownloadFolder, d.Filename)
}

// PartialPath is the in-progress location, always CompletePath + ".part".
func (d *DownloadItem) PartialPath() string {
	return d.CompletePath() + ".part"
}

// TransferURL is the URL actually fetched: the debrid link when present,
// the source URL otherwise. Identity (history keying) always uses
// SourceURL.
func (d *DownloadItem) TransferURL() string {
	if d.DebridLink != "" {
		return d.DebridLink
	}
	return d.SourceURL.String()
}

// ExtOf returns the lowercased extension of a URL path or filename,
// including the dot.
func ExtOf(name string) string {
	return strings.ToLower(path.Ext(name))
}
