package scraper

import (
	"context"
	"fmt"
)

// NoCrawler handles URLs that point straight at a media file on a host
// no scraper claims. It performs no page fetches; the URL itself is the
// download.
type NoCrawler struct{}

func (NoCrawler) Info() Info {
	return Info{
		Domain:       "no_crawler",
		FolderDomain: "no_crawler",
	}
}

func (NoCrawler) Fetch(ctx context.Context, s *Session, item *ScrapeItem) error {
	ext := ExtOf(item.URL.Path)
	if !IsMediaExt(ext) {
		return fmt.Errorf("scraper: no_crawler: %s has no media extension", item.URL)
	}
	return s.HandleFile(ctx, item, item.URL, "")
}
