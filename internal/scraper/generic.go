package scraper

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/jbsparrow/cyberdrop-dl/internal/client"
)

// Generic is the fallback crawler for hosts without a dedicated scraper.
// It fetches the page once, collects every linked or embedded media URL,
// and emits them as one album titled after the page.
type Generic struct{}

func (Generic) Info() Info {
	return Info{
		Domain:       "generic",
		FolderDomain: "Generic",
	}
}

func (Generic) Fetch(ctx context.Context, s *Session, item *ScrapeItem) error {
	if done, err := s.CheckCompleteFromReferer(item); err != nil || done {
		return err
	}
	resp, err := s.Fetch.Get(ctx, item.URL.String(), &client.Options{Referer: item.URL.String()})
	if err != nil {
		return err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		// The URL served a file directly.
		return s.HandleFile(ctx, item, item.URL, "")
	}

	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return err
	}

	title, media := collectMedia(doc, item.URL)
	if title == "" {
		title = item.URL.Host
	}
	if len(media) > 0 {
		item.SetupAsAlbum(title, "", 0)
	}
	for _, m := range media {
		if err := s.HandleFile(ctx, item, m, ""); err != nil {
			if errors.Is(err, ErrMaxChildren) {
				return nil
			}
			s.Log.Warning("generic: %s: %v", m, err)
		}
	}
	return nil
}

// collectMedia walks the parse tree gathering the page title and every
// absolute media URL from img/src, video/source src, and a/href.
func collectMedia(doc *html.Node, base *url.URL) (title string, media []*url.URL) {
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "img", "video", "source", "audio":
				if u := resolveMedia(base, attr(n, "src")); u != nil {
					addMedia(&media, seen, u)
				}
			case "a":
				if u := resolveMedia(base, attr(n, "href")); u != nil {
					addMedia(&media, seen, u)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, media
}

func addMedia(media *[]*url.URL, seen map[string]struct{}, u *url.URL) {
	key := u.String()
	if _, ok := seen[key]; ok {
		return
	}
	seen[key] = struct{}{}
	*media = append(*media, u)
}

// resolveMedia resolves ref against base and keeps it only when it is an
// http(s) URL with a media extension.
func resolveMedia(base *url.URL, ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	u, err := base.Parse(ref)
	if err != nil {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	if !IsMediaExt(ExtOf(u.Path)) {
		return nil
	}
	u.Fragment = ""
	return u
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
