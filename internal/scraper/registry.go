package scraper

import (
	"sort"
	"strings"
)

// Registry maps host suffixes to scrapers. Matching picks the longest
// registered suffix, so "img.example.com" beats "example.com".
type Registry struct {
	bySuffix map[string]Scraper
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bySuffix: make(map[string]Scraper)}
}

// Register claims every supported-site suffix for sc. Later
// registrations of the same suffix win.
func (r *Registry) Register(sc Scraper) {
	for _, suffix := range sc.Info().SupportedSites {
		r.bySuffix[strings.ToLower(suffix)] = sc
	}
}

// Match returns the scraper whose registered suffix is the longest match
// for host, or nil.
func (r *Registry) Match(host string) Scraper {
	host = strings.ToLower(host)
	var (
		best    Scraper
		bestLen = -1
	)
	for suffix, sc := range r.bySuffix {
		if len(suffix) <= bestLen {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			best, bestLen = sc, len(suffix)
		}
	}
	return best
}

// Scrapers returns the distinct registered scrapers, ordered by domain.
func (r *Registry) Scrapers() []Scraper {
	seen := make(map[string]Scraper)
	for _, sc := range r.bySuffix {
		seen[sc.Info().Domain] = sc
	}
	out := make([]Scraper, 0, len(seen))
	for _, sc := range seen {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info().Domain < out[j].Info().Domain
	})
	return out
}
