package cookies

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Jar is the shared host-scoped cookie store. Cookies are grouped by
// registered domain so that sub.example.com and example.com share an
// entry. Reads are concurrent; updates replace cookies atomically per
// (name, domain, path) key.
type Jar struct {
	mu       sync.RWMutex
	byDomain map[string][]Cookie
}

// NewJar creates an empty jar.
func NewJar() *Jar {
	return &Jar{byDomain: make(map[string][]Cookie)}
}

// registeredDomain reduces host to its eTLD+1. Hosts below the public
// suffix boundary (IPs, localhost) are returned unchanged.
func registeredDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// SeedFromDir loads every Cookies/<site>.txt Netscape dump under dir.
// Missing directory is not an error; unreadable files are skipped and
// reported in the returned map of file → error.
func (j *Jar) SeedFromDir(dir string) map[string]error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	failures := make(map[string]error)
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cs, err := ParseNetscape(path)
		if err != nil {
			failures[path] = err
			continue
		}
		j.SetCookies(cs)
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

// SetCookies inserts or replaces cookies. Replacement is keyed by
// (name, domain, path) and happens atomically with respect to readers,
// which is what the challenge-solver update path relies on.
func (j *Jar) SetCookies(cs []Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cs {
		key := registeredDomain(strings.TrimPrefix(strings.TrimPrefix(c.Domain, "*."), "."))
		existing := j.byDomain[key]
		replaced := false
		for i, old := range existing {
			if old.Name == c.Name && old.Domain == c.Domain && old.Path == c.Path {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
		j.byDomain[key] = existing
	}
}

// CookiesFor returns the cookies applicable to u, honoring domain scope
// (exact, dot-prefixed, and *. wildcard), path prefix, and the Secure
// flag. Results are ordered longest-path first, then by name, matching
// conventional jar ordering.
func (j *Jar) CookiesFor(u *url.URL) []Cookie {
	host := strings.ToLower(u.Hostname())
	key := registeredDomain(host)

	j.mu.RLock()
	candidates := j.byDomain[key]
	out := make([]Cookie, 0, len(candidates))
	for _, c := range candidates {
		if !domainMatches(c.Domain, host) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		if c.Path != "" && c.Path != "/" && !pathMatches(c.Path, u.Path) {
			continue
		}
		out = append(out, c)
	}
	j.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool {
		if len(out[a].Path) != len(out[b].Path) {
			return len(out[a].Path) > len(out[b].Path)
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// Header returns the Cookie header value for u, or "" when no cookies apply.
func (j *Jar) Header(u *url.URL) string {
	return BuildCookieHeader(j.CookiesFor(u))
}

// domainMatches checks a cookie domain against a request host using the
// registered-domain convention: "example.com" matches only itself,
// ".example.com" and "*.example.com" match the domain and any subdomain.
func domainMatches(cookieDomain, host string) bool {
	d := strings.ToLower(cookieDomain)
	if wild, ok := strings.CutPrefix(d, "*."); ok {
		return host == wild || strings.HasSuffix(host, "."+wild)
	}
	if dot, ok := strings.CutPrefix(d, "."); ok {
		return host == dot || strings.HasSuffix(host, "."+dot)
	}
	return host == d
}

func pathMatches(cookiePath, reqPath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if reqPath == cookiePath {
		return true
	}
	if strings.HasPrefix(reqPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
	}
	return false
}
