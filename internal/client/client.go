// Package client implements the HTTP client layer. Every request passes
// through the rate governor, the cookie jar, and (for GET) the request
// cache; challenge pages are routed through the configured solver at most
// once per URL.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jbsparrow/cyberdrop-dl/internal/cache"
	"github.com/jbsparrow/cyberdrop-dl/internal/cookies"
	"github.com/jbsparrow/cyberdrop-dl/internal/rate"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
)

// maxBodySize caps buffered page bodies. Media transfers use Stream and
// are not buffered.
const maxBodySize = 64 << 20

// Solution is what a challenge solver returns for a URL.
type Solution struct {
	Status    int
	URL       string
	Cookies   []cookies.Cookie
	Headers   map[string]string
	UserAgent string
	Content   []byte
}

// Solver solves anti-bot challenge pages. Implemented by the
// flaresolverr adapter.
type Solver interface {
	Solve(ctx context.Context, rawurl string) (*Solution, error)
}

// Options modify a single request.
type Options struct {
	Headers   map[string]string
	Referer   string
	UserAgent string // per-scraper override of the configured UA
	NoCache   bool   // skip cache participation entirely
	Bust      bool   // drop any cached entry and fetch fresh
}

// Response is a buffered HTTP response.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	FromCache bool
	URL       string // final URL after redirects
}

// Config holds client construction parameters.
type Config struct {
	UserAgent      string
	Attempts       int // download_attempts, bounds transient retries
	Proxy          string
	TLSMode        string
	ConnectTimeout time.Duration
	Policy         cache.Policy
}

// Client is the shared HTTP client layer.
type Client struct {
	cfg    Config
	http   *http.Client
	gov    *rate.Governor
	store  *cache.Store // nil disables caching
	jar    *cookies.Jar
	solver Solver // nil disables challenge solving
	retry  RetryConfig
	log    logger.Logger
}

// New builds a client. store and solver may be nil.
func New(cfg Config, gov *rate.Governor, store *cache.Store, jar *cookies.Jar, solver Solver, log logger.Logger) (*Client, error) {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefMaxRetries
	}
	if jar == nil {
		jar = cookies.NewJar()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	hc, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	retry := DefaultRetryConfig()
	retry.MaxRetries = cfg.Attempts
	return &Client{
		cfg:    cfg,
		http:   hc,
		gov:    gov,
		store:  store,
		jar:    jar,
		solver: solver,
		retry:  retry,
		log:    log,
	}, nil
}

// Jar returns the shared cookie jar.
func (c *Client) Jar() *cookies.Jar { return c.jar }

// UserAgent returns the configured user agent.
func (c *Client) UserAgent() string { return c.cfg.UserAgent }

// Get issues a GET. Responses with status >= 400 are returned alongside a
// *StatusError so callers can still inspect headers and body.
func (c *Client) Get(ctx context.Context, rawurl string, opts *Options) (*Response, error) {
	return c.fetch(ctx, http.MethodGet, rawurl, nil, opts)
}

// Head issues a HEAD request. Never cached.
func (c *Client) Head(ctx context.Context, rawurl string) (*Response, error) {
	return c.fetch(ctx, http.MethodHead, rawurl, nil, &Options{NoCache: true})
}

// Post issues a POST with the given body. Never cached.
func (c *Client) Post(ctx context.Context, rawurl string, body []byte, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.NoCache = true
	return c.fetch(ctx, http.MethodPost, rawurl, body, opts)
}

func (c *Client) fetch(ctx context.Context, method, rawurl string, body []byte, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("client: parse %q: %w", rawurl, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}

	useCache := method == http.MethodGet && c.store != nil && !opts.NoCache
	if useCache {
		if opts.Bust {
			_ = c.store.Delete(method, u.String())
		} else if e, err := c.store.Get(method, u.String()); err == nil && e != nil {
			resp := &Response{
				Status:    e.Status,
				Header:    e.Header,
				Body:      e.Body,
				FromCache: true,
				URL:       u.String(),
			}
			if e.Status >= 400 {
				return resp, &StatusError{Code: e.Status, URL: u.String()}
			}
			return resp, nil
		}
	}

	var (
		state  RetryState
		solved bool
		resp   *Response
	)
	for {
		state.Attempts++
		resp, err = c.roundTrip(ctx, method, u, body, opts)

		if err == nil && !solved && c.challenged(resp) {
			solved = true
			var sr *Response
			sr, err = c.solve(ctx, u)
			if err != nil {
				return nil, err
			}
			if sr != nil {
				resp = sr
			} else {
				// Cookies installed, re-fetch the original URL.
				continue
			}
		}

		if err == nil {
			if useCache && cache.CacheableStatus(resp.Status) && !fingerprinted(resp.Body) {
				e := &cache.Entry{
					Method: method,
					URL:    u.String(),
					Status: resp.Status,
					Header: resp.Header,
					Body:   resp.Body,
				}
				if perr := c.store.Put(e, c.cfg.Policy.TTLFor(u.Hostname())); perr != nil {
					c.log.Warning("request cache write failed for %s: %v", u.Hostname(), perr)
				}
			}
			if resp.Status >= 400 {
				err = &StatusError{Code: resp.Status, URL: u.String()}
			} else {
				return resp, nil
			}
		}

		state.LastError = err
		if !c.retry.ShouldRetry(&state, err) {
			return resp, err
		}
		if werr := c.retry.WaitForRetry(ctx, &state, ClassifyError(err)); werr != nil {
			return resp, werr
		}
	}
}

// challenged reports whether resp is an anti-bot interstitial that should
// be routed through the solver.
func (c *Client) challenged(resp *Response) bool {
	return looksChallenged(resp.Status, resp.Body)
}

// solve runs the challenge solver once for u. A nil, nil return means the
// solver installed cookies but its content is unusable (user agent
// mismatch) and the original URL should be re-fetched.
func (c *Client) solve(ctx context.Context, u *url.URL) (*Response, error) {
	if c.solver == nil {
		return nil, ErrSolverUnavailable
	}
	sol, err := c.solver.Solve(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeFailed, err)
	}
	if len(sol.Cookies) > 0 {
		c.jar.SetCookies(sol.Cookies)
	}
	if looksChallenged(sol.Status, sol.Content) {
		if sol.UserAgent != "" && sol.UserAgent != c.cfg.UserAgent {
			return nil, fmt.Errorf("%w: solver user agent %q does not match configured %q",
				ErrChallengeFailed, sol.UserAgent, c.cfg.UserAgent)
		}
		return nil, ErrChallengeFailed
	}
	if sol.UserAgent != "" && sol.UserAgent != c.cfg.UserAgent {
		// Solved with a different UA: the cookies are bound to it, so the
		// body may not match what our client would see. Re-fetch.
		return nil, nil
	}
	hdr := make(http.Header, len(sol.Headers))
	for k, v := range sol.Headers {
		hdr.Set(k, v)
	}
	finalURL := sol.URL
	if finalURL == "" {
		finalURL = u.String()
	}
	return &Response{
		Status: sol.Status,
		Header: hdr,
		Body:   sol.Content,
		URL:    finalURL,
	}, nil
}

// roundTrip performs one rate-limited request and buffers the body.
func (c *Client) roundTrip(ctx context.Context, method string, u *url.URL, body []byte, opts *Options) (*Response, error) {
	if err := c.gov.Wait(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, opts)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return &Response{
		Status: res.StatusCode,
		Header: res.Header,
		Body:   b,
		URL:    res.Request.URL.String(),
	}, nil
}

// Stream performs a rate-limited GET and returns the raw response without
// buffering, for the download engine. The caller owns resp.Body. The
// request bypasses the cache and the solver; retry policy belongs to the
// engine.
func (c *Client) Stream(ctx context.Context, rawurl string, opts *Options) (*http.Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("client: parse %q: %w", rawurl, err)
	}
	if err := c.gov.Wait(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, opts)
	return c.http.Do(req)
}

func (c *Client) setHeaders(req *http.Request, opts *Options) {
	ua := c.cfg.UserAgent
	if opts.UserAgent != "" {
		ua = opts.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if ck := c.jar.Header(req.URL); ck != "" {
		req.Header.Set("Cookie", ck)
	}
}
