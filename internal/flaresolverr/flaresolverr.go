// Package flaresolverr adapts a FlareSolverr instance as a challenge
// solver for the HTTP client. One browser session is created lazily on
// the first challenge and reused until Destroy.
package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jbsparrow/cyberdrop-dl/internal/client"
	"github.com/jbsparrow/cyberdrop-dl/internal/cookies"
	"github.com/jbsparrow/cyberdrop-dl/pkg/logger"
)

// solveTimeout is the maxTimeout passed to FlareSolverr, in milliseconds.
const solveTimeout = 60_000

// ErrNotConfigured means no FlareSolverr URL was set.
var ErrNotConfigured = errors.New("flaresolverr: not configured")

type command struct {
	Cmd        string `json:"cmd"`
	Session    string `json:"session,omitempty"`
	URL        string `json:"url,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
	Proxy      *proxy `json:"proxy,omitempty"`
}

type proxy struct {
	URL string `json:"url"`
}

type reply struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Session  string    `json:"session"`
	Sessions []string  `json:"sessions"`
	Solution *solution `json:"solution"`
}

type solution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Cookies   []solutionCookie  `json:"cookies"`
	Headers   map[string]string `json:"headers"`
	UserAgent string            `json:"userAgent"`
	Response  string            `json:"response"`
}

type solutionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

// Client talks to one FlareSolverr instance. Solve calls are serialized:
// the solver drives a single headless browser and concurrent commands
// only queue up inside it anyway.
type Client struct {
	base  string
	proxy string
	http  *http.Client
	log   logger.Logger

	mu      sync.Mutex
	session string
}

// New returns a solver for the FlareSolverr at base (e.g.
// "http://localhost:8191"). proxyURL, when non-empty, is passed through
// to the browser session.
func New(base, proxyURL string, log logger.Logger) (*Client, error) {
	if base == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		proxy: proxyURL,
		http:  &http.Client{Timeout: 2 * time.Minute},
		log:   log,
	}, nil
}

var _ client.Solver = (*Client)(nil)

// Solve requests a solved rendition of rawurl from FlareSolverr.
func (c *Client) Solve(ctx context.Context, rawurl string) (*client.Solution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSessionLocked(ctx); err != nil {
		return nil, err
	}

	rep, err := c.post(ctx, &command{
		Cmd:        "get",
		Session:    c.session,
		URL:        rawurl,
		MaxTimeout: solveTimeout,
	})
	if err != nil {
		return nil, err
	}
	if rep.Solution == nil {
		return nil, fmt.Errorf("flaresolverr: no solution for %s: %s", rawurl, rep.Message)
	}

	sol := rep.Solution
	out := &client.Solution{
		Status:    sol.Status,
		URL:       sol.URL,
		Headers:   sol.Headers,
		UserAgent: sol.UserAgent,
		Content:   []byte(sol.Response),
	}
	for _, ck := range sol.Cookies {
		var exp time.Time
		if ck.Expires > 0 {
			exp = time.Unix(int64(ck.Expires), 0)
		}
		out.Cookies = append(out.Cookies, cookies.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expiry:   exp,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		})
	}
	return out, nil
}

// ensureSessionLocked creates the browser session on first use.
func (c *Client) ensureSessionLocked(ctx context.Context) error {
	if c.session != "" {
		return nil
	}
	cmd := &command{Cmd: "create_session"}
	if c.proxy != "" {
		cmd.Proxy = &proxy{URL: c.proxy}
	}
	rep, err := c.post(ctx, cmd)
	if err != nil {
		return fmt.Errorf("flaresolverr: create session: %w", err)
	}
	if rep.Session == "" {
		return fmt.Errorf("flaresolverr: create session: empty session id (%s)", rep.Message)
	}
	c.session = rep.Session
	c.log.Info("flaresolverr session %s created", c.session)
	return nil
}

// Sessions lists the sessions the instance currently holds.
func (c *Client) Sessions(ctx context.Context) ([]string, error) {
	rep, err := c.post(ctx, &command{Cmd: "list_sessions"})
	if err != nil {
		return nil, err
	}
	return rep.Sessions, nil
}

// Destroy tears down the browser session, if one was created. Safe to
// call multiple times.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == "" {
		return nil
	}
	_, err := c.post(ctx, &command{Cmd: "destroy_session", Session: c.session})
	if err != nil {
		return fmt.Errorf("flaresolverr: destroy session: %w", err)
	}
	c.log.Info("flaresolverr session %s destroyed", c.session)
	c.session = ""
	return nil
}

func (c *Client) post(ctx context.Context, cmd *command) (*reply, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: %s: %w", cmd.Cmd, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	var rep reply
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, fmt.Errorf("flaresolverr: %s: bad response: %w", cmd.Cmd, err)
	}
	if rep.Status != "ok" {
		return nil, fmt.Errorf("flaresolverr: %s failed: %s", cmd.Cmd, rep.Message)
	}
	return &rep, nil
}
