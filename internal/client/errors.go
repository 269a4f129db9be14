package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrChallengeFailed means the challenge solver could not produce an
	// unchallenged response for a URL (or its user agent did not match
	// the configured one). The URL is not retried.
	ErrChallengeFailed = errors.New("challenge could not be solved")

	// ErrSolverUnavailable means a challenge was detected but no solver
	// is configured.
	ErrSolverUnavailable = errors.New("challenge detected and no solver configured")
)

// StatusError is returned for HTTP responses whose status indicates a
// failure. Its methods drive retry classification.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Permanent reports whether the status should never be retried:
// 4xx other than 408 and 429.
func (e *StatusError) Permanent() bool {
	if e.Code >= 400 && e.Code < 500 {
		return e.Code != http.StatusRequestTimeout && e.Code != http.StatusTooManyRequests
	}
	return false
}

// RateLimited reports whether the status signals throttling (429, 521).
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == 521
}

// Transient reports whether the status is worth a plain retry:
// 408 and 5xx other than the challenge statuses 520/521.
func (e *StatusError) Transient() bool {
	if e.Code == http.StatusRequestTimeout {
		return true
	}
	return e.Code >= 500 && e.Code != 520 && e.Code != 521
}

// challengeStatus reports whether a status commonly fronts an anti-bot
// interstitial.
func challengeStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 520, 521:
		return true
	}
	return false
}
