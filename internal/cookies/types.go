// Package cookies implements the shared host-scoped cookie store. It is
// seeded from per-site Netscape cookie dumps and updated atomically when
// the challenge solver returns fresh cookies.
package cookies

import "time"

// Cookie represents a single HTTP cookie.
// IMPORTANT: Cookie values are SENSITIVE — they MUST NEVER be logged,
// stored outside the jar and its seed files, or formatted into error
// messages. Only Name and Domain may appear in debug logs.
type Cookie struct {
	// Name is the cookie name.
	Name string
	// Value is the cookie value. SENSITIVE — never log.
	Value string
	// Domain is the cookie domain (may have leading dot for
	// subdomain-inclusive cookies, or a *. wildcard prefix).
	Domain string
	// Path is the cookie path scope.
	Path string
	// Expiry is the cookie expiration time. Zero means session cookie.
	Expiry time.Time
	// Secure indicates the cookie should only be sent over HTTPS.
	Secure bool
	// HttpOnly indicates the cookie is not accessible via JavaScript.
	HttpOnly bool
}
