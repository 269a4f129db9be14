package client

import (
	"bytes"
	"strings"
)

// Known anti-bot challenge fingerprints. A body matching any of these is
// treated as a challenge page regardless of status, and is never cached.
var challengeFingerprints = [][]byte{
	[]byte("<title>Just a moment...</title>"),
	[]byte("cf-browser-verification"),
	[]byte("cf_chl_opt"),
	[]byte("/cdn-cgi/challenge-platform/"),
	[]byte("Checking your browser before accessing"),
	[]byte("DDoS protection by Cloudflare"),
	[]byte("ddos-guard"),
	[]byte("<title>DDOS-GUARD</title>"),
	[]byte("Attention Required! | Cloudflare"),
}

// looksChallenged reports whether a response is an anti-bot interstitial:
// either a challenge-fronting status with an HTML body, or a body carrying
// a known fingerprint.
func looksChallenged(status int, body []byte) bool {
	if fingerprinted(body) {
		return true
	}
	if !challengeStatus(status) {
		return false
	}
	// Challenge statuses without a fingerprint still count when the body
	// is an HTML interstitial rather than a plain API error.
	trimmed := bytes.TrimSpace(body)
	low := strings.ToLower(string(trimmed[:min(len(trimmed), 256)]))
	return strings.HasPrefix(low, "<!doctype html") || strings.HasPrefix(low, "<html")
}

// fingerprinted reports whether body matches a known challenge fingerprint.
func fingerprinted(body []byte) bool {
	for _, fp := range challengeFingerprints {
		if bytes.Contains(body, fp) {
			return true
		}
	}
	return false
}
