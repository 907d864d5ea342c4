// Package auth implements bearer token authentication for the ingest
// service. Device credentials come from a single environment variable of
// the form "token1:device1,token2:device2". Token comparison is constant
// time over every configured entry so response timing leaks nothing about
// prefixes or which token matched.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Verifier holds the parsed token→device map. It is immutable after
// construction and safe for concurrent use.
type Verifier struct {
	tokens map[string]string
}

// ParseDeviceTokens parses the credential string into a Verifier.
//
// Entries without a colon separator are skipped with a warning; whitespace
// around tokens and device IDs is trimmed; entries with an empty token or
// device ID are dropped.
func ParseDeviceTokens(raw string) *Verifier {
	tokens := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return &Verifier{tokens: tokens}
	}

	for idx, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		token, deviceID, found := strings.Cut(entry, ":")
		if !found {
			slog.Warn("skipping malformed device_tokens entry (no colon separator)", "position", idx)
			continue
		}
		token = strings.TrimSpace(token)
		deviceID = strings.TrimSpace(deviceID)
		if token == "" || deviceID == "" {
			continue
		}
		tokens[token] = deviceID
	}
	return &Verifier{tokens: tokens}
}

// Len returns the number of configured credentials.
func (v *Verifier) Len() int { return len(v.tokens) }

// Verify checks a presented token against every configured token using
// constant-time byte comparison. Returns the device ID and true on a match.
func (v *Verifier) Verify(presented string) (string, bool) {
	if presented == "" {
		return "", false
	}

	presentedBytes := []byte(presented)
	var (
		matched  bool
		deviceID string
	)
	// Compare against every entry; no early exit on first match, so the
	// total work is independent of which (if any) token matched.
	for token, dev := range v.tokens {
		if subtle.ConstantTimeCompare(presentedBytes, []byte(token)) == 1 {
			matched = true
			deviceID = dev
		}
	}
	return deviceID, matched
}

// FromRequest extracts and verifies the bearer token on an HTTP request.
// Returns the authenticated device ID, or false when the Authorization
// header is missing, not a Bearer credential, or carries an unknown token.
func (v *Verifier) FromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return v.Verify(strings.TrimSpace(token))
}
