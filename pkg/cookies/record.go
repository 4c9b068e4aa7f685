// Package cookies converts user-supplied credential text into canonical
// session-cookie records.
//
// Input may be a DevTools or extension JSON export, a Playwright storage-state
// file, or rows copied from the DevTools cookie table (tab separated). Every
// path ends in the same post-processing so that records are interchangeable
// regardless of where they came from. The package performs no I/O.
package cookies

import "strings"

// PlaceholderName is the name used by the credential template. Records with
// this name are never treated as real credentials.
const PlaceholderName = "PASTE_YOUR_COOKIES_HERE"

// SameSite values accepted by the browser.
const (
	SameSiteStrict = "Strict"
	SameSiteLax    = "Lax"
	SameSiteNone   = "None"
)

const (
	// DefaultRootDomain is the registrable domain of the notebook application.
	DefaultRootDomain = "google.com"

	// DefaultPath is used when a record has no path.
	DefaultPath = "/"
)

// Record is a canonical session cookie.
type Record struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Secure   bool     `json:"secure"`
	HTTPOnly bool     `json:"httpOnly,omitempty"`
	SameSite string   `json:"sameSite"`
	Expires  *float64 `json:"expires,omitempty"`
}

// Names returns the record names in order. Values are deliberately left out so
// the result is safe to log.
func Names(records []Record) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

// validSameSite maps any casing of a SameSite value to its canonical form.
func validSameSite(v string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return SameSiteStrict, true
	case "lax":
		return SameSiteLax, true
	case "none":
		return SameSiteNone, true
	}
	return "", false
}
