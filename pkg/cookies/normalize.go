package cookies

import (
	"bytes"
	"encoding/json"
	"strings"
)

// commentMarker starts a trailing comment block that some cookie exports
// append after the data.
const commentMarker = "/*"

// Tab-separated column positions as produced by copying rows from the
// DevTools Application > Cookies table.
const (
	colName     = 0
	colValue    = 1
	colDomain   = 2
	colPath     = 3
	colSecure   = 7
	colSameSite = 8
)

// Normalizer turns raw credential text into canonical records for one root
// domain. The zero value uses DefaultRootDomain.
type Normalizer struct {
	// RootDomain is the registrable domain of the target application
	// (for example "google.com").
	RootDomain string
}

// NewNormalizer creates a normalizer for rootDomain. An empty rootDomain
// selects DefaultRootDomain.
func NewNormalizer(rootDomain string) *Normalizer {
	return &Normalizer{RootDomain: strings.TrimPrefix(strings.TrimSpace(rootDomain), ".")}
}

// Normalize parses raw with the default root domain.
func Normalize(raw string) []Record {
	return (&Normalizer{}).Normalize(raw)
}

// Canonicalize applies the record invariants with the default root domain.
func Canonicalize(records []Record) []Record {
	return (&Normalizer{}).Canonicalize(records)
}

func (n *Normalizer) root() string {
	if n == nil || n.RootDomain == "" {
		return DefaultRootDomain
	}
	return n.RootDomain
}

// DefaultDomain is the domain assigned to records that do not name one.
func (n *Normalizer) DefaultDomain() string {
	return "." + n.root()
}

// Normalize converts raw into canonical records. It never fails: text with no
// usable records yields an empty (non-nil) slice and the caller decides
// whether that is fatal.
func (n *Normalizer) Normalize(raw string) []Record {
	if idx := strings.Index(raw, commentMarker); idx >= 0 {
		raw = raw[:idx]
	}

	records, ok := n.parseStructured(raw)
	if !ok {
		records = n.parseTabular(raw)
	}
	return n.Canonicalize(records)
}

// Canonicalize enforces the record invariants on already-parsed records:
// leading-dot domains under the root domain, default path, secure for
// prefixed names and SameSite=None, and removal of empty or placeholder
// entries.
func (n *Normalizer) Canonicalize(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		r.Name = strings.TrimSpace(r.Name)
		r.Value = strings.TrimSpace(r.Value)
		if r.Name == "" || r.Value == "" || r.Name == PlaceholderName {
			continue
		}

		r.Domain = n.canonicalDomain(r.Domain)
		if strings.TrimSpace(r.Path) == "" {
			r.Path = DefaultPath
		}

		if ss, ok := validSameSite(r.SameSite); ok {
			r.SameSite = ss
		} else {
			r.SameSite = SameSiteLax
		}

		if strings.HasPrefix(r.Name, "__Secure-") || strings.HasPrefix(r.Name, "__Host-") {
			r.Secure = true
		}
		if r.SameSite == SameSiteNone {
			r.Secure = true
		}

		if r.Expires != nil && *r.Expires <= 0 {
			r.Expires = nil
		}
		out = append(out, r)
	}
	return out
}

func (n *Normalizer) canonicalDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return n.DefaultDomain()
	}
	if strings.Contains(domain, n.root()) && !strings.HasPrefix(domain, ".") {
		return "." + domain
	}
	return domain
}

// jsonCookie is the union of the export formats we accept. Fields are
// pointers where absence and zero differ.
type jsonCookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         *string  `json:"domain"`
	Path           *string  `json:"path"`
	Secure         *bool    `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	SameSite       *string  `json:"sameSite"`
	Expires        *float64 `json:"expires"`
	ExpirationDate *float64 `json:"expirationDate"`
}

// storageState is the shape written by a browser context's storage-state
// export.
type storageState struct {
	Cookies []jsonCookie `json:"cookies"`
}

// parseStructured handles JSON input. The boolean reports whether raw was
// structured at all; a JSON document with no cookies is still structured.
func (n *Normalizer) parseStructured(raw string) ([]Record, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	var list []jsonCookie
	if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
		var state storageState
		if err := json.Unmarshal([]byte(trimmed), &state); err != nil {
			return nil, false
		}
		list = state.Cookies
	}

	records := make([]Record, 0, len(list))
	for _, c := range list {
		records = append(records, n.fromJSON(c))
	}
	return records, true
}

func (n *Normalizer) fromJSON(c jsonCookie) Record {
	r := Record{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   n.DefaultDomain(),
		Path:     DefaultPath,
		Secure:   true,
		HTTPOnly: c.HTTPOnly,
		SameSite: SameSiteLax,
	}
	if c.Domain != nil {
		r.Domain = *c.Domain
	}
	if c.Path != nil {
		r.Path = *c.Path
	}
	if c.Secure != nil {
		r.Secure = *c.Secure
	}
	if c.SameSite != nil {
		r.SameSite = extensionSameSite(*c.SameSite)
	}
	switch {
	case c.Expires != nil:
		r.Expires = c.Expires
	case c.ExpirationDate != nil:
		r.Expires = c.ExpirationDate
	}
	return r
}

// extensionSameSite maps the values used by browser-extension exports onto
// the browser's own names. Unknown values pass through for Canonicalize.
func extensionSameSite(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "no_restriction":
		return SameSiteNone
	case "unspecified":
		return SameSiteLax
	}
	return v
}

func (n *Normalizer) parseTabular(raw string) []Record {
	var records []Record
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		// DevTools includes the header row when a whole table is copied.
		if parts[colName] == "Name" && parts[colValue] == "Value" {
			continue
		}

		r := Record{
			Name:     parts[colName],
			Value:    parts[colValue],
			Domain:   field(parts, colDomain),
			Path:     field(parts, colPath),
			SameSite: SameSiteLax,
		}

		switch strings.ToLower(field(parts, colSecure)) {
		case "✓", "true":
			r.Secure = true
		}
		if ss, ok := validSameSite(field(parts, colSameSite)); ok && field(parts, colSameSite) == ss {
			r.SameSite = ss
		}

		records = append(records, r)
	}
	return records
}

// field returns parts[i] or "" when the row is shorter.
func field(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

// Serialize renders records as the canonical JSON array stored on disk.
func Serialize(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	// The comment marker can only occur inside string values; escape it so
	// Normalize does not truncate its own output.
	return bytes.ReplaceAll(data, []byte(commentMarker), []byte(`/\u002a`)), nil
}
