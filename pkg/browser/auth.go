package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// AuthState is the outcome of an authentication probe.
type AuthState int

const (
	AuthExpired AuthState = iota
	AuthValid
)

func (s AuthState) String() string {
	if s == AuthValid {
		return "Valid"
	}
	return "Expired"
}

// AuthResult describes a probe outcome. Reason explains an Expired result.
type AuthResult struct {
	State  AuthState
	URL    string
	Reason string
}

// Valid reports whether the session is signed in.
func (r AuthResult) Valid() bool {
	return r.State == AuthValid
}

// Err returns nil for a valid session and an AuthExpired QueryError otherwise.
func (r AuthResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &QueryError{Kind: KindAuthExpired, Op: "check auth", Err: fmt.Errorf("%s", r.Reason)}
}

// Prober classifies whether a Manager's session is still signed in. The
// check is heuristic: it looks for login redirects and signed-out landing
// text, so a redesign of the remote page can fool it.
type Prober struct {
	m          *Manager
	loginHosts []glob.Glob
	patternErr error
}

// NewProber creates a prober over m using m's AppURL, login hosts and landing
// markers.
func NewProber(m *Manager) *Prober {
	p := &Prober{m: m}
	for _, pattern := range m.opts.LoginHosts {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			p.patternErr = fmt.Errorf("invalid login host pattern %q: %w", pattern, err)
			break
		}
		p.loginHosts = append(p.loginHosts, g)
	}
	return p
}

// CheckAuth navigates to the application root and classifies the result.
// It fails closed: any fault is reported as Expired.
func (p *Prober) CheckAuth(ctx context.Context) (result AuthResult) {
	log := p.m.logger
	defer func() {
		if r := recover(); r != nil {
			result = AuthResult{State: AuthExpired, Reason: fmt.Sprintf("auth check panicked: %v", r)}
		}
		log.Infof("auth check: %s (url=%s reason=%q)", result.State, result.URL, result.Reason)
	}()

	if p.patternErr != nil {
		return AuthResult{State: AuthExpired, Reason: p.patternErr.Error()}
	}

	opts := p.m.opts
	err := p.m.withPage(ctx, func(page Page) error {
		if err := p.m.await(ctx, opts.Timeouts.Navigation, func(d time.Duration) error {
			return page.Goto(opts.AppURL, d)
		}); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if err := sleep(ctx, opts.Timeouts.AuthSettle); err != nil {
			return err
		}

		result.URL = page.URL()
		if host, ok := p.loginHost(result.URL); ok {
			result.Reason = "redirected to login host " + host
			return nil
		}

		var body string
		if err := p.m.await(ctx, opts.Timeouts.Action, func(d time.Duration) error {
			var err error
			body, err = page.BodyText(d)
			return err
		}); err != nil {
			return fmt.Errorf("read page text: %w", err)
		}
		if marker, ok := containsMarker(body, opts.LandingMarkers); ok {
			result.Reason = fmt.Sprintf("page shows signed-out marker %q", marker)
			return nil
		}

		result.State = AuthValid
		return nil
	})
	if err != nil {
		return AuthResult{State: AuthExpired, URL: result.URL, Reason: err.Error()}
	}
	return result
}

// loginHost reports whether rawURL's host matches a login host pattern.
func (p *Prober) loginHost(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, g := range p.loginHosts {
		if g.Match(host) {
			return host, true
		}
	}
	return "", false
}

func containsMarker(body string, markers []string) (string, bool) {
	for _, marker := range markers {
		if marker != "" && strings.Contains(body, marker) {
			return marker, true
		}
	}
	return "", false
}
