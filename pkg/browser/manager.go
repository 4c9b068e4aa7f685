package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/entrhq/notebridge/pkg/cookies"
	"github.com/entrhq/notebridge/pkg/credentials"
	"github.com/entrhq/notebridge/pkg/logging"
)

// CredentialSource supplies the cookies injected into a freshly launched
// context. It is consulted once per cold start.
type CredentialSource interface {
	Resolve(ctx context.Context) ([]cookies.Record, credentials.Source)
}

// Manager owns one persistent browser context and at most one page.
// Operations that drive the page are serialized; Status and Close never wait
// for an in-flight query.
type Manager struct {
	engine Engine
	opts   Options
	creds  CredentialSource
	logger *logging.Logger

	// sem admits one page-driving operation at a time.
	sem *semaphore.Weighted

	mu       sync.Mutex
	bctx     BrowserContext
	page     Page
	closed   bool
	launches int
	// pending holds engine calls that await stopped waiting for. Each
	// channel closes when its call returns.
	pending []chan struct{}
}

// NewManager creates a manager. Nothing is launched until Start or the first
// query. creds and logger may be nil.
func NewManager(engine Engine, opts Options, creds CredentialSource, logger *logging.Logger) *Manager {
	return &Manager{
		engine: engine,
		opts:   opts.withDefaults(),
		creds:  creds,
		logger: logging.Must(logger),
		sem:    semaphore.NewWeighted(1),
	}
}

// Options returns the effective options, defaults applied.
func (m *Manager) Options() Options {
	return m.opts
}

// Start launches the browser context if no live page exists. Calling it on a
// started session is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	return m.withPage(ctx, func(Page) error { return nil })
}

// Query submits question on the notebook at url and returns the answer text.
// Failures are returned as *QueryError.
func (m *Manager) Query(ctx context.Context, url, question string) (string, error) {
	var answer string
	err := m.withPage(ctx, func(p Page) error {
		var err error
		answer, err = m.runQuery(ctx, p, newAttempt(url, question))
		return err
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

// Open navigates the session page to url. The login flow uses it to show the
// sign-in page in a visible browser.
func (m *Manager) Open(ctx context.Context, url string) error {
	return m.withPage(ctx, func(p Page) error {
		if err := m.await(ctx, m.opts.Timeouts.Navigation, func(d time.Duration) error {
			return p.Goto(url, d)
		}); err != nil {
			return &QueryError{Kind: KindInteraction, Op: "open " + url, Err: err}
		}
		return nil
	})
}

// ExportCookies returns every cookie held by the live context.
func (m *Manager) ExportCookies(ctx context.Context) ([]cookies.Record, error) {
	var records []cookies.Record
	err := m.withPage(ctx, func(Page) error {
		m.mu.Lock()
		bctx := m.bctx
		m.mu.Unlock()
		if bctx == nil {
			return closedError()
		}
		var err error
		records, err = bctx.Cookies()
		return err
	})
	return records, err
}

// Status reports whether a live page exists and where it is.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.page == nil || m.page.IsClosed() {
		return Status{}
	}
	return Status{Active: true, URL: m.page.URL()}
}

// LaunchCount returns how many browser contexts this manager has launched.
func (m *Manager) LaunchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launches
}

// Close releases the page, the context and the engine. The manager is
// terminal afterwards. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	page, bctx := m.page, m.bctx
	m.page, m.bctx = nil, nil
	m.mu.Unlock()

	var errs []error
	if page != nil && !page.IsClosed() {
		if err := page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if bctx != nil {
		if err := bctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if err := m.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	m.logger.Infof("browser session closed")
	return errors.Join(errs...)
}

// withPage runs fn with exclusive use of a live page, starting the session
// first if needed.
func (m *Manager) withPage(ctx context.Context, fn func(Page) error) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return &QueryError{Kind: KindInteraction, Op: "wait for session", Err: err}
	}
	defer m.sem.Release(1)

	if err := m.drain(ctx); err != nil {
		return &QueryError{Kind: KindInteraction, Op: "wait for previous operation", Err: err}
	}
	page, err := m.ensureStarted(ctx)
	if err != nil {
		return err
	}
	return fn(page)
}

// abandon records an engine call that is still running after its caller
// gave up on it.
func (m *Manager) abandon(finished chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, finished)
}

// drain blocks until every abandoned engine call has returned, so that a
// late Fill or Click never lands in the next operation. Callers hold sem.
func (m *Manager) drain(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(pending) > 0 {
		m.logger.Debugf("waiting for %d abandoned browser calls", len(pending))
	}
	for i, finished := range pending {
		select {
		case <-finished:
		case <-ctx.Done():
			m.mu.Lock()
			m.pending = append(pending[i:], m.pending...)
			m.mu.Unlock()
			return ctx.Err()
		}
	}
	return nil
}

// ensureStarted returns the live page, launching a context when there is
// none. Callers hold sem.
func (m *Manager) ensureStarted(ctx context.Context) (Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, closedError()
	}
	page, bctx := m.page, m.bctx
	m.mu.Unlock()

	if page != nil && !page.IsClosed() {
		return page, nil
	}

	// The context can outlive its page; try a new tab before relaunching.
	if bctx != nil {
		if p, err := bctx.NewPage(); err == nil {
			return m.adopt(bctx, p)
		}
		_ = bctx.Close()
		m.mu.Lock()
		m.bctx, m.page = nil, nil
		m.mu.Unlock()
	}

	bctx, page, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	return m.adopt(bctx, page)
}

// adopt installs a freshly created context and page unless Close won the race.
func (m *Manager) adopt(bctx BrowserContext, page Page) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		_ = page.Close()
		_ = bctx.Close()
		return nil, closedError()
	}
	m.bctx, m.page = bctx, page
	return page, nil
}

// launch starts a persistent context, injects credentials and opens the page.
// Everything acquired is released when a later step fails.
func (m *Manager) launch(ctx context.Context) (BrowserContext, Page, error) {
	if m.opts.ProfileDir != "" {
		if err := os.MkdirAll(m.opts.ProfileDir, 0700); err != nil {
			return nil, nil, &QueryError{Kind: KindSessionStart, Op: "create profile dir", Err: err}
		}
	}

	m.logger.Infof("launching browser (headless=%t, profile=%s)", m.opts.Headless, m.opts.ProfileDir)

	launchOpts := LaunchOptions{
		UserDataDir: m.opts.ProfileDir,
		Headless:    m.opts.Headless,
		UserAgent:   m.opts.UserAgent,
		Viewport:    m.opts.Viewport,
		Timeout:     m.opts.Timeouts.Navigation,
	}
	if m.opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = m.opts.ExecutablePath
	} else {
		launchOpts.Channel = m.opts.Channel
	}

	bctx, err := m.engine.LaunchPersistent(ctx, launchOpts)
	if err != nil {
		return nil, nil, &QueryError{Kind: KindSessionStart, Op: "launch", Err: err}
	}

	m.mu.Lock()
	m.launches++
	m.mu.Unlock()

	// Cookies must be in the context before the first navigation.
	if m.creds != nil {
		records, source := m.creds.Resolve(ctx)
		if len(records) > 0 {
			if err := bctx.AddCookies(records); err != nil {
				m.logger.Warnf("failed to inject %d cookies from %s: %v", len(records), source, err)
			} else {
				m.logger.Infof("injected %d cookies from %s: %v", len(records), source, cookies.Names(records))
			}
		} else {
			m.logger.Infof("no cookies to inject, relying on browser profile")
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, nil, &QueryError{Kind: KindSessionStart, Op: "new page", Err: err}
	}
	return bctx, page, nil
}
