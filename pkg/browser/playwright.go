package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/notebridge/pkg/cookies"
)

// PlaywrightEngine drives Chromium through playwright-go. The driver is
// installed and started lazily on the first launch.
type PlaywrightEngine struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool

	// SkipInstall assumes the driver is already installed.
	SkipInstall bool

	// Stdout and Stderr receive driver install output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// NewPlaywrightEngine creates an engine; nothing is started until the first
// LaunchPersistent call.
func NewPlaywrightEngine() *PlaywrightEngine {
	return &PlaywrightEngine{}
}

// initialize installs and runs the Playwright driver. Callers hold mu.
func (e *PlaywrightEngine) initialize(opts LaunchOptions) error {
	if e.initialized {
		return nil
	}

	// Keep driver output off stdout; the tool server speaks JSON-RPC there.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  discardIfNil(e.Stdout),
		Stderr:  discardIfNil(e.Stderr),
	}
	if opts.ExecutablePath != "" || opts.Channel != "" {
		runOpts.SkipInstallBrowsers = true
	} else {
		runOpts.Browsers = []string{"chromium"}
	}

	if !e.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	e.playwright = pw
	e.initialized = true
	return nil
}

// LaunchPersistent implements Engine. If ctx is cancelled while the browser
// is starting, the late context is closed once it arrives.
func (e *PlaywrightEngine) LaunchPersistent(ctx context.Context, opts LaunchOptions) (BrowserContext, error) {
	type result struct {
		bc  playwright.BrowserContext
		err error
	}
	done := make(chan result, 1)

	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if err := e.initialize(opts); err != nil {
			done <- result{err: err}
			return
		}

		launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:  playwright.Bool(opts.Headless),
			UserAgent: playwright.String(opts.UserAgent),
			Viewport: &playwright.Size{
				Width:  opts.Viewport.Width,
				Height: opts.Viewport.Height,
			},
		}
		if opts.ExecutablePath != "" {
			launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
		} else if opts.Channel != "" {
			launchOpts.Channel = playwright.String(opts.Channel)
		}
		if opts.Timeout > 0 {
			launchOpts.Timeout = millis(opts.Timeout)
		}

		bc, err := e.playwright.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
		if err != nil {
			done <- result{err: fmt.Errorf("failed to launch browser: %w", err)}
			return
		}
		done <- result{bc: bc}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &pwContext{bc: r.bc}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.bc != nil {
				_ = r.bc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Stop implements Engine.
func (e *PlaywrightEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.initialized = false
	pw := e.playwright
	e.playwright = nil
	if err := pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwContext struct {
	bc playwright.BrowserContext
}

func (c *pwContext) AddCookies(records []cookies.Record) error {
	batch := make([]playwright.OptionalCookie, 0, len(records))
	for _, r := range records {
		batch = append(batch, toOptionalCookie(r))
	}
	if err := c.bc.AddCookies(batch); err != nil {
		return fmt.Errorf("add cookies failed: %w", err)
	}
	return nil
}

func (c *pwContext) Cookies() ([]cookies.Record, error) {
	all, err := c.bc.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies failed: %w", err)
	}
	records := make([]cookies.Record, 0, len(all))
	for _, ck := range all {
		records = append(records, fromCookie(ck))
	}
	return records, nil
}

// NewPage reuses the tab a persistent context opens at launch, if any.
func (c *pwContext) NewPage() (Page, error) {
	for _, page := range c.bc.Pages() {
		if !page.IsClosed() {
			return &pwPage{page: page}, nil
		}
	}
	page, err := c.bc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{page: page}, nil
}

func (c *pwContext) Close() error {
	return c.bc.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(timeout),
	})
	return wrap("navigation failed", err)
}

func (p *pwPage) WaitFor(selector string, state WaitState, timeout time.Duration) error {
	s := playwright.WaitForSelectorState(state)
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &s,
		Timeout: millis(timeout),
	})
	return wrap("wait failed", err)
}

func (p *pwPage) Click(selector string, timeout time.Duration) error {
	return wrap("click failed", p.page.Click(selector, playwright.PageClickOptions{
		Timeout: millis(timeout),
	}))
}

func (p *pwPage) Fill(selector, text string, timeout time.Duration) error {
	return wrap("fill failed", p.page.Fill(selector, text, playwright.PageFillOptions{
		Timeout: millis(timeout),
	}))
}

func (p *pwPage) Press(selector, key string, timeout time.Duration) error {
	return wrap("press failed", p.page.Press(selector, key, playwright.PagePressOptions{
		Timeout: millis(timeout),
	}))
}

func (p *pwPage) InnerTexts(selector string) ([]string, error) {
	elements, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, wrap("selector query failed", err)
	}
	texts := make([]string, 0, len(elements))
	for _, el := range elements {
		text, err := el.InnerText()
		if err != nil {
			return nil, wrap("text extraction failed", err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (p *pwPage) BodyText(timeout time.Duration) (string, error) {
	text, err := p.page.InnerText("body", playwright.PageInnerTextOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return "", wrap("body text failed", err)
	}
	return text, nil
}

func (p *pwPage) Screenshot(path string, timeout time.Duration) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:    playwright.String(path),
		Timeout: millis(timeout),
	})
	return wrap("screenshot failed", err)
}

func (p *pwPage) IsClosed() bool {
	return p.page.IsClosed()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

// wrap annotates err and tags Playwright timeouts with ErrWaitTimeout.
func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%s: %w: %w", msg, ErrWaitTimeout, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// millis converts d to the float milliseconds Playwright expects.
func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d) / float64(time.Millisecond))
}

func discardIfNil(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func toOptionalCookie(r cookies.Record) playwright.OptionalCookie {
	c := playwright.OptionalCookie{
		Name:     r.Name,
		Value:    r.Value,
		Domain:   playwright.String(r.Domain),
		Path:     playwright.String(r.Path),
		Secure:   playwright.Bool(r.Secure),
		HttpOnly: playwright.Bool(r.HTTPOnly),
		Expires:  r.Expires,
	}
	switch r.SameSite {
	case cookies.SameSiteStrict:
		c.SameSite = playwright.SameSiteAttributeStrict
	case cookies.SameSiteNone:
		c.SameSite = playwright.SameSiteAttributeNone
	default:
		c.SameSite = playwright.SameSiteAttributeLax
	}
	return c
}

func fromCookie(c playwright.Cookie) cookies.Record {
	r := cookies.Record{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		SameSite: cookies.SameSiteLax,
	}
	if c.SameSite != nil {
		r.SameSite = string(*c.SameSite)
	}
	if c.Expires > 0 {
		exp := c.Expires
		r.Expires = &exp
	}
	return r
}
