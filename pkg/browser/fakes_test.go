package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/notebridge/pkg/cookies"
	"github.com/entrhq/notebridge/pkg/credentials"
)

// fakeEngine records launches and hands out fakeContexts.
type fakeEngine struct {
	mu        sync.Mutex
	launches  []LaunchOptions
	launchErr error
	stopped   int
	contexts  []*fakeContext

	// newPage builds the page handed out by each context.
	newPage func() *fakePage
}

func newFakeEngine(newPage func() *fakePage) *fakeEngine {
	return &fakeEngine{newPage: newPage}
}

func (e *fakeEngine) LaunchPersistent(ctx context.Context, opts LaunchOptions) (BrowserContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	e.launches = append(e.launches, opts)
	c := &fakeContext{newPage: e.newPage}
	e.contexts = append(e.contexts, c)
	return c, nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped++
	return nil
}

func (e *fakeEngine) lastContext() *fakeContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.contexts) == 0 {
		return nil
	}
	return e.contexts[len(e.contexts)-1]
}

// fakeContext records the order of cookie injection and page creation.
type fakeContext struct {
	mu      sync.Mutex
	events  []string
	cookies []cookies.Record
	pages   []*fakePage
	pageErr error
	closed  bool
	newPage func() *fakePage
}

func (c *fakeContext) AddCookies(records []cookies.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "add_cookies")
	c.cookies = append(c.cookies, records...)
	return nil
}

func (c *fakeContext) Cookies() ([]cookies.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cookies.Record(nil), c.cookies...), nil
}

func (c *fakeContext) NewPage() (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "new_page")
	if c.pageErr != nil {
		return nil, c.pageErr
	}
	p := c.newPage()
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeContext) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *fakeContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakePage simulates the notebook UI. Selectors listed in visible are shown;
// hideAfter makes a visible selector disappear after a delay. Waits that
// cannot be satisfied block for their timeout and then fail with
// ErrWaitTimeout, like the real driver.
type fakePage struct {
	mu sync.Mutex

	url       string
	redirects map[string]string
	visible   map[string]bool
	hideAfter map[string]time.Duration
	responses []string
	body      string

	// onSubmit runs when Enter is pressed, e.g. to append a response.
	onSubmit func(p *fakePage)

	gotoErr  error
	bodyErr  error
	panicOn  string
	closed   bool
	gotos    []string
	filled   []string
	pressed  []string
	shots    []string
	inFlight int
	maxIn    int

	// fillDelay and textsDelay stall the next Fill or InnerTexts call
	// without holding the page lock.
	fillDelay  time.Duration
	textsDelay time.Duration
	calls      int
	maxCalls   int
}

// enter counts a driver call in progress; the returned func ends it.
func (p *fakePage) enter() func() {
	p.mu.Lock()
	p.calls++
	if p.calls > p.maxCalls {
		p.maxCalls = p.calls
	}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.calls--
		p.mu.Unlock()
	}
}

// stall sleeps for *delay once, then clears it.
func (p *fakePage) stall(delay *time.Duration) {
	p.mu.Lock()
	d := *delay
	*delay = 0
	p.mu.Unlock()
	time.Sleep(d)
}

func newFakePage() *fakePage {
	return &fakePage{
		url:       "about:blank",
		redirects: map[string]string{},
		visible:   map[string]bool{},
		hideAfter: map[string]time.Duration{},
	}
}

// notebookPage is a page whose input works and which answers every question.
func notebookPage(answer string) *fakePage {
	sel := DefaultSelectors()
	p := newFakePage()
	p.visible[sel.Input] = true
	p.onSubmit = func(p *fakePage) {
		p.visible[sel.Thinking] = true
		p.hideAfter[sel.Thinking] = 5 * time.Millisecond
		p.responses = append(p.responses, answer)
	}
	return p
}

func (p *fakePage) maybePanic(op string) {
	if p.panicOn == op {
		panic(fmt.Sprintf("driver crashed during %s", op))
	}
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Goto(url string, timeout time.Duration) error {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotos = append(p.gotos, url)
	p.maybePanic("goto")
	if p.gotoErr != nil {
		return p.gotoErr
	}
	if target, ok := p.redirects[url]; ok {
		url = target
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitFor(selector string, state WaitState, timeout time.Duration) error {
	defer p.enter()()
	p.mu.Lock()
	visible := p.visible[selector]
	hide := p.hideAfter[selector]
	p.mu.Unlock()

	switch state {
	case WaitVisible, WaitAttached:
		if visible {
			return nil
		}
	case WaitHidden, WaitDetached:
		if !visible {
			return nil
		}
		if hide > 0 && hide < timeout {
			time.Sleep(hide)
			p.mu.Lock()
			p.visible[selector] = false
			p.mu.Unlock()
			return nil
		}
	}
	time.Sleep(timeout)
	return fmt.Errorf("waiting for %q to be %s: %w", selector, state, ErrWaitTimeout)
}

func (p *fakePage) Click(selector string, timeout time.Duration) error {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybePanic("click")
	p.inFlight++
	if p.inFlight > p.maxIn {
		p.maxIn = p.inFlight
	}
	return nil
}

func (p *fakePage) Fill(selector, text string, timeout time.Duration) error {
	defer p.enter()()
	p.stall(&p.fillDelay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybePanic("fill")
	p.filled = append(p.filled, text)
	return nil
}

func (p *fakePage) Press(selector, key string, timeout time.Duration) error {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybePanic("press")
	p.pressed = append(p.pressed, key)
	if p.onSubmit != nil {
		p.onSubmit(p)
	}
	p.inFlight--
	return nil
}

func (p *fakePage) InnerTexts(selector string) ([]string, error) {
	defer p.enter()()
	p.stall(&p.textsDelay)
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector != DefaultSelectors().Response {
		return nil, nil
	}
	return append([]string(nil), p.responses...), nil
}

func (p *fakePage) BodyText(timeout time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, p.bodyErr
}

func (p *fakePage) Screenshot(path string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shots = append(p.shots, path)
	return os.WriteFile(path, []byte("png"), 0600)
}

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) set(fn func(p *fakePage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// pageLog is a copy of what a fakePage observed.
type pageLog struct {
	url      string
	gotos    []string
	filled   []string
	pressed  []string
	shots    []string
	maxIn    int
	maxCalls int
}

func (p *fakePage) log() pageLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pageLog{
		url:      p.url,
		gotos:    append([]string(nil), p.gotos...),
		filled:   append([]string(nil), p.filled...),
		pressed:  append([]string(nil), p.pressed...),
		shots:    append([]string(nil), p.shots...),
		maxIn:    p.maxIn,
		maxCalls: p.maxCalls,
	}
}

// fakeCreds counts Resolve calls.
type fakeCreds struct {
	mu      sync.Mutex
	records []cookies.Record
	calls   int
}

func (f *fakeCreds) Resolve(context.Context) ([]cookies.Record, credentials.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.records) == 0 {
		return nil, credentials.SourceNone
	}
	return f.records, credentials.SourceFile
}

func (f *fakeCreds) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testOptions returns options with short timeouts and paths under a temp dir.
func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.ProfileDir = filepath.Join(dir, "chrome_profile")
	opts.ArtifactPath = filepath.Join(dir, "artifacts", "query_failure.png")
	opts.Timeouts = Timeouts{
		Navigation:    200 * time.Millisecond,
		Input:         50 * time.Millisecond,
		ThinkingStart: 20 * time.Millisecond,
		ThinkingEnd:   100 * time.Millisecond,
		Action:        100 * time.Millisecond,
		SubmitSettle:  time.Millisecond,
		RenderSettle:  time.Millisecond,
		AuthSettle:    time.Millisecond,
	}
	return opts
}

// newTestManager wires a Manager to a single shared fake page.
func newTestManager(t *testing.T, page *fakePage) (*Manager, *fakeEngine) {
	t.Helper()
	engine := newFakeEngine(func() *fakePage { return page })
	m := NewManager(engine, testOptions(t), nil, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m, engine
}

var errBoom = errors.New("boom")
