package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/notebridge/pkg/browser"
	"github.com/entrhq/notebridge/pkg/config"
	"github.com/entrhq/notebridge/pkg/cookies"
)

const notebookURL = "https://notebooklm.google.com/notebook/abc"

// stubEngine serves one page that answers every question with answer.
type stubEngine struct {
	mu       sync.Mutex
	answer   string
	url      string
	body     string
	injected []cookies.Record
	exported []cookies.Record
	launches int
	headless []bool
}

func (e *stubEngine) LaunchPersistent(_ context.Context, opts browser.LaunchOptions) (browser.BrowserContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches++
	e.headless = append(e.headless, opts.Headless)
	return &stubContext{e: e}, nil
}

func (e *stubEngine) Stop() error { return nil }

type stubContext struct{ e *stubEngine }

func (c *stubContext) AddCookies(records []cookies.Record) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.injected = append(c.e.injected, records...)
	return nil
}

func (c *stubContext) Cookies() ([]cookies.Record, error) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return c.e.exported, nil
}

func (c *stubContext) NewPage() (browser.Page, error) { return &stubPage{e: c.e}, nil }
func (c *stubContext) Close() error                   { return nil }

type stubPage struct {
	e        *stubEngine
	mu       sync.Mutex
	url      string
	answered bool
}

func (p *stubPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *stubPage) Goto(url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	if p.e.url != "" {
		p.url = p.e.url
	}
	return nil
}

func (p *stubPage) WaitFor(_ string, state browser.WaitState, _ time.Duration) error {
	if state == browser.WaitVisible && p.e.answer == "" {
		return browser.ErrWaitTimeout
	}
	return nil
}

func (p *stubPage) Click(string, time.Duration) error        { return nil }
func (p *stubPage) Fill(string, string, time.Duration) error { return nil }

func (p *stubPage) Press(string, string, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered = true
	return nil
}

func (p *stubPage) InnerTexts(string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.answered {
		return nil, nil
	}
	return []string{p.e.answer}, nil
}

func (p *stubPage) BodyText(time.Duration) (string, error)        { return p.e.body, nil }
func (p *stubPage) Screenshot(path string, _ time.Duration) error { return os.WriteFile(path, []byte("png"), 0600) }
func (p *stubPage) IsClosed() bool                                { return false }
func (p *stubPage) Close() error                                  { return nil }

type harness struct {
	dir    string
	config string
	engine *stubEngine
	stdin  *strings.Reader
	stdout bytes.Buffer
	stderr bytes.Buffer
	clip   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(config.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(config.EnvHeadless, "")
	t.Setenv(config.EnvExecutable, "")

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
timeouts:
  navigation: 200ms
  input: 50ms
  thinking_start: 5ms
  thinking_end: 50ms
  action: 50ms
  submit_settle: 1ms
  render_settle: 1ms
  auth_settle: 1ms
`), 0600))

	return &harness{
		dir:    dir,
		config: cfgPath,
		engine: &stubEngine{answer: "Chapter 2 covers queues."},
		stdin:  strings.NewReader(""),
	}
}

func (h *harness) run(args ...string) int {
	a := newApp(h.stdin, &h.stdout, &h.stderr)
	a.newEngine = func(*config.Config) browser.Engine { return h.engine }
	a.readClipboard = func() (string, error) {
		if h.clip == "" {
			return "", errors.New("clipboard empty")
		}
		return h.clip, nil
	}
	return a.execute(context.Background(), append([]string{"--config", h.config}, args...))
}

func (h *harness) cookieFile() string {
	return filepath.Join(h.dir, "data", config.CookieFileName)
}

const cookieJSON = `[{"name":"SID","value":"abc","domain":".google.com","path":"/"},{"name":"HSID","value":"def","domain":"google.com"}]`

func TestQuery_RequiresURLAndQuestion(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 1, h.run("--url", notebookURL))
	assert.Contains(t, h.stderr.String(), "both --url and --question are required")
	assert.Zero(t, h.engine.launches)
}

func TestQuery_MissingCredentials(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 1, h.run("--url", notebookURL, "--question", "What is in chapter 2?"))
	assert.Contains(t, h.stderr.String(), "missing credentials")
	assert.Zero(t, h.engine.launches)
}

func TestQuery_Succeeds(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.run("cookies", cookieJSON))

	code := h.run("--url", notebookURL, "--question", "What is in chapter 2?")
	assert.Equal(t, 0, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Chapter 2 covers queues.")
	assert.Equal(t, 1, h.engine.launches)
	assert.Equal(t, []string{"HSID", "SID"}, sortedNames(h.engine.injected))
}

func TestQuery_FailureReportsKindAndScreenshot(t *testing.T) {
	h := newHarness(t)
	h.engine.answer = ""
	require.Equal(t, 0, h.run("cookies", cookieJSON))

	assert.Equal(t, 1, h.run("--url", notebookURL, "--question", "anything"))
	assert.Contains(t, h.stderr.String(), "InputNotFound")
	assert.Contains(t, h.stderr.String(), "Screenshot:")
	assert.FileExists(t, filepath.Join(h.dir, "data", config.ArtifactDirName, config.ScreenshotFileName))
}

func TestQuery_VisibleFlag(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.run("cookies", cookieJSON))

	require.Equal(t, 0, h.run("--visible", "--url", notebookURL, "--question", "q"))
	assert.Equal(t, []bool{false}, h.engine.headless)
}

func TestCheckAuth(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		body     string
		wantCode int
		wantOut  string
	}{
		{name: "valid", body: "Your notebooks", wantCode: 0, wantOut: "Authentication: Valid"},
		{name: "login redirect", url: "https://accounts.google.com/signin", wantCode: 1, wantOut: "Authentication: Expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.url = tt.url
			h.engine.body = tt.body

			assert.Equal(t, tt.wantCode, h.run("--check-auth"))
			assert.Contains(t, h.stdout.String(), tt.wantOut)
		})
	}
}

func TestCookies_Sources(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, 0, h.run("cookies", cookieJSON))
		assert.Contains(t, h.stdout.String(), "Saved 2 cookies")
		assert.FileExists(t, h.cookieFile())
	})

	t.Run("clipboard", func(t *testing.T) {
		h := newHarness(t)
		h.clip = "SID\tabc\t.google.com\t/\nHSID\tdef\t.google.com\t/"
		assert.Equal(t, 0, h.run("cookies", "--clipboard"))
		assert.Contains(t, h.stdout.String(), "Saved 2 cookies")
	})

	t.Run("stdin", func(t *testing.T) {
		h := newHarness(t)
		h.stdin = strings.NewReader(cookieJSON)
		assert.Equal(t, 0, h.run("cookies"))
		assert.Contains(t, h.stdout.String(), "Saved 2 cookies")
	})
}

func TestCookies_Rejected(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		h := newHarness(t)
		h.stdin = strings.NewReader("   \n")
		assert.Equal(t, 1, h.run("cookies"))
		assert.Contains(t, h.stderr.String(), "no cookie text provided")
	})

	t.Run("no valid cookies", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, 1, h.run("cookies", `[{"name":"","value":""}]`))
		assert.Contains(t, h.stderr.String(), "no valid cookies")
		assert.NoFileExists(t, h.cookieFile())
	})

	t.Run("clipboard failure", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, 1, h.run("cookies", "--clipboard"))
		assert.Contains(t, h.stderr.String(), "failed to read clipboard")
	})
}

func TestLogin_SavesSessionCookies(t *testing.T) {
	h := newHarness(t)
	exp := float64(time.Now().Add(time.Hour).Unix())
	h.engine.exported = []cookies.Record{
		{Name: "SID", Value: "abc", Domain: ".google.com", Path: "/", Secure: true, Expires: &exp},
		{Name: "NID", Value: "n", Domain: "notebooklm.google.com", Path: "/"},
		{Name: "_ga", Value: "x", Domain: ".example.com", Path: "/"},
	}
	h.stdin = strings.NewReader("\n")

	assert.Equal(t, 0, h.run("login"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Saved 2 cookies")
	assert.Equal(t, []bool{false}, h.engine.headless)
	assert.Empty(t, h.engine.injected)

	data, err := os.ReadFile(h.cookieFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "SID")
	assert.NotContains(t, string(data), "example.com")
}

func TestLogin_NoSessionCookies(t *testing.T) {
	h := newHarness(t)
	h.stdin = strings.NewReader("\n")

	assert.Equal(t, 1, h.run("login"))
	assert.Contains(t, h.stderr.String(), "no session cookies")
}

func TestOnDomain(t *testing.T) {
	records := []cookies.Record{
		{Name: "a", Domain: ".google.com"},
		{Name: "b", Domain: "accounts.google.com"},
		{Name: "c", Domain: "evilgoogle.com"},
		{Name: "d", Domain: "GOOGLE.COM"},
	}
	assert.Equal(t, []string{"a", "b", "d"}, cookies.Names(onDomain(records, "google.com")))
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.config, []byte("app_url: ftp://nope\n"), 0600))

	assert.Equal(t, 1, h.run("--check-auth"))
	assert.Contains(t, h.stderr.String(), "app_url")
}

func sortedNames(records []cookies.Record) []string {
	names := cookies.Names(records)
	sort.Strings(names)
	return names
}
