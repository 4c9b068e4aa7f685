package browser

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/notebridge/pkg/cookies"
)

// ErrWaitTimeout is wrapped by engine errors caused by a wait or action
// exceeding its timeout.
var ErrWaitTimeout = errors.New("wait timed out")

// WaitState is the element state a selector wait resolves on.
type WaitState string

const (
	WaitAttached WaitState = "attached"
	WaitDetached WaitState = "detached"
	WaitVisible  WaitState = "visible"
	WaitHidden   WaitState = "hidden"
)

// LaunchOptions configures a persistent browser context.
type LaunchOptions struct {
	UserDataDir    string
	Headless       bool
	ExecutablePath string
	Channel        string
	UserAgent      string
	Viewport       Viewport
	Timeout        time.Duration
}

// Engine launches browser execution contexts. Implementations own the
// underlying automation driver and release it in Stop.
type Engine interface {
	// LaunchPersistent starts a browser bound to opts.UserDataDir so that
	// profile state survives process restarts.
	LaunchPersistent(ctx context.Context, opts LaunchOptions) (BrowserContext, error)

	// Stop shuts the automation driver down.
	Stop() error
}

// BrowserContext is an isolated browser session holding cookies, storage
// and pages.
type BrowserContext interface {
	AddCookies(records []cookies.Record) error
	Cookies() ([]cookies.Record, error)
	NewPage() (Page, error)
	Close() error
}

// Page is a single tab. Every blocking method takes an explicit timeout and
// returns an error wrapping ErrWaitTimeout when it expires.
type Page interface {
	URL() string

	// Goto navigates and returns once the DOM content is loaded.
	Goto(url string, timeout time.Duration) error

	WaitFor(selector string, state WaitState, timeout time.Duration) error
	Click(selector string, timeout time.Duration) error
	Fill(selector, text string, timeout time.Duration) error
	// Press sends key to the element matching selector.
	Press(selector, key string, timeout time.Duration) error

	// InnerTexts returns the rendered text of every element matching
	// selector, in document order.
	InnerTexts(selector string) ([]string, error)

	// BodyText returns the rendered text of the whole page.
	BodyText(timeout time.Duration) (string, error)

	Screenshot(path string, timeout time.Duration) error
	IsClosed() bool
	Close() error
}

// IsTimeout reports whether err was caused by a wait or action timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}
