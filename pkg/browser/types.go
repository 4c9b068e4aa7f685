package browser

import (
	"fmt"
	"time"
)

// Default values for sessions and the query protocol
const (
	DefaultAppURL         = "https://notebooklm.google.com/"
	DefaultChannel        = "chrome"
	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720

	DefaultNavigationTimeout    = 30 * time.Second
	DefaultInputTimeout         = 20 * time.Second
	DefaultThinkingStartTimeout = 5 * time.Second
	DefaultThinkingEndTimeout   = 60 * time.Second
	DefaultActionTimeout        = 10 * time.Second
	DefaultSubmitSettle         = 500 * time.Millisecond
	DefaultRenderSettle         = 1 * time.Second
	DefaultAuthSettle           = 3 * time.Second
)

// Selectors is the lookup table of every CSS selector the query protocol
// depends on. The remote markup is unversioned, so these are the only values
// that should need updating when it changes.
type Selectors struct {
	// Input is the question text area.
	Input string

	// Response matches every rendered answer in the conversation thread.
	Response string

	// Thinking is the transient indicator shown while an answer is generated.
	Thinking string
}

// DefaultSelectors returns the selectors for the current notebook UI.
func DefaultSelectors() Selectors {
	return Selectors{
		Input:    "textarea.query-box-input",
		Response: ".to-user-container .message-text-content",
		Thinking: "div.thinking-message",
	}
}

// Timeouts bounds every wait in the session and query protocol.
type Timeouts struct {
	Navigation    time.Duration
	Input         time.Duration
	ThinkingStart time.Duration
	ThinkingEnd   time.Duration
	Action        time.Duration
	SubmitSettle  time.Duration
	RenderSettle  time.Duration
	AuthSettle    time.Duration
}

// DefaultTimeouts returns the standard tiered timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:    DefaultNavigationTimeout,
		Input:         DefaultInputTimeout,
		ThinkingStart: DefaultThinkingStartTimeout,
		ThinkingEnd:   DefaultThinkingEndTimeout,
		Action:        DefaultActionTimeout,
		SubmitSettle:  DefaultSubmitSettle,
		RenderSettle:  DefaultRenderSettle,
		AuthSettle:    DefaultAuthSettle,
	}
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Options configures a Manager. Everything the session and query protocol
// needs is passed here; nothing is read from process-wide state.
type Options struct {
	// AppURL is the application root used by the authentication probe.
	AppURL string

	// ProfileDir is the persistent browser profile directory.
	ProfileDir string

	// Headless controls whether the browser runs without a visible window
	Headless bool

	// ExecutablePath overrides the browser binary. When set, Channel is ignored.
	ExecutablePath string

	// Channel selects an installed browser build (e.g. "chrome").
	Channel string

	// UserAgent is sent by every page in the session.
	UserAgent string

	// Viewport sets the initial viewport size
	Viewport Viewport

	// ArtifactPath is where the failure screenshot is written. Empty disables
	// screenshots.
	ArtifactPath string

	Timeouts  Timeouts
	Selectors Selectors

	// LoginHosts are glob patterns for identity-provider hosts. Landing on
	// one of them means the session is signed out.
	LoginHosts []string

	// LandingMarkers are page-text fragments only shown to signed-out users.
	LandingMarkers []string
}

// DefaultOptions returns options for a headless session with standard
// timeouts and selectors. ProfileDir and ArtifactPath are left for the caller.
func DefaultOptions() Options {
	return Options{
		AppURL:         DefaultAppURL,
		Headless:       true,
		Channel:        DefaultChannel,
		UserAgent:      DefaultUserAgent,
		Viewport:       Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Timeouts:       DefaultTimeouts(),
		Selectors:      DefaultSelectors(),
		LoginHosts:     []string{"accounts.google.com"},
		LandingMarkers: []string{"Sign in", "Try NotebookLM", "Get started", "Welcome to NotebookLM"},
	}
}

// withDefaults fills zero-valued fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AppURL == "" {
		o.AppURL = d.AppURL
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.ExecutablePath == "" && o.Channel == "" {
		o.Channel = d.Channel
	}
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		o.Viewport = d.Viewport
	}

	t := &o.Timeouts
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Navigation, d.Timeouts.Navigation)
	fill(&t.Input, d.Timeouts.Input)
	fill(&t.ThinkingStart, d.Timeouts.ThinkingStart)
	fill(&t.ThinkingEnd, d.Timeouts.ThinkingEnd)
	fill(&t.Action, d.Timeouts.Action)
	fill(&t.SubmitSettle, d.Timeouts.SubmitSettle)
	fill(&t.RenderSettle, d.Timeouts.RenderSettle)
	fill(&t.AuthSettle, d.Timeouts.AuthSettle)

	if o.Selectors.Input == "" {
		o.Selectors.Input = d.Selectors.Input
	}
	if o.Selectors.Response == "" {
		o.Selectors.Response = d.Selectors.Response
	}
	if o.Selectors.Thinking == "" {
		o.Selectors.Thinking = d.Selectors.Thinking
	}
	if len(o.LoginHosts) == 0 {
		o.LoginHosts = d.LoginHosts
	}
	if o.LandingMarkers == nil {
		o.LandingMarkers = d.LandingMarkers
	}
	return o
}

// Status describes the Manager's session for status reporting.
type Status struct {
	Active bool
	URL    string
}

// String renders the status the way the tool server reports it.
func (s Status) String() string {
	if s.Active {
		return fmt.Sprintf("Active (URL: %s)", s.URL)
	}
	return "Standby (Browser not launched)"
}

// State is a step of the query protocol.
type State int

const (
	StateIdle State = iota
	StateNavigating
	StateAwaitingInput
	StateSubmitting
	StateAwaitingThinkingStart
	StateAwaitingThinkingEnd
	StateExtractingResponse
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                  "Idle",
	StateNavigating:            "Navigating",
	StateAwaitingInput:         "AwaitingInput",
	StateSubmitting:            "Submitting",
	StateAwaitingThinkingStart: "AwaitingThinkingStart",
	StateAwaitingThinkingEnd:   "AwaitingThinkingEnd",
	StateExtractingResponse:    "ExtractingResponse",
	StateSucceeded:             "Succeeded",
	StateFailed:                "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Attempt records one query from submission to resolution. Attempts are not
// persisted.
type Attempt struct {
	ID        string
	URL       string
	Question  string
	StartedAt time.Time
	State     State

	// Trace lists every state entered, in order.
	Trace []State

	Answer string
	Err    error
}
