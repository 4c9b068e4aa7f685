// Package config loads notebridge settings from a YAML file, applies
// environment overrides and maps them onto the core packages' options.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/notebridge/pkg/browser"
	"github.com/entrhq/notebridge/pkg/cookies"
	"github.com/entrhq/notebridge/pkg/credentials"
	"github.com/entrhq/notebridge/pkg/logging"
)

// Environment variables that override file settings.
const (
	EnvDataDir    = "NOTEBRIDGE_DATA_DIR"
	EnvHeadless   = "NOTEBRIDGE_HEADLESS"
	EnvExecutable = "NOTEBRIDGE_EXECUTABLE"
)

// File and directory names below the data directory.
const (
	ConfigFileName     = "config.yaml"
	CookieFileName     = "cookies.json"
	ProfileDirName     = "chrome_profile"
	ArtifactDirName    = "artifacts"
	ScreenshotFileName = "query_failure.png"
	LogDirName         = "logs"
)

// Config is the complete notebridge configuration.
type Config struct {
	// DataDir holds the credential file, browser profile, artifacts and logs.
	DataDir string `yaml:"data_dir"`

	// AppURL is the notebook application root, used by the auth check and
	// the login flow.
	AppURL string `yaml:"app_url"`

	Browser     BrowserConfig    `yaml:"browser"`
	Timeouts    TimeoutConfig    `yaml:"timeouts"`
	Selectors   SelectorConfig   `yaml:"selectors"`
	Credentials CredentialConfig `yaml:"credentials"`
	Auth        AuthConfig       `yaml:"auth"`
	Logging     LoggingConfig    `yaml:"logging"`

	// ConfigFilePath is the file this config was loaded from, if any.
	ConfigFilePath string `yaml:"-"`
}

// BrowserConfig selects and configures the browser.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	ExecutablePath string `yaml:"executable_path"` // overrides channel when set
	Channel        string `yaml:"channel"`
	UserAgent      string `yaml:"user_agent"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`

	// Install downloads the automation driver (and Chromium when no channel
	// or executable is configured) on first launch.
	Install bool `yaml:"install"`
}

// TimeoutConfig bounds each step of the query protocol. Values are Go
// duration strings such as "20s".
type TimeoutConfig struct {
	Navigation    time.Duration `yaml:"navigation"`
	Input         time.Duration `yaml:"input"`
	ThinkingStart time.Duration `yaml:"thinking_start"`
	ThinkingEnd   time.Duration `yaml:"thinking_end"`
	Action        time.Duration `yaml:"action"`
	SubmitSettle  time.Duration `yaml:"submit_settle"`
	RenderSettle  time.Duration `yaml:"render_settle"`
	AuthSettle    time.Duration `yaml:"auth_settle"`
}

// SelectorConfig overrides the CSS selectors of the notebook UI.
type SelectorConfig struct {
	Input    string `yaml:"input"`
	Response string `yaml:"response"`
	Thinking string `yaml:"thinking"`
}

// CredentialConfig controls where session cookies come from.
type CredentialConfig struct {
	// File is the credential file. Empty means <data_dir>/cookies.json.
	File string `yaml:"file"`

	BrowserCookies BrowserCookieConfig `yaml:"browser_cookies"`

	// Domains are host globs read from the browser cookie database.
	Domains []string `yaml:"domains"`
}

// BrowserCookieConfig enables reading cookies from an installed browser.
type BrowserCookieConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is an explicit cookie database. Empty auto-detects.
	Path string `yaml:"path"`
}

// AuthConfig tunes the signed-out heuristics of the auth check.
type AuthConfig struct {
	LoginHosts     []string `yaml:"login_hosts"`
	LandingMarkers []string `yaml:"landing_markers"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	Console    bool   `yaml:"console"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultDataDir returns ~/.notebridge, or .notebridge when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notebridge"
	}
	return filepath.Join(home, ".notebridge")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), ConfigFileName)
}

// Default returns a configuration suitable for most use cases
func Default() *Config {
	t := browser.DefaultTimeouts()
	s := browser.DefaultSelectors()
	o := browser.DefaultOptions()

	return &Config{
		DataDir: DefaultDataDir(),
		AppURL:  browser.DefaultAppURL,
		Browser: BrowserConfig{
			Headless:       true,
			Channel:        browser.DefaultChannel,
			UserAgent:      browser.DefaultUserAgent,
			ViewportWidth:  browser.DefaultViewportWidth,
			ViewportHeight: browser.DefaultViewportHeight,
			Install:        true,
		},
		Timeouts: TimeoutConfig{
			Navigation:    t.Navigation,
			Input:         t.Input,
			ThinkingStart: t.ThinkingStart,
			ThinkingEnd:   t.ThinkingEnd,
			Action:        t.Action,
			SubmitSettle:  t.SubmitSettle,
			RenderSettle:  t.RenderSettle,
			AuthSettle:    t.AuthSettle,
		},
		Selectors: SelectorConfig{
			Input:    s.Input,
			Response: s.Response,
			Thinking: s.Thinking,
		},
		Credentials: CredentialConfig{
			Domains: append([]string(nil), credentials.DefaultDomains...),
		},
		Auth: AuthConfig{
			LoginHosts:     o.LoginHosts,
			LandingMarkers: o.LandingMarkers,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path means DefaultPath; a
// missing default file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.ConfigFilePath = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvHeadless); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvHeadless, v, err)
		}
		c.Browser.Headless = headless
	}
	if v := getenv(EnvExecutable); v != "" {
		c.Browser.ExecutablePath = v
	}
	return nil
}

// expandPaths resolves a leading ~ in every path setting.
func (c *Config) expandPaths() {
	c.DataDir = expandHome(c.DataDir)
	c.Browser.ExecutablePath = expandHome(c.Browser.ExecutablePath)
	c.Credentials.File = expandHome(c.Credentials.File)
	c.Credentials.BrowserCookies.Path = expandHome(c.Credentials.BrowserCookies.Path)
	c.Logging.Dir = expandHome(c.Logging.Dir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	u, err := url.Parse(c.AppURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("invalid app_url: %q (must be an absolute http(s) URL)", c.AppURL)
	}

	timeouts := map[string]time.Duration{
		"navigation":     c.Timeouts.Navigation,
		"input":          c.Timeouts.Input,
		"thinking_start": c.Timeouts.ThinkingStart,
		"thinking_end":   c.Timeouts.ThinkingEnd,
		"action":         c.Timeouts.Action,
		"submit_settle":  c.Timeouts.SubmitSettle,
		"render_settle":  c.Timeouts.RenderSettle,
		"auth_settle":    c.Timeouts.AuthSettle,
	}
	for name, d := range timeouts {
		if d < 0 {
			return fmt.Errorf("timeouts.%s cannot be negative", name)
		}
	}

	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("viewport dimensions cannot be negative")
	}

	for _, pattern := range append(append([]string(nil), c.Credentials.Domains...), c.Auth.LoginHosts...) {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid host pattern %q: %w", pattern, err)
		}
	}

	validLevels := map[string]bool{
		"":      true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}

	return nil
}

// CookieFile returns the credential file path.
func (c *Config) CookieFile() string {
	if c.Credentials.File != "" {
		return c.Credentials.File
	}
	return filepath.Join(c.DataDir, CookieFileName)
}

// ProfileDir returns the persistent browser profile directory.
func (c *Config) ProfileDir() string {
	return filepath.Join(c.DataDir, ProfileDirName)
}

// ArtifactPath returns where the failure screenshot is written.
func (c *Config) ArtifactPath() string {
	return filepath.Join(c.DataDir, ArtifactDirName, ScreenshotFileName)
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(c.DataDir, LogDirName)
}

// EnsureDirs creates the data, artifact and log directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, filepath.Dir(c.ArtifactPath()), c.LogDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RootDomain returns the registrable domain of AppURL, e.g. "google.com"
// for https://notebooklm.google.com/.
func (c *Config) RootDomain() (string, error) {
	u, err := url.Parse(c.AppURL)
	if err != nil {
		return "", fmt.Errorf("invalid app_url: %w", err)
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("cannot derive root domain from %q: %w", u.Hostname(), err)
	}
	return root, nil
}

// NormalizerFor returns a cookie normalizer for the application's root
// domain, falling back to the default root domain.
func (c *Config) NormalizerFor() *cookies.Normalizer {
	root, err := c.RootDomain()
	if err != nil {
		root = cookies.DefaultRootDomain
	}
	return cookies.NewNormalizer(root)
}

// BrowserOptions maps the configuration onto browser.Options.
func (c *Config) BrowserOptions() browser.Options {
	opts := browser.Options{
		AppURL:         c.AppURL,
		ProfileDir:     c.ProfileDir(),
		Headless:       c.Browser.Headless,
		ExecutablePath: c.Browser.ExecutablePath,
		Channel:        c.Browser.Channel,
		UserAgent:      c.Browser.UserAgent,
		Viewport: browser.Viewport{
			Width:  c.Browser.ViewportWidth,
			Height: c.Browser.ViewportHeight,
		},
		ArtifactPath: c.ArtifactPath(),
		Timeouts: browser.Timeouts{
			Navigation:    c.Timeouts.Navigation,
			Input:         c.Timeouts.Input,
			ThinkingStart: c.Timeouts.ThinkingStart,
			ThinkingEnd:   c.Timeouts.ThinkingEnd,
			Action:        c.Timeouts.Action,
			SubmitSettle:  c.Timeouts.SubmitSettle,
			RenderSettle:  c.Timeouts.RenderSettle,
			AuthSettle:    c.Timeouts.AuthSettle,
		},
		Selectors: browser.Selectors{
			Input:    c.Selectors.Input,
			Response: c.Selectors.Response,
			Thinking: c.Selectors.Thinking,
		},
		LoginHosts:     c.Auth.LoginHosts,
		LandingMarkers: c.Auth.LandingMarkers,
	}
	if opts.ExecutablePath != "" {
		opts.Channel = ""
	}
	return opts
}

// LogConfig maps the configuration onto logging.Config.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Dir:        c.LogDir(),
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	}
}

// NewCredentialStore builds the credential store, with the browser cookie
// database as a preferred source when enabled.
func (c *Config) NewCredentialStore(logger *logging.Logger) (*credentials.Store, error) {
	opts := []credentials.Option{
		credentials.WithNormalizer(c.NormalizerFor()),
		credentials.WithLogger(logger),
	}
	if c.Credentials.BrowserCookies.Enabled {
		db, err := credentials.NewBrowserDB(c.Credentials.BrowserCookies.Path, c.Credentials.Domains)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credentials.WithBrowserSource(db))
	}
	return credentials.NewStore(c.CookieFile(), opts...), nil
}
