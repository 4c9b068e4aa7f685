package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/entrhq/notebridge/pkg/browser"
	"github.com/entrhq/notebridge/pkg/config"
	"github.com/entrhq/notebridge/pkg/credentials"
	"github.com/entrhq/notebridge/pkg/logging"
)

// errReported marks a failure whose message has already been printed.
var errReported = errors.New("reported")

// app carries the process streams and the state shared by all commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// newEngine and readClipboard are replaced in tests.
	newEngine     func(cfg *config.Config) browser.Engine
	readClipboard func() (string, error)

	configPath string
	url        string
	question   string
	visible    bool
	exe        string
	checkAuth  bool

	cfg    *config.Config
	logger *logging.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	a := &app{
		stdin:         stdin,
		stdout:        stdout,
		stderr:        stderr,
		readClipboard: clipboard.ReadAll,
	}
	a.newEngine = a.playwrightEngine
	return a
}

func (a *app) playwrightEngine(cfg *config.Config) browser.Engine {
	e := browser.NewPlaywrightEngine()
	e.SkipInstall = !cfg.Browser.Install
	e.Stderr = a.stderr
	return e
}

// execute runs the CLI and returns the process exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	if a.logger != nil {
		_ = logging.Shutdown()
	}
	if err == nil {
		return 0
	}
	if !errors.Is(err, errReported) {
		fmt.Fprintln(a.stderr, errorStyle.Render("Error:"), err)
	}
	return 1
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notebridge",
		Short: "Ask questions to a notebook through a real browser session",
		Long: `notebridge drives the notebook web application through a persistent
browser profile. Import cookies with "notebridge cookies" or sign in with
"notebridge login", then ask questions with --url and --question.`,
		Example: `  notebridge --url https://notebooklm.google.com/notebook/ID --question "Summarize chapter 2"
  notebridge --check-auth
  notebridge cookies --clipboard
  notebridge serve`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.checkAuth {
				return a.runCheckAuth(cmd.Context())
			}
			if a.url == "" || a.question == "" {
				return errors.New("both --url and --question are required (or use --check-auth)")
			}
			return a.runQuery(cmd.Context())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to config file (default "+config.DefaultPath()+")")
	pf.BoolVar(&a.visible, "visible", false, "show the browser window")
	pf.StringVar(&a.exe, "exe", "", "path to the browser executable")

	f := cmd.Flags()
	f.StringVar(&a.url, "url", "", "notebook URL")
	f.StringVar(&a.question, "question", "", "question to ask")
	f.BoolVar(&a.checkAuth, "check-auth", false, "check whether the session is still signed in")

	cmd.AddCommand(a.cookiesCmd(), a.loginCmd(), a.serveCmd())
	return cmd
}

// setup loads configuration, applies flag overrides and configures logging.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.visible {
		cfg.Browser.Headless = false
	}
	if a.exe != "" {
		cfg.Browser.ExecutablePath = a.exe
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logging.Configure(cfg.LogConfig())
	logger, err := logging.NewLogger("cli")
	if err != nil {
		fmt.Fprintln(a.stderr, hintStyle.Render("file logging unavailable: "+err.Error()))
	}
	logger.Infof("notebridge %s starting (config=%s)", version, cfg.ConfigFilePath)

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) newManager(opts browser.Options, creds browser.CredentialSource) *browser.Manager {
	return browser.NewManager(a.newEngine(a.cfg), opts, creds, a.logger)
}

func (a *app) closeManager(m *browser.Manager) {
	if err := m.Close(); err != nil {
		a.logger.Warnf("failed to close browser session: %v", err)
	}
}

func (a *app) credentialStore() (*credentials.Store, error) {
	store, err := a.cfg.NewCredentialStore(a.logger)
	if err != nil {
		return nil, fmt.Errorf("invalid credential configuration: %w", err)
	}
	return store, nil
}

// hasCredentials reports whether any session source is available: the
// credential file, a previously used profile, or a browser cookie database.
func (a *app) hasCredentials(store *credentials.Store) bool {
	if store.Exists() || a.cfg.Credentials.BrowserCookies.Enabled {
		return true
	}
	info, err := os.Stat(a.cfg.ProfileDir())
	return err == nil && info.IsDir()
}

func (a *app) runQuery(ctx context.Context) error {
	store, err := a.credentialStore()
	if err != nil {
		return err
	}
	if !a.hasCredentials(store) {
		fmt.Fprintln(a.stderr, errorStyle.Render("Error:"), "missing credentials")
		fmt.Fprintln(a.stderr, hintStyle.Render("Run `notebridge cookies` or `notebridge login` first."))
		return errReported
	}

	mgr := a.newManager(a.cfg.BrowserOptions(), store)
	defer a.closeManager(mgr)

	fmt.Fprintln(a.stderr, hintStyle.Render("Asking notebook..."))
	answer, err := mgr.Query(ctx, a.url, a.question)
	if err != nil {
		a.reportQueryError(err)
		return errReported
	}

	fmt.Fprintln(a.stdout, headerStyle.Render("Answer"))
	fmt.Fprintln(a.stdout, answerBoxStyle.Render(answer))
	return nil
}

func (a *app) reportQueryError(err error) {
	fmt.Fprintf(a.stderr, "%s %v\n", errorStyle.Render("Query failed ("+browser.KindOf(err).String()+"):"), err)

	var qe *browser.QueryError
	if errors.As(err, &qe) && qe.ArtifactPath != "" {
		fmt.Fprintln(a.stderr, hintStyle.Render("Screenshot: "+qe.ArtifactPath))
	}
	if errors.Is(err, browser.ErrInputNotFound) {
		fmt.Fprintln(a.stderr, hintStyle.Render("The session may have expired; run `notebridge --check-auth`."))
	}
}

func (a *app) runCheckAuth(ctx context.Context) error {
	store, err := a.credentialStore()
	if err != nil {
		return err
	}

	mgr := a.newManager(a.cfg.BrowserOptions(), store)
	defer a.closeManager(mgr)

	result := browser.NewProber(mgr).CheckAuth(ctx)
	if result.Valid() {
		fmt.Fprintln(a.stdout, successStyle.Render("Authentication: Valid"))
		return nil
	}
	fmt.Fprintln(a.stdout, errorStyle.Render("Authentication: Expired"))
	if result.Reason != "" {
		fmt.Fprintln(a.stderr, hintStyle.Render(result.Reason))
	}
	return errReported
}
