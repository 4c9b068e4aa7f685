package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/notebridge/pkg/cookies"
)

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in through a visible browser and save the session cookies",
		Long: `Open the notebook application in a visible browser on the persistent
profile. Sign in, press ENTER here, and the session cookies are written to
the credential file so headless runs can reuse them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLogin(cmd.Context())
		},
	}
}

func (a *app) runLogin(ctx context.Context) error {
	store, err := a.credentialStore()
	if err != nil {
		return err
	}

	opts := a.cfg.BrowserOptions()
	opts.Headless = false

	// The profile is the only input; the manager must not inject stale cookies.
	mgr := a.newManager(opts, nil)
	defer a.closeManager(mgr)

	if err := mgr.Open(ctx, opts.AppURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", opts.AppURL, err)
	}

	fmt.Fprintln(a.stderr, headerStyle.Render("Sign in in the browser window, then press ENTER here."))
	if err := a.waitForEnter(ctx); err != nil {
		return err
	}

	all, err := mgr.ExportCookies(ctx)
	if err != nil {
		return err
	}
	root, err := a.cfg.RootDomain()
	if err != nil {
		root = cookies.DefaultRootDomain
	}
	n, err := store.SaveRecords(onDomain(all, root))
	if err != nil {
		return fmt.Errorf("no session cookies for %s found, was sign-in completed? (%w)", root, err)
	}

	fmt.Fprintln(a.stdout, successStyle.Render(fmt.Sprintf("Saved %d cookies", n)), hintStyle.Render("to "+store.Path()))
	return nil
}

// waitForEnter blocks until a line is read from stdin or ctx ends.
func (a *app) waitForEnter(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(a.stdin).ReadString('\n')
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onDomain keeps records whose domain is root or a subdomain of it.
func onDomain(records []cookies.Record, root string) []cookies.Record {
	root = strings.TrimPrefix(strings.ToLower(root), ".")
	var kept []cookies.Record
	for _, r := range records {
		host := strings.TrimPrefix(strings.ToLower(r.Domain), ".")
		if host == root || strings.HasSuffix(host, "."+root) {
			kept = append(kept, r)
		}
	}
	return kept
}
