package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/notebridge/pkg/logging"
	"github.com/entrhq/notebridge/pkg/mcp"
)

func (a *app) serveCmd() *cobra.Command {
	var queryTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stdio tool server",
		Long: `Serve the query_notebook tool and the notebook://status resource over
line-delimited JSON-RPC on stdin and stdout. The browser starts on the first
query and stays open until the server exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), queryTimeout)
		},
	}

	cmd.Flags().DurationVar(&queryTimeout, "query-timeout", 0, "bound on each query, e.g. 2m (0 means step timeouts only)")
	return cmd
}

func (a *app) runServe(ctx context.Context, queryTimeout time.Duration) error {
	store, err := a.credentialStore()
	if err != nil {
		return err
	}

	mgr := a.newManager(a.cfg.BrowserOptions(), store)
	defer a.closeManager(mgr)

	logger, err := logging.NewLogger("mcp")
	if err != nil {
		logger = a.logger
	}
	srv := mcp.NewServer(mgr,
		mcp.WithLogger(logger),
		mcp.WithQueryTimeout(queryTimeout),
		mcp.WithVersion(version),
	)
	return srv.Serve(ctx, a.stdin, writeCloser(a.stdout))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeCloser(w io.Writer) io.WriteCloser {
	if wc, ok := w.(io.WriteCloser); ok {
		return wc
	}
	return nopCloser{w}
}
