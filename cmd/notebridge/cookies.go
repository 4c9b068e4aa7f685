package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/notebridge/pkg/credentials"
)

func (a *app) cookiesCmd() *cobra.Command {
	var fromClipboard bool

	cmd := &cobra.Command{
		Use:   "cookies [TEXT]",
		Short: "Import session cookies into the credential file",
		Long: `Import session cookies from a JSON export (array, storage state or
extension format) or a table copied from the browser's developer tools.
The text is taken from the argument, the clipboard with --clipboard, or stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.cookieInput(args, fromClipboard)
			if err != nil {
				return err
			}
			if strings.TrimSpace(raw) == "" {
				return errors.New("no cookie text provided")
			}

			store, err := a.credentialStore()
			if err != nil {
				return err
			}
			n, err := store.Save(raw)
			if errors.Is(err, credentials.ErrInvalidCredentials) {
				fmt.Fprintln(a.stderr, errorStyle.Render("Error:"), err)
				fmt.Fprintln(a.stderr, hintStyle.Render("Expected exported JSON cookies or a table copied from developer tools."))
				return errReported
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(a.stdout, successStyle.Render(fmt.Sprintf("Saved %d cookies", n)), hintStyle.Render("to "+store.Path()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromClipboard, "clipboard", false, "read cookie text from the clipboard")
	return cmd
}

func (a *app) cookieInput(args []string, fromClipboard bool) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case fromClipboard:
		text, err := a.readClipboard()
		if err != nil {
			return "", fmt.Errorf("failed to read clipboard: %w", err)
		}
		return text, nil
	default:
		fmt.Fprintln(a.stderr, hintStyle.Render("Paste cookies, then press Ctrl-D:"))
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
}
