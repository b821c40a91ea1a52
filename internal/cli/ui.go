package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/campusmarket/internal/config"
	"github.com/tOgg1/campusmarket/internal/tui"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "chat [conversation]",
		Aliases: []string{"ui"},
		Short:   "Open the interactive chat view",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !hasTTY() {
				return Exitf(ExitCodeUsage, "the chat view needs an interactive terminal; use history, send and watch instead")
			}
			if err := promptForToken(cmd, opts); err != nil {
				return err
			}

			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			initial := ""
			if len(args) > 0 {
				initial = strings.TrimSpace(args[0])
			} else if current, err := rt.contexts.Load(); err == nil && !current.IsEmpty() {
				initial = current.ConversationID
			}

			ctx, cancel := commandContext(cmd, 0)
			defer cancel()

			session := rt.newSession()
			defer session.Close()
			if err := session.Start(ctx); err != nil {
				return describe("start session", err)
			}

			return tui.Run(session, tui.Config{
				Theme:          rt.cfg.TUI.Theme,
				ShowTimestamps: rt.cfg.TUI.ShowTimestamps,
				Conversation:   initial,
			})
		},
	}
}

// promptForToken asks for the session token on the terminal when none
// is configured, and feeds it back through the --token flag.
func promptForToken(cmd *cobra.Command, opts *rootOptions) error {
	cfg, _, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Auth.SessionToken) != "" {
		return nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Session token: ")
	token, err := readSecret(os.Stdin)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return Exitf(ExitCodeAuth, "read token: %v", err)
	}
	if token == "" {
		return Exitf(ExitCodeAuth, "no session token: set %s_TOKEN or pass --token", config.EnvPrefix)
	}
	return cmd.Flags().Set("token", token)
}

func readSecret(in *os.File) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		data, err := term.ReadPassword(int(in.Fd()))
		return strings.TrimSpace(string(data)), err
	}
	data, err := io.ReadAll(io.LimitReader(in, 8192))
	return strings.TrimSpace(string(data)), err
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
