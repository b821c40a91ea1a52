package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

func newUseCmd(opts *rootOptions) *cobra.Command {
	var clearSelection bool
	cmd := &cobra.Command{
		Use:   "use [conversation]",
		Short: "Select the conversation other commands default to",
		Long: "Select the conversation that history, send, read, complete and watch use when\n" +
			"no conversation is given. Without arguments the current selection is shown.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if clearSelection {
				if err := rt.contexts.Clear(); err != nil {
					return Exitf(ExitCodeFailure, "clear context: %v", err)
				}
				fmt.Fprintln(rt.out, "Context cleared.")
				return nil
			}

			current, err := rt.contexts.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "load context: %v", err)
			}
			if len(args) == 0 {
				if opts.jsonOutput {
					return writeJSON(rt.out, current)
				}
				fmt.Fprintln(rt.out, current.String())
				return nil
			}

			ctx, cancel := commandContext(cmd, rt.cfg.API.Timeout)
			defer cancel()

			conv, err := findConversation(ctx, rt, args[0])
			if err != nil {
				return describe("use", err)
			}
			current.SetConversation(conv.ID, conversationTitle(conv, rt.userID))
			if err := rt.contexts.Save(current); err != nil {
				return Exitf(ExitCodeFailure, "save context: %v", err)
			}

			if opts.jsonOutput {
				return writeJSON(rt.out, current)
			}
			fmt.Fprintf(rt.out, "Now using %s\n", current.String())
			printNextSteps(rt.out, false, HintContext{
				Action:         "use",
				ConversationID: conv.ID,
				Seller:         conv.SellerID() == rt.userID,
				Closed:         !trade.CanSend(&conv),
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearSelection, "clear", false, "clear the current selection")
	return cmd
}

func conversationTitle(conv models.Conversation, userID string) string {
	if conv.Product != nil && conv.Product.Title != "" {
		return conv.Product.Title
	}
	if other, ok := conv.OtherParticipant(userID); ok {
		return other.DisplayName()
	}
	return ""
}
