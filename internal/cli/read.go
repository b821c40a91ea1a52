package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/models"
)

func newReadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read [conversation]",
		Short: "Mark a conversation as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			conversationID, err := rt.resolveConversation(args)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, rt.cfg.API.Timeout)
			defer cancel()

			if err := rt.client.MarkRead(ctx, conversationID); err != nil {
				return describe("mark read", err)
			}
			rt.publisher.Publish(ctx, &models.Event{
				Type:           models.EventTypeReadMarked,
				ConversationID: conversationID,
			})

			if opts.jsonOutput {
				return writeJSON(rt.out, map[string]any{"conversation": conversationID, "read": true})
			}
			fmt.Fprintf(rt.out, "Marked %s as read.\n", conversationID)
			return nil
		},
	}
}
