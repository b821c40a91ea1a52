package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

func newCompleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [conversation]",
		Short: "Mark the trade in a conversation as completed",
		Long: "Mark the trade in a conversation as completed. Only the product's seller may do\n" +
			"this; the other participant becomes the buyer and the conversation closes.",
		Args: cobra.MaximumNArgs(1),
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

			conv, err := findConversation(ctx, rt, conversationID)
			if err != nil {
				return describe("complete trade", err)
			}
			if err := trade.Check(&conv, rt.userID); err != nil {
				return describe("complete trade", err)
			}

			updated, err := rt.client.CompleteTrade(ctx, conversationID)
			if err != nil {
				return describe("complete trade", err)
			}

			local := conv.Clone()
			completion, err := trade.Complete(&local, rt.userID, time.Now())
			if err != nil {
				return describe("complete trade", err)
			}
			if updated.ID == conversationID && updated.IsCompleted {
				if updated.BuyerID != "" {
					completion.BuyerID = updated.BuyerID
				}
				if updated.CompletedAt != nil {
					completion.CompletedAt = updated.CompletedAt.UTC()
				}
				trade.Merge(&local, &updated)
				local = updated
			}

			if rt.cache != nil {
				if err := rt.cache.SaveConversations(ctx, []models.Conversation{local}); err != nil {
					rt.logger.Warn().Err(err).Msg("failed to cache completed conversation")
				}
			}
			rt.publisher.Publish(ctx, &models.Event{
				Type:           models.EventTypeTradeCompleted,
				ConversationID: conversationID,
				Payload:        completion.Payload(),
			})

			if opts.jsonOutput {
				return writeJSON(rt.out, completion.Payload())
			}
			fmt.Fprintf(rt.out, "Trade completed: %s sold to %s.\n", productName(local), completion.BuyerID)
			printNextSteps(rt.out, false, HintContext{Action: "complete", ConversationID: conversationID})
			return nil
		},
	}
}

func productName(conv models.Conversation) string {
	if conv.Product == nil {
		return conv.ID
	}
	if conv.Product.Title != "" {
		return conv.Product.Title
	}
	return conv.Product.ID
}
