package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/chat"
	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

func newConversationsCmd(opts *rootOptions) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls", "list"},
		Short:   "List your conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := commandContext(cmd, rt.cfg.API.Timeout)
			defer cancel()

			var list []models.Conversation
			if cached {
				if rt.cache == nil {
					return Exitf(ExitCodeUsage, "--cached needs the local cache")
				}
				list, err = rt.cache.ListConversations(ctx)
			} else {
				list, err = rt.client.ListConversations(ctx)
				if err == nil && rt.cache != nil {
					if saveErr := rt.cache.SaveConversations(ctx, list); saveErr != nil {
						rt.logger.Warn().Err(saveErr).Msg("failed to cache conversations")
					}
				}
			}
			if err != nil {
				return describe("list conversations", err)
			}
			list = chat.SortConversations(list)

			if opts.jsonOutput {
				return writeJSON(rt.out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(rt.out, "No conversations.")
				return nil
			}
			return writeTable(rt.out, []string{"ID", "WITH", "PRODUCT", "UNREAD", "TRADE", "LAST MESSAGE", "WHEN"},
				conversationRows(list, rt.userID, time.Now()))
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "read from the local cache without calling the backend")
	return cmd
}

func conversationRows(list []models.Conversation, userID string, now time.Time) [][]string {
	rows := make([][]string, 0, len(list))
	for i := range list {
		conv := &list[i]
		with := "-"
		if other, ok := conv.OtherParticipant(userID); ok {
			with = other.DisplayName()
		}
		product := "-"
		if conv.Product != nil {
			product = conv.Product.Title
			if product == "" {
				product = conv.Product.ID
			}
		}
		last := "-"
		if conv.LastMessage != nil {
			last = conv.LastMessage.Content
		}
		rows = append(rows, []string{
			conv.ID,
			with,
			product,
			strconv.Itoa(conv.UnreadFor(userID)),
			string(trade.Of(conv)),
			last,
			formatAge(conv.LastActivity(), now),
		})
	}
	return rows
}
