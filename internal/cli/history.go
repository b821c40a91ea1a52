package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/models"
)

const defaultHistoryLimit = 50

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		cached bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:     "history [conversation]",
		Aliases: []string{"log"},
		Short:   "Show the messages of a conversation",
		Args:    cobra.MaximumNArgs(1),
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

			var messages []models.Message
			if cached {
				if rt.cache == nil {
					return Exitf(ExitCodeUsage, "--cached needs the local cache")
				}
				messages, err = rt.cache.ListMessages(ctx, conversationID, limit)
			} else {
				messages, err = rt.client.ListMessages(ctx, conversationID)
				if err == nil && rt.cache != nil {
					if saveErr := rt.cache.SaveMessages(ctx, messages); saveErr != nil {
						rt.logger.Warn().Err(saveErr).Msg("failed to cache messages")
					}
				}
				models.SortMessages(messages)
				if limit > 0 && len(messages) > limit {
					messages = messages[len(messages)-limit:]
				}
			}
			if err != nil {
				return describe("load history", err)
			}

			if opts.jsonOutput {
				return writeJSON(rt.out, messages)
			}
			if len(messages) == 0 {
				fmt.Fprintln(rt.out, "No messages.")
				return nil
			}
			for _, msg := range messages {
				printMessage(rt.out, msg, rt.userID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "read from the local cache without calling the backend")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "show at most this many recent messages (0 for all)")
	return cmd
}

func printMessage(out io.Writer, msg models.Message, userID string) {
	name := msg.Sender.DisplayName()
	if msg.Sender.ID == userID {
		name = "you"
	}
	if msg.IsAdminMessage {
		name = "admin"
	}
	when := "--:--"
	if !msg.CreatedAt.IsZero() {
		when = msg.CreatedAt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(out, "%s  %s: %s\n", when, name, messageText(msg))
}

func messageText(msg models.Message) string {
	text := msg.Content
	if msg.Location != nil {
		label := msg.Location.Label
		if label == "" {
			label = fmt.Sprintf("%.5f,%.5f", msg.Location.Latitude, msg.Location.Longitude)
		}
		text = joinNonEmpty(text, "[location: "+label+"]")
	}
	for _, a := range msg.Attachments {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		text = joinNonEmpty(text, "[attachment: "+name+"]")
	}
	return text
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
