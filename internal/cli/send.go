package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		lat, lng float64
		label    string
	)
	cmd := &cobra.Command{
		Use:   "send [conversation] <message>",
		Short: "Send a message",
		Long: "Send a message to a conversation. With one argument the message goes to the\n" +
			"conversation selected by \"use\". Without a message argument the body is read\n" +
			"from stdin when it is piped.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			var convArgs []string
			body := ""
			switch len(args) {
			case 2:
				convArgs, body = args[:1], args[1]
			case 1:
				body = args[0]
			}
			conversationID, err := rt.resolveConversation(convArgs)
			if err != nil {
				return err
			}
			if strings.TrimSpace(body) == "" {
				if body, err = readPiped(cmd.InOrStdin()); err != nil {
					return Exitf(ExitCodeFailure, "read stdin: %v", err)
				}
			}

			out := models.OutgoingMessage{Content: strings.TrimSpace(body)}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				out.Location = &models.Location{Latitude: lat, Longitude: lng, Label: label}
			}
			if err := out.Validate(); err != nil {
				return &ExitError{Code: ExitCodeUsage, Err: err}
			}
			out.ClientID = uuid.NewString()

			ctx, cancel := commandContext(cmd, rt.cfg.API.Timeout)
			defer cancel()

			conv, err := findConversation(ctx, rt, conversationID)
			if err != nil {
				return describe("send", err)
			}
			if err := trade.EnsureCanSend(&conv); err != nil {
				return describe("send", err)
			}

			sent, err := rt.client.SendMessage(ctx, conversationID, out)
			if err != nil {
				return describe("send", err)
			}
			if rt.cache != nil {
				if err := rt.cache.SaveMessages(ctx, []models.Message{sent}); err != nil {
					rt.logger.Warn().Err(err).Msg("failed to cache sent message")
				}
			}
			rt.publisher.Publish(ctx, &models.Event{
				Type:           models.EventTypeMessageMerged,
				ConversationID: conversationID,
				Payload:        sent,
			})

			if opts.jsonOutput {
				return writeJSON(rt.out, sent)
			}
			fmt.Fprintln(rt.out, sent.ID)
			printNextSteps(rt.out, false, HintContext{Action: "send", ConversationID: conversationID})
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "share a meeting point: latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "share a meeting point: longitude")
	cmd.Flags().StringVar(&label, "label", "", "meeting point label")
	return cmd
}

// findConversation looks conversationID up in the caller's list.
func findConversation(ctx context.Context, rt *runtime, conversationID string) (models.Conversation, error) {
	list, err := rt.client.ListConversations(ctx)
	if err != nil {
		return models.Conversation{}, err
	}
	if rt.cache != nil {
		if err := rt.cache.SaveConversations(ctx, list); err != nil {
			rt.logger.Warn().Err(err).Msg("failed to cache conversations")
		}
	}
	for _, conv := range list {
		if conv.ID == conversationID {
			return conv, nil
		}
	}
	return models.Conversation{}, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
}

func readPiped(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
