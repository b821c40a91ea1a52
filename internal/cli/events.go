package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/cache"
	"github.com/tOgg1/campusmarket/internal/models"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		conversationID string
		types          []string
		since          time.Duration
		limit          int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show session events recorded in the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.cache == nil {
				return Exitf(ExitCodeUsage, "events are read from the local cache, which is disabled")
			}

			query := cache.EventQuery{ConversationID: conversationID, Limit: limit}
			for _, t := range types {
				query.Types = append(query.Types, models.EventType(strings.TrimSpace(t)))
			}
			if since > 0 {
				query.Since = time.Now().Add(-since)
			}

			ctx, cancel := commandContext(cmd, 0)
			defer cancel()

			list, err := rt.cache.RecentEvents(ctx, query)
			if err != nil {
				return describe("read events", err)
			}

			if opts.jsonOutput {
				for _, event := range list {
					data, err := json.Marshal(event)
					if err != nil {
						return Exitf(ExitCodeFailure, "encode event: %v", err)
					}
					fmt.Fprintln(rt.out, string(data))
				}
				return nil
			}
			if len(list) == 0 {
				fmt.Fprintln(rt.out, "No events.")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, event := range list {
				conv := event.ConversationID
				if conv == "" {
					conv = "-"
				}
				rows = append(rows, []string{
					event.Timestamp.Local().Format(time.DateTime),
					string(event.Type),
					conv,
				})
			}
			return writeTable(rt.out, []string{"TIME", "TYPE", "CONVERSATION"}, rows)
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "only events for this conversation")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only these event types (repeatable)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "show at most this many recent events (0 for all)")
	return cmd
}
