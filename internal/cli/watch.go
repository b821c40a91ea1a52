package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/models"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		history  bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [conversation]",
		Short: "Follow a conversation live",
		Long: "Follow a conversation: new messages, push channel state and trade completion\n" +
			"are printed as they happen. With --json every session event is written as one\n" +
			"JSON line. Stops on Ctrl+C or after --for.",
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

			ctx, cancel := commandContext(cmd, duration)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			session := rt.newSession()
			defer session.Close()

			streamer := newEventStreamer(rt.out, opts.jsonOutput, rt.userID)
			if history {
				streamer.includeExisting = true
			}

			subID := "watch-" + uuid.NewString()
			if err := rt.publisher.Subscribe(subID, events.Filter{ConversationID: conversationID}, streamer.handle); err != nil {
				return Exitf(ExitCodeFailure, "subscribe: %v", err)
			}
			defer rt.publisher.Unsubscribe(subID)

			if err := session.Start(ctx); err != nil {
				return describe("watch", err)
			}
			if err := session.Select(ctx, conversationID); err != nil {
				return describe("watch", err)
			}
			streamer.markLoaded(session.Messages())

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "print the existing history before following")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

// eventStreamer writes session events for one conversation. In text
// mode each message is printed once, however often it is merged.
type eventStreamer struct {
	out             io.Writer
	jsonOutput      bool
	userID          string
	includeExisting bool

	mu      sync.Mutex
	seen    map[string]bool
	pending []models.Message
	loaded  bool
	closed  bool
}

func newEventStreamer(out io.Writer, jsonOutput bool, userID string) *eventStreamer {
	return &eventStreamer{
		out:        out,
		jsonOutput: jsonOutput,
		userID:     userID,
		seen:       make(map[string]bool),
	}
}

// markLoaded records the initial history. It is printed only when
// includeExisting is set; either way later merges of the same messages
// stay quiet. Messages merged while the history was loading and not
// part of it are printed afterwards.
func (s *eventStreamer) markLoaded(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	for _, msg := range messages {
		if msg.IsDraft() || s.seen[msg.ID] {
			continue
		}
		s.seen[msg.ID] = true
		if s.includeExisting && !s.jsonOutput {
			printMessage(s.out, msg, s.userID)
		}
	}
	for _, msg := range s.pending {
		if s.seen[msg.ID] {
			continue
		}
		s.seen[msg.ID] = true
		printMessage(s.out, msg, s.userID)
	}
	s.pending = nil
}

func (s *eventStreamer) handle(event *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jsonOutput {
		if event.Type == models.EventTypeMessagesLoaded && !s.includeExisting {
			return
		}
		s.writeEvent(event)
		return
	}

	switch event.Type {
	case models.EventTypeMessageMerged:
		msg, ok := event.Payload.(models.Message)
		if !ok || msg.IsDraft() || s.seen[msg.ID] {
			return
		}
		if !s.loaded {
			s.pending = append(s.pending, msg)
			return
		}
		s.seen[msg.ID] = true
		printMessage(s.out, msg, s.userID)
	case models.EventTypeStreamStateChanged:
		if payload, ok := event.Payload.(models.StreamStatePayload); ok {
			fmt.Fprintf(s.out, "-- push channel %s\n", payload.State)
		}
	case models.EventTypeTradeCompleted, models.EventTypeConversationUpdated:
		if s.closed {
			return
		}
		if conv, ok := event.Payload.(models.Conversation); ok && !conv.IsCompleted {
			return
		}
		s.closed = true
		fmt.Fprintln(s.out, "-- trade completed, conversation closed for new messages")
	case models.EventTypeError:
		if payload, ok := event.Payload.(models.ErrorPayload); ok {
			fmt.Fprintf(s.out, "-- %s: %s\n", payload.Context, payload.Error)
		}
	}
}

// writeEvent writes a single event as JSONL.
func (s *eventStreamer) writeEvent(event *models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintln(s.out, string(data))
}
