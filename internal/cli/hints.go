package cli

import (
	"fmt"
	"io"
)

// HintContext describes a finished command for next-step hints.
type HintContext struct {
	// Action is the command that ran ("use", "send", "complete").
	Action string

	ConversationID string

	// Seller is true when the caller sells the conversation's product.
	Seller bool

	// Closed is true when the conversation no longer accepts messages.
	Closed bool
}

// printNextSteps prints follow-up commands. Nothing is printed for JSON
// output.
func printNextSteps(out io.Writer, jsonOutput bool, ctx HintContext) {
	if jsonOutput {
		return
	}
	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(out, "  %s\n", hint)
	}
}

func generateHints(ctx HintContext) []string {
	if ctx.ConversationID == "" {
		return nil
	}
	id := ctx.ConversationID
	switch ctx.Action {
	case "use":
		hints := []string{
			"campusmarket history                 # Show the conversation",
			"campusmarket watch                   # Follow new messages",
		}
		if !ctx.Closed {
			hints = append(hints, "campusmarket send \"hello\"           # Reply")
		}
		if ctx.Seller && !ctx.Closed {
			hints = append(hints, "campusmarket complete                # Mark the trade completed")
		}
		return hints
	case "send":
		return []string{
			fmt.Sprintf("campusmarket watch %s   # Wait for a reply", id),
		}
	case "complete":
		return []string{
			fmt.Sprintf("campusmarket history %s # Review the conversation", id),
			"campusmarket events --type trade.completed",
		}
	default:
		return nil
	}
}
