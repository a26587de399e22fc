package cmd

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/store"
)

var (
	historySession string
	historyOutcome string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd.Context())
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <turn-id>",
	Short: "Show one turn in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd.Context(), args[0])
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "Only turns from this session id")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome: completed, cancelled, failed, unknown")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum turns to show (0 for all)")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

// truncate shortens s to max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

func historyListRun(ctx context.Context) error {
	switch models.TurnOutcome(historyOutcome) {
	case "", models.TurnCompleted, models.TurnCancelled, models.TurnFailed, models.TurnUnknown:
	default:
		return fmt.Errorf("invalid outcome %q (want completed, cancelled, failed or unknown)", historyOutcome)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	turns, err := s.ListTurns(ctx, store.TurnListFilter{
		SessionID: historySession,
		Outcome:   models.TurnOutcome(historyOutcome),
		Limit:     historyLimit,
	})
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		ui.Info("No turns recorded yet. Run 'voxpilot talk' to start.")
		return nil
	}

	table := ui.Table([]string{"ID", "When", "Said", "Tool", "Outcome", "Reply"})
	for _, t := range turns {
		reply := t.Message
		if t.Error != "" {
			reply = t.Error
		}
		table.Append([]string{
			ui.Accent(t.ID[:8]),
			timeAgo(t.StartedAt),
			truncate(t.Utterance, 24),
			t.ToolID,
			ui.OutcomeColor(string(t.Outcome)),
			truncate(reply, 32),
		})
	}
	table.Render()
	return nil
}

func historyShowRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	t, err := s.GetTurn(ctx, id)
	if err != nil {
		return err
	}

	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(ui.Out, "  %-10s %s\n", k, v)
		}
	}
	row("id", t.ID)
	row("session", t.SessionID)
	row("started", t.StartedAt.Local().Format(time.DateTime))
	row("duration", t.EndedAt.Sub(t.StartedAt).Round(time.Millisecond).String())
	row("said", t.Utterance)
	row("tool", t.ToolID)
	row("params", t.Params)
	row("reply", t.Reply)
	row("outcome", ui.OutcomeColor(string(t.Outcome)))
	row("message", t.Message)
	row("error", t.Error)
	return nil
}
