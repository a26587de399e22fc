package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/voxpilot/internal/confirm"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <reply>",
	Short: "Classify a confirmation reply as CONFIRM, CANCEL or RETRY",
	Long: `Classify a reply the way the confirmation step does.

Prints CONFIRM, CANCEL or RETRY, or (none) for an empty reply.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return classifyRun(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func classifyRun(text string) error {
	intent := confirm.Classify(text)
	label := string(intent)
	if intent == confirm.None {
		label = "(none)"
	}
	fmt.Fprintln(ui.Out, label)
	return nil
}
