package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/voxpilot/internal/models"
)

var askYes bool

var askCmd = &cobra.Command{
	Use:   "ask <utterance>",
	Short: "Run one turn from a typed request",
	Long: `Interpret a typed request, confirm it, and execute it.

Without --yes the confirmation is read from the terminal.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return askRun(cmd.Context(), strings.Join(args, " "), stdin)
	},
}

func init() {
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Confirm without asking")
	rootCmd.AddCommand(askCmd)
}

func askRun(ctx context.Context, text string, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctrl := newController(s, in)
	if err := ctrl.Mount(); err != nil {
		return err
	}

	if err := ctrl.Submit(ctx, text); err != nil {
		if msg := ctrl.Snapshot().Error; msg != "" {
			return errors.New(msg)
		}
		return err
	}

	sess := ctrl.Snapshot()
	if sess.Stage != models.StageConfirming {
		// Unknown requests are answered and left idle.
		return nil
	}

	if askYes {
		ui.Say(sess.ConfirmText)
		_, err = ctrl.Reply(ctx, "确认")
	} else {
		err = ctrl.Confirm(ctx)
	}
	sess = ctrl.Snapshot()
	if endOfInput(err) {
		ctrl.Cancel()
		ui.Warning("Cancelled")
		return nil
	}
	if sess.Error != "" {
		return errors.New(sess.Error)
	}
	if err != nil {
		return err
	}

	switch sess.Stage {
	case models.StageCompleted:
		if sess.Result != nil && sess.Result.TTSMessage == "" {
			ui.Success("执行完成")
		}
	case models.StageIdle:
		ui.Info("已取消")
	default:
		return fmt.Errorf("turn ended in %s", sess.Stage)
	}
	return nil
}
