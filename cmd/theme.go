package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/voxpilot/internal/theme"
)

var themeCmd = &cobra.Command{
	Use:       "theme [light|dark|toggle]",
	Short:     "Show or change the color theme",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"light", "dark", "toggle"},
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := ""
		if len(args) == 1 {
			arg = args[0]
		}
		return themeRun(cmd.Context(), arg)
	},
}

func init() {
	rootCmd.AddCommand(themeCmd)
}

func themeRun(ctx context.Context, arg string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	svc := theme.NewService(s)

	var t theme.Theme
	switch arg {
	case "":
		if t, err = svc.Get(ctx); err != nil {
			return err
		}
		ui.Info("Theme: %s", t)
		return nil
	case "toggle":
		if dryRun {
			cur, err := svc.Get(ctx)
			if err != nil {
				return err
			}
			ui.DryRunMsg("Would switch theme from %s", cur)
			return nil
		}
		if t, err = svc.Toggle(ctx); err != nil {
			return fmt.Errorf("toggle theme: %w", err)
		}
	default:
		if t, err = theme.Parse(arg); err != nil {
			return err
		}
		if dryRun {
			ui.DryRunMsg("Would set theme to %s", t)
			return nil
		}
		if err := svc.Set(ctx, t); err != nil {
			return fmt.Errorf("set theme: %w", err)
		}
	}

	ui.UseTheme(string(t))
	ui.Success("Theme set to %s", ui.Accent(string(t)))
	return nil
}
