package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Palette is the set of colors used for one theme.
type Palette struct {
	Info    *color.Color
	Success *color.Color
	Warning *color.Color
	Error   *color.Color
	Accent  *color.Color
}

// Bright colors read well on dark terminals; the plain ones on light backgrounds.
var (
	DarkPalette = Palette{
		Info:    color.New(color.FgHiBlue),
		Success: color.New(color.FgHiGreen),
		Warning: color.New(color.FgHiYellow),
		Error:   color.New(color.FgHiRed),
		Accent:  color.New(color.FgHiCyan),
	}
	LightPalette = Palette{
		Info:    color.New(color.FgBlue),
		Success: color.New(color.FgGreen),
		Warning: color.New(color.FgYellow),
		Error:   color.New(color.FgRed),
		Accent:  color.New(color.FgMagenta),
	}
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
	Palette Palette
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
		Palette: DarkPalette,
	}
}

// UseTheme switches the palette; anything but "light" means dark.
func (u *UI) UseTheme(name string) {
	if name == "light" {
		u.Palette = LightPalette
		return
	}
	u.Palette = DarkPalette
}

func (u *UI) palette() Palette {
	if u.Palette.Info == nil {
		return DarkPalette
	}
	return u.Palette
}

// Accent returns s in the theme's accent color.
func (u *UI) Accent(s string) string { return u.palette().Accent.Sprint(s) }

// StageColor returns the stage name colored by how far the turn has progressed.
func (u *UI) StageColor(stage string) string {
	p := u.palette()
	switch stage {
	case "recording", "interpreting":
		return p.Info.Sprint(stage)
	case "confirming", "executing":
		return p.Warning.Sprint(stage)
	case "completed":
		return p.Success.Sprint(stage)
	default:
		return stage
	}
}

// OutcomeColor returns a turn outcome colored by result.
func (u *UI) OutcomeColor(outcome string) string {
	p := u.palette()
	switch outcome {
	case "completed":
		return p.Success.Sprint(outcome)
	case "cancelled", "unknown":
		return p.Warning.Sprint(outcome)
	case "failed":
		return p.Error.Sprint(outcome)
	default:
		return outcome
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", u.palette().Info.Sprint("i"), fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", u.palette().Success.Sprint("✓"), fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", u.palette().Warning.Sprint("⚠"), fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", u.palette().Error.Sprint("✗"), fmt.Sprintf(format, a...))
}

// Say prints text the assistant speaks aloud.
func (u *UI) Say(text string) {
	fmt.Fprintf(u.Out, "%s %s\n", u.palette().Accent.Sprint("♪"), text)
}

// Prompt prints a listening cue without a trailing newline.
func (u *UI) Prompt(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s", u.palette().Info.Sprint(">"), fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", u.palette().Info.Sprint("  →"), fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
