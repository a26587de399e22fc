package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/voxpilot/internal/auth"
	"github.com/joescharf/voxpilot/internal/client"
	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/session"
	"github.com/joescharf/voxpilot/internal/speech"
	"github.com/joescharf/voxpilot/internal/store"
)

var (
	talkOnce bool
	talkLive bool
)

var errQuit = errors.New("quit")

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Start a conversation",
	Long: `Start an interactive conversation.

Each line you type is one utterance. voxpilot reads back what it is about
to do and waits for you to confirm ("确认", "好的") or cancel ("取消").
Type "exit" or press Ctrl-D to leave.

Set speech.tts_command (for example "say" or "espeak") to hear replies
aloud instead of reading them.

With --live the backend runs the session and this command only relays
what you type and what it says.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if talkLive {
			if talkOnce {
				return errors.New("--once cannot be combined with --live")
			}
			return talkLiveRun(cmd.Context(), stdin)
		}
		return talkRun(cmd.Context(), stdin)
	},
}

func init() {
	talkCmd.Flags().BoolVar(&talkOnce, "once", false, "Run a single turn and exit")
	talkCmd.Flags().BoolVar(&talkLive, "live", false, "Let the backend run the session over a websocket")
	rootCmd.AddCommand(talkCmd)
}

// quitCapturer ends the conversation when the user types an exit word.
type quitCapturer struct {
	speech.Capturer
}

func (q quitCapturer) Listen(ctx context.Context) (string, error) {
	text, err := q.Capturer.Listen(ctx)
	if err != nil {
		return text, err
	}
	if isQuit(text) {
		return "", errQuit
	}
	return text, nil
}

func isQuit(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "exit", "quit", "退出":
		return true
	}
	return false
}

// newSpeaker returns the configured TTS command, or prints replies.
func newSpeaker() speech.Speaker {
	if cmd := viper.GetString("speech.tts_command"); cmd != "" {
		return speech.NewCommandSpeaker(cmd, ui.Say)
	}
	return speech.NewTextSpeaker(ui.Say)
}

// newController wires a session controller to the terminal, the backend
// and the turn history.
func newController(s store.Store, in io.Reader) *session.Controller {
	var ctrl *session.Controller
	prompt := func() {
		if ctrl != nil && ctrl.Snapshot().Stage == models.StageConfirming {
			ui.Prompt("确认? ")
			return
		}
		ui.Prompt("你说: ")
	}

	ctrl = session.New(session.Config{
		Remote:             newClient(s),
		Auth:               auth.NewManager(s),
		Capture:            quitCapturer{speech.NewLineCapturer(in, prompt)},
		Playback:           newSpeaker(),
		Recorder:           s,
		CaptureTimeout:     viper.GetDuration("speech.capture_timeout"),
		RemoteTimeout:      viper.GetDuration("api.timeout"),
		MaxConfirmAttempts: viper.GetInt("confirm.max_attempts"),
		OnChange: func(sess models.Session) {
			ui.VerboseLog("%s %s", ui.StageColor(string(sess.Stage)), sess.StatusMessage)
		},
		Logger: logger,
	})
	return ctrl
}

// endOfInput reports whether err means the user is done talking.
func endOfInput(err error) bool {
	return errors.Is(err, errQuit) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}

// reportTurn prints the outcome of a turn that did not end the conversation.
func reportTurn(sess models.Session) {
	if sess.Error != "" {
		ui.Error("%s", sess.Error)
		return
	}
	if sess.Stage == models.StageCompleted && sess.Result != nil && sess.Result.TTSMessage == "" {
		ui.Success("执行完成")
	}
}

func talkRun(ctx context.Context, in io.Reader) error {
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

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	for {
		sess, err := ctrl.RunTurn(ctx)
		if err != nil && endOfInput(err) {
			ctrl.Cancel()
			return nil
		}
		reportTurn(sess)
		if errors.Is(err, session.ErrUnsupported) {
			return err
		}

		if sess.Error != "" {
			ctrl.DismissError()
		}
		if err := ctrl.Restart(); err != nil {
			ctrl.Reset()
		}
		if talkOnce {
			return nil
		}
	}
}

// talkLiveRun relays stdin to a backend-run session. A line is sent only
// when the backend is listening: at the start of a turn, after the
// confirmation prompt, and after an unclear reply.
func talkLiveRun(ctx context.Context, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	live, err := newClient(s).DialLive(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = live.Close() }()
	go func() {
		<-ctx.Done()
		_ = live.Close()
	}()

	lines := bufio.NewScanner(in)
	var stage models.Stage
	for {
		f, err := live.Next()
		if err != nil {
			if errors.Is(err, client.ErrLiveClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		ready := false
		switch f.Type {
		case models.FrameSession:
			prev := stage
			stage = f.Session.Stage
			ui.VerboseLog("%s %s", ui.StageColor(string(stage)), f.Session.StatusMessage)
			if f.Session.Error != "" {
				ui.Error("%s", f.Session.Error)
			}
			ready = stage == models.StageRecording ||
				(stage == models.StageConfirming && prev == models.StageConfirming)
		case models.FrameSpeak:
			ui.Say(f.Text)
			ready = stage == models.StageConfirming
		}
		if !ready {
			continue
		}

		if stage == models.StageConfirming {
			ui.Prompt("确认? ")
		} else {
			ui.Prompt("你说: ")
		}
		if !lines.Scan() || isQuit(lines.Text()) {
			return nil
		}
		if err := live.Say(strings.TrimSpace(lines.Text())); err != nil {
			return err
		}
	}
}
