// Package session drives one voice interaction through
// record → interpret → confirm → execute.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/voxpilot/internal/confirm"
	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/speech"
)

// User-visible messages.
const (
	MsgLoginRequired   = "请先登录"
	MsgInterpretFailed = "意图解析失败"
	MsgExecuteFailed   = "工具执行失败"
	MsgCaptureFailed   = "语音识别出错"
	MsgPlaybackFailed  = "语音合成出错"
	MsgNoSpeech        = "未识别到语音，请重试"
	MsgNotConfirmed    = "未能识别确认意图"
	MsgNoCapture       = "不支持语音识别功能"
	MsgNoPlayback      = "不支持语音合成功能"

	statusListening    = "正在聆听..."
	statusInterpreting = "正在解析意图..."
	statusConfirming   = "请语音确认（说“确认”或“取消”）"
	statusRetry        = "没听清，请说“确认”或“取消”"
	statusExecuting    = "正在执行..."
	statusCompleted    = "执行完成"
)

var (
	ErrBusy             = errors.New("a turn is already in progress")
	ErrNotAuthenticated = errors.New(MsgLoginRequired)
	ErrUnsupported      = errors.New("speech capability not supported")
	ErrStale            = errors.New("turn was superseded")
	ErrInvalidStage     = errors.New("event not valid in current stage")
	ErrNotConfirmed     = errors.New(MsgNotConfirmed)
)

// Remote is the intent classification and tool execution backend.
type Remote interface {
	Interpret(ctx context.Context, utterance, sessionID string) (*models.Interpretation, error)
	ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any) (*models.ExecuteResult, error)
}

// Authenticator reports whether a user is signed in.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
}

// TurnRecorder persists finished turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn *models.Turn) error
}

// Config wires a Controller to its collaborators.
type Config struct {
	Remote   Remote
	Auth     Authenticator
	Capture  speech.Capturer
	Playback speech.Speaker

	// Recorder is optional.
	Recorder TurnRecorder

	// Zero means no timeout.
	CaptureTimeout time.Duration
	RemoteTimeout  time.Duration

	// MaxConfirmAttempts bounds how often an unclear reply re-arms listening.
	// Zero means 3.
	MaxConfirmAttempts int

	// OnChange, if set, receives a snapshot after every transition.
	OnChange func(models.Session)

	Logger *slog.Logger
}

// Controller owns a Session and is the only thing that mutates it.
// All mutation happens under mu; adapter and network I/O happen outside it.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	sess        models.Session
	seq         uint64
	unsupported string
	turn        *models.Turn
	finished    []*models.Turn
	abort       context.CancelFunc
}

// New creates a controller in the idle stage.
func New(cfg Config) *Controller {
	if cfg.MaxConfirmAttempts <= 0 {
		cfg.MaxConfirmAttempts = 3
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:  cfg,
		log:  log,
		sess: models.Session{Stage: models.StageIdle},
	}
}

// Mount checks adapter support once. An unsupported adapter is surfaced as
// the session error and blocks every later turn.
func (c *Controller) Mount() error {
	var msg string
	var cause error
	if err := c.cfg.Capture.Supported(); err != nil {
		msg, cause = MsgNoCapture, err
	} else if err := c.cfg.Playback.Supported(); err != nil {
		msg, cause = MsgNoPlayback, err
	}

	c.mu.Lock()
	c.unsupported = msg
	if msg != "" {
		c.sess.Error = msg
	}
	c.publish()
	if msg != "" {
		c.log.Warn("speech unsupported", "reason", msg, "error", cause)
		return fmt.Errorf("%s: %w", msg, errors.Join(ErrUnsupported, cause))
	}
	return nil
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Clone()
}

// Start moves idle → recording and listens for one utterance, then
// interprets it. It returns once the session is confirming or back to idle.
func (c *Controller) Start(ctx context.Context) error {
	seq, err := c.begin()
	if err != nil {
		return err
	}

	text, err := c.listen(ctx, seq)
	if err != nil {
		if !c.isCurrent(seq) {
			return ErrStale
		}
		c.fail(seq, captureMessage(err))
		return fmt.Errorf("capture: %w", err)
	}
	return c.transcript(ctx, seq, text)
}

// Submit is Start with an already-known utterance, for typed input.
func (c *Controller) Submit(ctx context.Context, text string) error {
	seq, err := c.begin()
	if err != nil {
		return err
	}
	return c.transcript(ctx, seq, text)
}

// Confirm runs the confirmation sub-flow: speak the confirmation prompt,
// then listen for replies until one is CONFIRM or CANCEL or the attempts
// run out.
func (c *Controller) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.sess.Stage != models.StageConfirming {
		c.mu.Unlock()
		return ErrInvalidStage
	}
	seq, prompt := c.seq, c.sess.ConfirmText
	c.mu.Unlock()

	if err := c.speak(ctx, prompt); err != nil {
		c.fail(seq, playbackMessage(err))
		return fmt.Errorf("speak confirmation: %w", err)
	}

	for attempt := 1; ; attempt++ {
		if !c.isCurrent(seq) {
			return ErrStale
		}
		text, err := c.listen(ctx, seq)
		if err != nil {
			if !c.isCurrent(seq) {
				return ErrStale
			}
			c.fail(seq, captureMessage(err))
			return fmt.Errorf("capture reply: %w", err)
		}

		intent, err := c.reply(ctx, seq, text)
		if err != nil {
			return err
		}
		if intent == confirm.Confirm || intent == confirm.Cancel {
			return nil
		}
		if attempt >= c.cfg.MaxConfirmAttempts {
			c.fail(seq, MsgNotConfirmed)
			return ErrNotConfirmed
		}
	}
}

// Reply classifies a confirmation reply and applies it to the current turn.
// CONFIRM executes the first planned tool call, CANCEL resets to idle, and
// anything else leaves the session confirming.
func (c *Controller) Reply(ctx context.Context, text string) (confirm.Intent, error) {
	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()
	return c.reply(ctx, seq, text)
}

// RunTurn drives a whole turn: capture, interpret and, if a plan comes
// back, confirmation and execution.
func (c *Controller) RunTurn(ctx context.Context) (models.Session, error) {
	if err := c.Start(ctx); err != nil {
		return c.Snapshot(), err
	}
	if c.Snapshot().Stage != models.StageConfirming {
		return c.Snapshot(), nil
	}
	err := c.Confirm(ctx)
	return c.Snapshot(), err
}

// Restart returns a completed session to idle.
func (c *Controller) Restart() error {
	c.mu.Lock()
	switch c.sess.Stage {
	case models.StageCompleted, models.StageIdle:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.seq++
	c.resetLocked()
	c.publish()
	return nil
}

// Reset abandons any turn in progress and clears every field except the
// session id. Responses from the abandoned turn are discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.seq++
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	c.finishLocked(models.TurnCancelled, "")
	c.resetLocked()
	c.publish()
}

// Cancel stops playback and resets.
func (c *Controller) Cancel() {
	c.cfg.Playback.Stop()
	c.Reset()
}

// DismissError clears the error without touching the stage.
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.sess.Error = ""
	c.publish()
}

// --- transitions ---

func (c *Controller) begin() (uint64, error) {
	c.mu.Lock()
	if c.unsupported != "" {
		c.sess.Error = c.unsupported
		c.publish()
		return 0, ErrUnsupported
	}
	if c.sess.Stage != models.StageIdle {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	c.seq++
	c.turn = &models.Turn{SessionID: c.sess.ID, StartedAt: time.Now().UTC()}
	c.sess.Error = ""
	c.sess.Result = nil
	c.setStageLocked(models.StageRecording, statusListening)
	seq := c.seq
	c.publish()
	return seq, nil
}

func (c *Controller) transcript(ctx context.Context, seq uint64, text string) error {
	text = strings.TrimSpace(text)
	authed := c.cfg.Auth.IsAuthenticated(ctx)

	c.mu.Lock()
	if seq != c.seq || c.sess.Stage != models.StageRecording {
		c.mu.Unlock()
		return ErrStale
	}
	if c.turn != nil {
		c.turn.Utterance = text
	}
	if text == "" {
		c.failLocked(MsgNoSpeech)
		c.publish()
		return errors.New(MsgNoSpeech)
	}
	if !authed {
		c.failLocked(MsgLoginRequired)
		c.publish()
		return ErrNotAuthenticated
	}
	c.setStageLocked(models.StageInterpreting, statusInterpreting)
	sessionID := c.sess.ID
	c.publish()

	rctx, cancel := c.remoteContext(ctx, seq)
	res, err := c.cfg.Remote.Interpret(rctx, text, sessionID)
	cancel()

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.log.Debug("discarding stale interpret response", "turn", seq)
		return ErrStale
	}
	if err != nil {
		c.failLocked(MsgInterpretFailed + ": " + err.Error())
		c.publish()
		return fmt.Errorf("interpret: %w", err)
	}

	if res.SessionID != "" {
		c.sess.ID = res.SessionID
		if c.turn != nil {
			c.turn.SessionID = res.SessionID
		}
	}

	if res.IsUnknown() {
		prompt := res.ConfirmText
		if prompt == "" {
			prompt = res.Message
		}
		if c.turn != nil {
			c.turn.Message = prompt
		}
		c.finishLocked(models.TurnUnknown, "")
		c.setStageLocked(models.StageIdle, prompt)
		c.publish()
		if prompt != "" {
			if err := c.speak(ctx, prompt); err != nil {
				c.fail(seq, playbackMessage(err))
				return fmt.Errorf("speak: %w", err)
			}
		}
		return nil
	}

	calls := make([]models.ToolCall, len(res.ToolCalls))
	for i, tc := range res.ToolCalls {
		calls[i] = tc.Clone()
	}
	c.sess.PendingToolCalls = calls
	c.sess.ConfirmText = res.ConfirmText
	if c.turn != nil {
		c.turn.ToolID = calls[0].ToolID
		if b, err := json.Marshal(calls[0].Parameters); err == nil {
			c.turn.Params = string(b)
		}
	}
	if len(calls) > 1 {
		c.log.Warn("plan has more than one tool call; only the first runs", "calls", len(calls))
	}
	c.setStageLocked(models.StageConfirming, statusConfirming)
	c.publish()
	return nil
}

func (c *Controller) reply(ctx context.Context, seq uint64, text string) (confirm.Intent, error) {
	intent := confirm.Classify(strings.TrimSpace(text))

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return intent, ErrStale
	}
	if c.sess.Stage != models.StageConfirming || len(c.sess.PendingToolCalls) == 0 {
		c.mu.Unlock()
		return intent, ErrInvalidStage
	}
	if c.turn != nil {
		c.turn.Reply = text
	}
	c.log.Debug("confirmation reply", "text", text, "intent", intent)

	switch intent {
	case confirm.Confirm:
		call := c.sess.PendingToolCalls[0].Clone()
		sessionID := c.sess.ID
		c.setStageLocked(models.StageExecuting, statusExecuting)
		c.publish()
		return intent, c.execute(ctx, seq, sessionID, call)

	case confirm.Cancel:
		c.finishLocked(models.TurnCancelled, "")
		c.resetLocked()
		c.publish()
		return intent, nil

	default:
		c.sess.StatusMessage = statusRetry
		c.publish()
		return intent, nil
	}
}

func (c *Controller) execute(ctx context.Context, seq uint64, sessionID string, call models.ToolCall) error {
	rctx, cancel := c.remoteContext(ctx, seq)
	res, err := c.cfg.Remote.ExecuteTool(rctx, sessionID, call.ToolID, call.Parameters)
	cancel()

	if err == nil && !res.Success {
		msg := "执行未成功"
		if res.Data != nil && res.Data.TTSMessage != "" {
			msg = res.Data.TTSMessage
		}
		err = errors.New(msg)
	}

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.log.Debug("discarding stale execute response", "turn", seq)
		return ErrStale
	}
	if err != nil {
		c.failLocked(MsgExecuteFailed + ": " + err.Error())
		c.publish()
		return fmt.Errorf("execute %s: %w", call.ToolID, err)
	}

	data := res.Data
	if data == nil {
		data = &models.ToolData{}
	}
	c.sess.Result = data
	c.sess.ConfirmText = ""
	c.sess.PendingToolCalls = nil
	if c.turn != nil {
		c.turn.Message = data.TTSMessage
	}
	c.finishLocked(models.TurnCompleted, "")
	c.setStageLocked(models.StageCompleted, statusCompleted)
	c.publish()

	if data.TTSMessage != "" {
		if err := c.speak(ctx, data.TTSMessage); err != nil {
			c.fail(seq, playbackMessage(err))
			return fmt.Errorf("speak result: %w", err)
		}
	}
	return nil
}

// fail ends the turn with a user-visible error, unless it was superseded.
func (c *Controller) fail(seq uint64, msg string) {
	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return
	}
	c.failLocked(msg)
	c.publish()
}

// --- helpers; the Locked variants require mu ---

func (c *Controller) isCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq == c.seq
}

func (c *Controller) setStageLocked(to models.Stage, status string) {
	c.log.Debug("stage", "from", c.sess.Stage, "to", to, "turn", c.seq)
	c.sess.Stage = to
	c.sess.StatusMessage = status
}

func (c *Controller) resetLocked() {
	c.sess = models.Session{ID: c.sess.ID, Stage: models.StageIdle}
}

func (c *Controller) failLocked(msg string) {
	c.log.Info("turn failed", "turn", c.seq, "error", msg)
	c.finishLocked(models.TurnFailed, msg)
	c.resetLocked()
	c.sess.Error = msg
}

// finishLocked queues the in-progress turn record, if any, for persistence.
func (c *Controller) finishLocked(outcome models.TurnOutcome, errMsg string) {
	if c.turn == nil {
		return
	}
	t := c.turn
	c.turn = nil
	t.Outcome = outcome
	t.Error = errMsg
	t.EndedAt = time.Now().UTC()
	c.finished = append(c.finished, t)
}

// publish releases mu, then persists finished turns and notifies OnChange.
func (c *Controller) publish() {
	snap := c.sess.Clone()
	finished := c.finished
	c.finished = nil
	c.mu.Unlock()

	if c.cfg.Recorder != nil {
		for _, t := range finished {
			if err := c.cfg.Recorder.RecordTurn(context.Background(), t); err != nil {
				c.log.Warn("failed to record turn", "error", err)
			}
		}
	}
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(snap)
	}
}

// track derives a context that Reset can cancel. If turn seq was already
// superseded, the context comes back cancelled.
func (c *Controller) track(ctx context.Context, seq uint64, timeout time.Duration) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		cancel()
		return ctx, cancel
	}
	c.abort = cancel
	return ctx, cancel
}

func (c *Controller) remoteContext(ctx context.Context, seq uint64) (context.Context, context.CancelFunc) {
	return c.track(ctx, seq, c.cfg.RemoteTimeout)
}

func (c *Controller) listen(ctx context.Context, seq uint64) (string, error) {
	lctx, cancel := c.track(ctx, seq, c.cfg.CaptureTimeout)
	defer cancel()
	return c.cfg.Capture.Listen(lctx)
}

func (c *Controller) speak(ctx context.Context, text string) error {
	return c.cfg.Playback.Speak(ctx, text)
}

func captureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgCaptureFailed + ": 等待语音输入超时"
	}
	return MsgCaptureFailed + ": " + err.Error()
}

func playbackMessage(err error) string {
	return MsgPlaybackFailed + ": " + err.Error()
}
