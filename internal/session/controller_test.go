package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/voxpilot/internal/confirm"
	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/speech/speechtest"
)

type fakeRemote struct {
	mu         sync.Mutex
	interpret  func(ctx context.Context, utterance, sessionID string) (*models.Interpretation, error)
	execute    func(ctx context.Context, sessionID, toolID string, params map[string]any) (*models.ExecuteResult, error)
	interprets []string
	executions []models.ExecuteRequest
}

func (f *fakeRemote) Interpret(ctx context.Context, utterance, sessionID string) (*models.Interpretation, error) {
	f.mu.Lock()
	f.interprets = append(f.interprets, utterance)
	f.mu.Unlock()
	return f.interpret(ctx, utterance, sessionID)
}

func (f *fakeRemote) ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any) (*models.ExecuteResult, error) {
	f.mu.Lock()
	f.executions = append(f.executions, models.ExecuteRequest{SessionID: sessionID, ToolID: toolID, Params: params})
	f.mu.Unlock()
	return f.execute(ctx, sessionID, toolID, params)
}

func (f *fakeRemote) interpretCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.interprets)
}

func (f *fakeRemote) executeCalls() []models.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ExecuteRequest(nil), f.executions...)
}

type fakeAuth bool

func (a fakeAuth) IsAuthenticated(context.Context) bool { return bool(a) }

type memRecorder struct {
	mu    sync.Mutex
	turns []*models.Turn
}

func (r *memRecorder) RecordTurn(_ context.Context, t *models.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
	return nil
}

func (r *memRecorder) all() []*models.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Turn(nil), r.turns...)
}

func weatherPlan(_ context.Context, _, _ string) (*models.Interpretation, error) {
	return &models.Interpretation{
		Type:        models.InterpretationToolCall,
		SessionID:   "s1",
		ConfirmText: "您是想查询上海的天气吗？",
		ToolCalls:   []models.ToolCall{{ToolID: "maps_weather", Parameters: map[string]any{"city": "上海"}}},
	}, nil
}

func weatherResult(_ context.Context, _, _ string, _ map[string]any) (*models.ExecuteResult, error) {
	return &models.ExecuteResult{
		Success: true,
		ToolID:  "maps_weather",
		Data:    &models.ToolData{TTSMessage: "上海今天多云，气温20到28度"},
	}, nil
}

type harness struct {
	ctrl     *Controller
	remote   *fakeRemote
	capture  *speechtest.Capturer
	speaker  *speechtest.Speaker
	recorder *memRecorder
}

func newHarness(t *testing.T, authed bool, utterances ...string) *harness {
	t.Helper()
	h := &harness{
		remote:   &fakeRemote{interpret: weatherPlan, execute: weatherResult},
		capture:  speechtest.NewCapturer(utterances...),
		speaker:  speechtest.NewSpeaker(),
		recorder: &memRecorder{},
	}
	h.ctrl = New(Config{
		Remote:   h.remote,
		Auth:     fakeAuth(authed),
		Capture:  h.capture,
		Playback: h.speaker,
		Recorder: h.recorder,
	})
	require.NoError(t, h.ctrl.Mount())
	return h
}

func TestSubmit_PlanMovesToConfirming(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.ctrl.Submit(context.Background(), "上海天气怎么样"))

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageConfirming, s.Stage)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "您是想查询上海的天气吗？", s.ConfirmText)
	require.Len(t, s.PendingToolCalls, 1)
	assert.Equal(t, "maps_weather", s.PendingToolCalls[0].ToolID)
	assert.Equal(t, "上海", s.PendingToolCalls[0].Parameters["city"])
	assert.Empty(t, s.Error)
}

func TestReply_ConfirmExecutesAndSpeaksResult(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

	intent, err := h.ctrl.Reply(ctx, "确认")
	require.NoError(t, err)
	assert.Equal(t, confirm.Confirm, intent)

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageCompleted, s.Stage)
	require.NotNil(t, s.Result)
	assert.Equal(t, "上海今天多云，气温20到28度", s.Result.TTSMessage)
	assert.Empty(t, s.ConfirmText)
	assert.Empty(t, s.PendingToolCalls)
	assert.Equal(t, []string{"上海今天多云，气温20到28度"}, h.speaker.Spoken())

	calls := h.remote.executeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "s1", calls[0].SessionID)
	assert.Equal(t, "maps_weather", calls[0].ToolID)
	assert.Equal(t, "上海", calls[0].Params["city"])
}

func TestReply_CancelResetsKeepingSessionID(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

	intent, err := h.ctrl.Reply(ctx, "取消")
	require.NoError(t, err)
	assert.Equal(t, confirm.Cancel, intent)

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.Session{ID: "s1", Stage: models.StageIdle}, s)
	assert.Empty(t, h.remote.executeCalls())
}

func TestReply_RetryStaysConfirming(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

	intent, err := h.ctrl.Reply(ctx, "我不确定")
	require.NoError(t, err)
	assert.Equal(t, confirm.Retry, intent)

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageConfirming, s.Stage)
	assert.Equal(t, "您是想查询上海的天气吗？", s.ConfirmText)
	assert.Len(t, s.PendingToolCalls, 1)
}

func TestReply_OutsideConfirming(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.ctrl.Reply(context.Background(), "确认")
	assert.ErrorIs(t, err, ErrInvalidStage)
	assert.Empty(t, h.remote.executeCalls())
}

func TestSubmit_NotAuthenticated(t *testing.T) {
	h := newHarness(t, false)

	err := h.ctrl.Submit(context.Background(), "上海天气怎么样")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Equal(t, "请先登录", s.Error)
	assert.Zero(t, h.remote.interpretCalls())
}

func TestSubmit_InterpretFailure(t *testing.T) {
	h := newHarness(t, true)
	h.remote.interpret = func(context.Context, string, string) (*models.Interpretation, error) {
		return nil, errors.New("服务器内部错误")
	}

	err := h.ctrl.Submit(context.Background(), "上海天气怎么样")
	require.Error(t, err)

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Equal(t, "意图解析失败: 服务器内部错误", s.Error)
}

func TestSubmit_UnknownSpeaksAndReturnsToIdle(t *testing.T) {
	h := newHarness(t, true)
	h.remote.interpret = func(context.Context, string, string) (*models.Interpretation, error) {
		return &models.Interpretation{
			Type:        models.InterpretationUnknown,
			SessionID:   "s9",
			ConfirmText: "您的请求我无法理解，请换个说法试试",
		}, nil
	}

	require.NoError(t, h.ctrl.Submit(context.Background(), "讲个笑话"))

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Equal(t, "s9", s.ID)
	assert.Equal(t, "您的请求我无法理解，请换个说法试试", s.StatusMessage)
	assert.Empty(t, s.PendingToolCalls)
	assert.Equal(t, []string{"您的请求我无法理解，请换个说法试试"}, h.speaker.Spoken())

	turns := h.recorder.all()
	require.Len(t, turns, 1)
	assert.Equal(t, models.TurnUnknown, turns[0].Outcome)
}

func TestSubmit_EmptyUtterance(t *testing.T) {
	h := newHarness(t, true)
	err := h.ctrl.Submit(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, MsgNoSpeech, h.ctrl.Snapshot().Error)
	assert.Zero(t, h.remote.interpretCalls())
}

func TestExecute_Failure(t *testing.T) {
	tests := []struct {
		name    string
		execute func(context.Context, string, string, map[string]any) (*models.ExecuteResult, error)
		want    string
	}{
		{
			name: "rejected",
			execute: func(context.Context, string, string, map[string]any) (*models.ExecuteResult, error) {
				return nil, errors.New("不支持的工具: maps_weather")
			},
			want: "工具执行失败: 不支持的工具: maps_weather",
		},
		{
			name: "success false",
			execute: func(context.Context, string, string, map[string]any) (*models.ExecuteResult, error) {
				return &models.ExecuteResult{Success: false}, nil
			},
			want: "工具执行失败: 执行未成功",
		},
		{
			name: "success false with message",
			execute: func(context.Context, string, string, map[string]any) (*models.ExecuteResult, error) {
				return &models.ExecuteResult{Success: false, Data: &models.ToolData{TTSMessage: "天气服务暂时不可用"}}, nil
			},
			want: "工具执行失败: 天气服务暂时不可用",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			h.remote.execute = tt.execute
			ctx := context.Background()
			require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

			_, err := h.ctrl.Reply(ctx, "好的")
			require.Error(t, err)

			s := h.ctrl.Snapshot()
			assert.Equal(t, models.StageIdle, s.Stage)
			assert.Equal(t, tt.want, s.Error)
			assert.Equal(t, "s1", s.ID)
			assert.Nil(t, s.Result)
		})
	}
}

func TestRunTurn_FullVoiceTurn(t *testing.T) {
	h := newHarness(t, true, "上海天气怎么样", "确认")

	s, err := h.ctrl.RunTurn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, s.Stage)
	assert.Equal(t, []string{"您是想查询上海的天气吗？", "上海今天多云，气温20到28度"}, h.speaker.Spoken())
	assert.Equal(t, 2, h.capture.Listens())

	turns := h.recorder.all()
	require.Len(t, turns, 1)
	assert.Equal(t, models.TurnCompleted, turns[0].Outcome)
	assert.Equal(t, "上海天气怎么样", turns[0].Utterance)
	assert.Equal(t, "maps_weather", turns[0].ToolID)
	assert.JSONEq(t, `{"city":"上海"}`, turns[0].Params)
	assert.Equal(t, "确认", turns[0].Reply)
	assert.Equal(t, "s1", turns[0].SessionID)
}

func TestConfirm_RetriesThenConfirms(t *testing.T) {
	h := newHarness(t, true, "上海天气怎么样", "嗯", "", "是的")

	s, err := h.ctrl.RunTurn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, s.Stage)
	assert.Equal(t, 4, h.capture.Listens())
	// The confirmation prompt is spoken once, not per retry.
	assert.Equal(t, "您是想查询上海的天气吗？", h.speaker.Spoken()[0])
	assert.Len(t, h.speaker.Spoken(), 2)
}

func TestConfirm_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, true, "上海天气怎么样", "嗯", "啊", "哦", "确认")

	s, err := h.ctrl.RunTurn(context.Background())
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Equal(t, "未能识别确认意图", s.Error)
	assert.Equal(t, 4, h.capture.Listens())
	assert.Empty(t, h.remote.executeCalls())
}

func TestConfirm_CaptureError(t *testing.T) {
	h := newHarness(t, true, "上海天气怎么样")
	h.capture.Push(speechtest.Utterance{Err: errors.New("no-speech")})

	_, err := h.ctrl.RunTurn(context.Background())
	require.Error(t, err)

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Equal(t, "语音识别出错: no-speech", s.Error)
}

func TestStart_CaptureTimeout(t *testing.T) {
	h := newHarness(t, true)
	h.ctrl.cfg.CaptureTimeout = 10 * time.Millisecond
	h.capture.Push(speechtest.Utterance{Block: true})

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, "语音识别出错: 等待语音输入超时", h.ctrl.Snapshot().Error)
	assert.Equal(t, models.StageIdle, h.ctrl.Snapshot().Stage)
}

func TestPlaybackFailure(t *testing.T) {
	h := newHarness(t, true, "上海天气怎么样")
	h.speaker.Err = errors.New("audio device busy")

	_, err := h.ctrl.RunTurn(context.Background())
	require.Error(t, err)
	assert.Equal(t, "语音合成出错: audio device busy", h.ctrl.Snapshot().Error)
	assert.Empty(t, h.remote.executeCalls())
}

func TestStart_BusyDuringTurn(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

	assert.ErrorIs(t, h.ctrl.Submit(ctx, "北京天气"), ErrBusy)
	assert.ErrorIs(t, h.ctrl.Start(ctx), ErrBusy)
	assert.Equal(t, 1, h.remote.interpretCalls())
}

func TestRestart(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))
	assert.ErrorIs(t, h.ctrl.Restart(), ErrBusy)

	_, err := h.ctrl.Reply(ctx, "确认")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Restart())

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.Session{ID: "s1", Stage: models.StageIdle}, s)
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))
}

func TestReset_Idempotent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

	h.ctrl.Reset()
	first := h.ctrl.Snapshot()
	h.ctrl.Reset()
	second := h.ctrl.Snapshot()

	assert.Equal(t, models.Session{ID: "s1", Stage: models.StageIdle}, first)
	assert.Equal(t, first, second)

	turns := h.recorder.all()
	require.Len(t, turns, 1)
	assert.Equal(t, models.TurnCancelled, turns[0].Outcome)
}

func TestReset_OnEnteringRecordingStopsCapture(t *testing.T) {
	h := newHarness(t, true)
	h.capture.Push(speechtest.Utterance{Block: true})

	var once sync.Once
	h.ctrl.cfg.OnChange = func(s models.Session) {
		if s.Stage == models.StageRecording {
			once.Do(h.ctrl.Reset)
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("Start still listening after Reset")
	}

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Empty(t, s.Error)
	assert.Equal(t, 1, h.capture.Listens())
}

func TestCancel_DiscardsInFlightInterpret(t *testing.T) {
	h := newHarness(t, true)
	entered := make(chan struct{})
	h.remote.interpret = func(ctx context.Context, _, _ string) (*models.Interpretation, error) {
		close(entered)
		<-ctx.Done()
		return weatherPlan(ctx, "", "")
	}

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Submit(context.Background(), "上海天气怎么样") }()

	<-entered
	assert.Equal(t, models.StageInterpreting, h.ctrl.Snapshot().Stage)
	h.ctrl.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after Cancel")
	}

	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Empty(t, s.Error)
	assert.Empty(t, s.PendingToolCalls)
	assert.Equal(t, 1, h.speaker.Stops())
}

func TestCancel_DiscardsInFlightExecute(t *testing.T) {
	h := newHarness(t, true)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.execute = func(ctx context.Context, sid, tool string, p map[string]any) (*models.ExecuteResult, error) {
		close(entered)
		<-release
		return weatherResult(ctx, sid, tool, p)
	}
	ctx := context.Background()
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气怎么样"))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Reply(ctx, "确认")
		done <- err
	}()

	<-entered
	h.ctrl.Reset()
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
	s := h.ctrl.Snapshot()
	assert.Equal(t, models.StageIdle, s.Stage)
	assert.Nil(t, s.Result)
	assert.Empty(t, h.speaker.Spoken())
}

func TestMount_Unsupported(t *testing.T) {
	capture := speechtest.NewCapturer("上海天气怎么样")
	capture.Unsupported = errors.New("no microphone")
	remote := &fakeRemote{interpret: weatherPlan, execute: weatherResult}
	ctrl := New(Config{
		Remote:   remote,
		Auth:     fakeAuth(true),
		Capture:  capture,
		Playback: speechtest.NewSpeaker(),
	})

	err := ctrl.Mount()
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, MsgNoCapture, ctrl.Snapshot().Error)

	ctrl.DismissError()
	assert.ErrorIs(t, ctrl.Start(context.Background()), ErrUnsupported)
	assert.Equal(t, models.StageIdle, ctrl.Snapshot().Stage)
	assert.Equal(t, MsgNoCapture, ctrl.Snapshot().Error)
	assert.Zero(t, capture.Listens())
}

func TestDismissError_KeepsStage(t *testing.T) {
	h := newHarness(t, false)
	_ = h.ctrl.Submit(context.Background(), "上海天气怎么样")
	require.Equal(t, "请先登录", h.ctrl.Snapshot().Error)

	h.ctrl.DismissError()
	s := h.ctrl.Snapshot()
	assert.Empty(t, s.Error)
	assert.Equal(t, models.StageIdle, s.Stage)
}

func TestNewTurnClearsError(t *testing.T) {
	h := newHarness(t, true)
	h.remote.interpret = func(context.Context, string, string) (*models.Interpretation, error) {
		return nil, errors.New("boom")
	}
	ctx := context.Background()
	require.Error(t, h.ctrl.Submit(ctx, "上海天气"))
	require.NotEmpty(t, h.ctrl.Snapshot().Error)

	h.remote.interpret = weatherPlan
	require.NoError(t, h.ctrl.Submit(ctx, "上海天气"))
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestOnChange_ObservesStages(t *testing.T) {
	var mu sync.Mutex
	var stages []models.Stage
	remote := &fakeRemote{interpret: weatherPlan, execute: weatherResult}
	ctrl := New(Config{
		Remote:   remote,
		Auth:     fakeAuth(true),
		Capture:  speechtest.NewCapturer("上海天气怎么样", "确认"),
		Playback: speechtest.NewSpeaker(),
		OnChange: func(s models.Session) {
			mu.Lock()
			defer mu.Unlock()
			if n := len(stages); n == 0 || stages[n-1] != s.Stage {
				stages = append(stages, s.Stage)
			}
		},
	})
	require.NoError(t, ctrl.Mount())

	_, err := ctrl.RunTurn(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.Stage{
		models.StageIdle,
		models.StageRecording,
		models.StageInterpreting,
		models.StageConfirming,
		models.StageExecuting,
		models.StageCompleted,
	}, stages)
}
