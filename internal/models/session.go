package models

import "maps"

// Stage represents where a voice interaction currently is.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageRecording    Stage = "recording"
	StageInterpreting Stage = "interpreting"
	StageConfirming   Stage = "confirming"
	StageExecuting    Stage = "executing"
	StageCompleted    Stage = "completed"
)

// Session is the state of one voice interaction.
//
// ConfirmText and PendingToolCalls are only meaningful while Stage is
// confirming or executing. Error is independent of Stage.
type Session struct {
	ID               string     `json:"sessionId,omitempty"`
	Stage            Stage      `json:"stage"`
	StatusMessage    string     `json:"statusMessage,omitempty"`
	PendingToolCalls []ToolCall `json:"pendingToolCalls,omitempty"`
	ConfirmText      string     `json:"confirmText,omitempty"`
	Result           *ToolData  `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Clone returns a deep copy that is safe to hand out to readers.
func (s Session) Clone() Session {
	out := s
	if s.PendingToolCalls != nil {
		out.PendingToolCalls = make([]ToolCall, len(s.PendingToolCalls))
		for i, c := range s.PendingToolCalls {
			out.PendingToolCalls[i] = c.Clone()
		}
	}
	if s.Result != nil {
		r := *s.Result
		r.RawData = maps.Clone(s.Result.RawData)
		out.Result = &r
	}
	return out
}
