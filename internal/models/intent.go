package models

import "maps"

// InterpretationType distinguishes a tool-call plan from an unrecognized request.
type InterpretationType string

const (
	InterpretationToolCall InterpretationType = "tool_call"
	InterpretationUnknown  InterpretationType = "unknown"
)

// ToolCall is a single planned tool invocation returned by the classifier.
type ToolCall struct {
	ToolID     string         `json:"tool_id"`
	Parameters map[string]any `json:"parameters"`
}

// Clone returns a copy with its own parameter map.
func (c ToolCall) Clone() ToolCall {
	return ToolCall{ToolID: c.ToolID, Parameters: maps.Clone(c.Parameters)}
}

// Interpretation is the classifier's answer to an utterance.
type Interpretation struct {
	Type        InterpretationType `json:"type,omitempty"`
	SessionID   string             `json:"sessionId"`
	ConfirmText string             `json:"confirmText"`
	Message     string             `json:"message,omitempty"`
	ToolCalls   []ToolCall         `json:"tool_calls,omitempty"`
}

// IsUnknown reports whether the classifier could not map the utterance to a tool.
func (i *Interpretation) IsUnknown() bool {
	return i.Type == InterpretationUnknown || len(i.ToolCalls) == 0
}

// InterpretRequest is the body of POST /interpret.
type InterpretRequest struct {
	Query     string `json:"query"`
	UserID    int64  `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	SessionID string         `json:"sessionId"`
	UserID    int64          `json:"userId"`
	ToolID    string         `json:"toolId"`
	Params    map[string]any `json:"params"`
}

// ToolData is the payload of a successful tool execution.
type ToolData struct {
	TTSMessage string         `json:"tts_message"`
	RawData    map[string]any `json:"raw_data,omitempty"`
}

// ExecuteResult is the response of POST /execute.
type ExecuteResult struct {
	Success   bool      `json:"success"`
	ToolID    string    `json:"toolId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Data      *ToolData `json:"data,omitempty"`
}
