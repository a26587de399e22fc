package models

import "time"

// TurnOutcome records how a turn ended.
type TurnOutcome string

const (
	TurnCompleted TurnOutcome = "completed"
	TurnCancelled TurnOutcome = "cancelled"
	TurnFailed    TurnOutcome = "failed"
	TurnUnknown   TurnOutcome = "unknown"
)

// Turn is one finished capture → interpret → confirm → execute cycle.
type Turn struct {
	ID        string
	SessionID string
	Utterance string
	ToolID    string
	Params    string // JSON
	Reply     string
	Outcome   TurnOutcome
	Message   string
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}
