package store

import (
	"context"

	"github.com/joescharf/voxpilot/internal/models"
)

// Prefs is the persisted key-value store behind auth and theme state.
type Prefs interface {
	GetPref(ctx context.Context, key string) (string, bool, error)
	SetPref(ctx context.Context, key, value string) error
	DeletePrefs(ctx context.Context, keys ...string) error
}

// TurnListFilter specifies filters for listing turns.
type TurnListFilter struct {
	SessionID string
	Outcome   models.TurnOutcome
	Limit     int
}

// Store defines the persistence interface for voxpilot.
type Store interface {
	Prefs

	// Turns
	RecordTurn(ctx context.Context, turn *models.Turn) error
	GetTurn(ctx context.Context, id string) (*models.Turn, error)
	ListTurns(ctx context.Context, filter TurnListFilter) ([]*models.Turn, error)

	// Developer tools
	CreateDevTool(ctx context.Context, tool *models.Tool) error
	ListDevTools(ctx context.Context) ([]*models.Tool, error)
	DeleteDevTool(ctx context.Context, toolID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
