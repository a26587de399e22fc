// Package theme persists the light/dark preference.
package theme

import (
	"context"
	"fmt"

	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/store"
)

// Theme is a named color scheme.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

// Default is used when nothing is stored.
const Default = Dark

// Parse validates a theme name.
func Parse(name string) (Theme, error) {
	switch Theme(name) {
	case Light, Dark:
		return Theme(name), nil
	default:
		return "", fmt.Errorf("unknown theme %q (want light or dark)", name)
	}
}

// Service reads and writes the theme preference.
type Service struct {
	prefs store.Prefs
}

// NewService creates a theme service backed by prefs.
func NewService(prefs store.Prefs) *Service {
	return &Service{prefs: prefs}
}

// Get returns the stored theme, or Default when unset or invalid.
func (s *Service) Get(ctx context.Context) (Theme, error) {
	v, ok, err := s.prefs.GetPref(ctx, models.KeyTheme)
	if err != nil {
		return Default, fmt.Errorf("read theme: %w", err)
	}
	if !ok {
		return Default, nil
	}
	t, err := Parse(v)
	if err != nil {
		return Default, nil
	}
	return t, nil
}

// Set stores a theme.
func (s *Service) Set(ctx context.Context, t Theme) error {
	if _, err := Parse(string(t)); err != nil {
		return err
	}
	if err := s.prefs.SetPref(ctx, models.KeyTheme, string(t)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

// Toggle flips between light and dark and returns the new theme.
func (s *Service) Toggle(ctx context.Context) (Theme, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return cur, err
	}
	next := Light
	if cur == Light {
		next = Dark
	}
	return next, s.Set(ctx, next)
}
