// Package auth keeps the signed-in user's credentials in the preference store.
package auth

import (
	"context"
	"fmt"

	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/store"
)

// Credentials seeded by SetupMock.
const (
	MockToken    = "mock-jwt-token"
	MockUserID   = "1"
	MockUsername = "testuser"
)

var credentialKeys = []string{
	models.KeyAuthToken,
	models.KeyUserID,
	models.KeyUsername,
	models.KeyUserRole,
}

// Manager reads and writes AuthState through the preference store.
type Manager struct {
	prefs store.Prefs
}

// NewManager creates an auth manager backed by prefs.
func NewManager(prefs store.Prefs) *Manager {
	return &Manager{prefs: prefs}
}

// State loads the current auth state. Read failures are reported in
// AuthState.Error and leave the user signed out.
func (m *Manager) State(ctx context.Context) models.AuthState {
	token, ok, err := m.prefs.GetPref(ctx, models.KeyAuthToken)
	if err != nil {
		return models.AuthState{Error: err.Error()}
	}
	if !ok || token == "" {
		return models.AuthState{}
	}

	st := models.AuthState{IsAuthenticated: true}
	st.UserID, _, _ = m.prefs.GetPref(ctx, models.KeyUserID)
	st.Username, _, _ = m.prefs.GetPref(ctx, models.KeyUsername)
	st.Role, _, _ = m.prefs.GetPref(ctx, models.KeyUserRole)
	if st.Username == "" {
		st.Username = MockUsername
	}
	if st.Role == "" {
		st.Role = models.RoleUser
	}
	return st
}

// IsAuthenticated reports whether a token is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.State(ctx).IsAuthenticated
}

// Login persists the credentials returned by the backend.
func (m *Manager) Login(ctx context.Context, resp *models.LoginResponse) error {
	if resp == nil || resp.AccessToken == "" {
		return fmt.Errorf("login response has no access token")
	}
	values := map[string]string{
		models.KeyAuthToken: resp.AccessToken,
		models.KeyUserID:    resp.UserID,
		models.KeyUsername:  resp.Username,
		models.KeyUserRole:  resp.Role,
	}
	for _, k := range credentialKeys {
		if err := m.prefs.SetPref(ctx, k, values[k]); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
	}
	return nil
}

// Logout removes all stored credentials.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.prefs.DeletePrefs(ctx, credentialKeys...); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// SetupMock seeds development credentials when none are stored.
// It returns true if it wrote anything.
func (m *Manager) SetupMock(ctx context.Context) (bool, error) {
	if m.IsAuthenticated(ctx) {
		return false, nil
	}
	err := m.Login(ctx, &models.LoginResponse{
		AccessToken: MockToken,
		UserID:      MockUserID,
		Username:    MockUsername,
		Role:        models.RoleUser,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearMock removes whatever credentials are stored.
func (m *Manager) ClearMock(ctx context.Context) error {
	return m.Logout(ctx)
}
