package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewManager(s), s
}

func TestState_SignedOut(t *testing.T) {
	m, _ := newTestManager(t)
	st := m.State(context.Background())
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
}

func TestLoginLogout(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()

	err := m.Login(ctx, &models.LoginResponse{
		AccessToken: "mock-jwt-token-developer",
		UserID:      "2",
		Username:    "developer",
		Role:        models.RoleDeveloper,
	})
	require.NoError(t, err)

	st := m.State(ctx)
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "2", st.UserID)
	assert.Equal(t, "developer", st.Username)
	assert.True(t, st.IsDeveloper())

	tok, ok, err := s.GetPref(ctx, models.KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mock-jwt-token-developer", tok)

	require.NoError(t, m.Logout(ctx))
	assert.False(t, m.IsAuthenticated(ctx))
	_, ok, err = s.GetPref(ctx, models.KeyUserRole)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogin_RejectsEmptyToken(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Login(context.Background(), &models.LoginResponse{UserID: "1"})
	assert.Error(t, err)
}

func TestState_Defaults(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.SetPref(ctx, models.KeyAuthToken, "tok"))

	st := m.State(ctx)
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, MockUsername, st.Username)
	assert.Equal(t, models.RoleUser, st.Role)
	assert.False(t, st.IsDeveloper())
}

func TestSetupMock(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	seeded, err := m.SetupMock(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	st := m.State(ctx)
	assert.Equal(t, MockUserID, st.UserID)
	assert.Equal(t, MockUsername, st.Username)

	// Existing credentials are left alone.
	seeded, err = m.SetupMock(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	require.NoError(t, m.ClearMock(ctx))
	assert.False(t, m.IsAuthenticated(ctx))
}

type failingPrefs struct{}

func (failingPrefs) GetPref(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}
func (failingPrefs) SetPref(context.Context, string, string) error { return errors.New("disk gone") }
func (failingPrefs) DeletePrefs(context.Context, ...string) error  { return errors.New("disk gone") }

func TestState_ReadError(t *testing.T) {
	m := NewManager(failingPrefs{})
	st := m.State(context.Background())
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "disk gone", st.Error)

	_, err := m.SetupMock(context.Background())
	assert.Error(t, err)
}
