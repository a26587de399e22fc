package daemon

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is high enough that no live process should hold it.
const deadPID = 999999

func newPIDFile(t *testing.T) *PIDFile {
	t.Helper()
	return NewPIDFile(filepath.Join(t.TempDir(), "run", "voxpilot-serve.pid"))
}

func TestPIDFile_WriteAndRead(t *testing.T) {
	pf := newPIDFile(t)

	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	_, err = os.Stat(pf.Path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestPIDFile_Read_Errors(t *testing.T) {
	pf := newPIDFile(t)
	_, err := pf.Read()
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0o755))
	for _, content := range []string{"not-a-number\n", "0\n", "-4"} {
		require.NoError(t, os.WriteFile(pf.Path, []byte(content), 0o644))
		_, err = pf.Read()
		assert.ErrorContains(t, err, "invalid PID file content", "content %q", content)
	}
}

func TestPIDFile_Remove(t *testing.T) {
	pf := newPIDFile(t)
	require.NoError(t, pf.WritePID(1))

	require.NoError(t, pf.Remove())
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, pf.Remove(), "removing twice is fine")
}

func TestPIDFile_IsRunning(t *testing.T) {
	pf := newPIDFile(t)

	pid, running := pf.IsRunning()
	assert.Zero(t, pid)
	assert.False(t, running)

	require.NoError(t, pf.Write())
	pid, running = pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.WritePID(deadPID))
	pid, running = pf.IsRunning()
	assert.Equal(t, deadPID, pid)
	assert.False(t, running)
}

func TestPIDFile_Running_ClearsStaleFile(t *testing.T) {
	pf := newPIDFile(t)
	require.NoError(t, pf.WritePID(deadPID))

	_, err := pf.Running()
	assert.ErrorIs(t, err, ErrNotRunning)
	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, pf.Write())
	pid, err := pf.Running()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Acquire(t *testing.T) {
	pf := newPIDFile(t)

	// A live holder blocks everyone else.
	require.NoError(t, pf.Write())
	err := pf.Acquire(deadPID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorContains(t, err, "PID")

	// Re-acquiring for the same process is allowed.
	require.NoError(t, pf.Acquire(os.Getpid()))

	// A stale holder is replaced.
	require.NoError(t, pf.WritePID(deadPID))
	require.NoError(t, pf.Acquire(4242))
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestPIDFile_Signal(t *testing.T) {
	pf := newPIDFile(t)

	err := pf.Signal(syscall.Signal(0))
	assert.ErrorContains(t, err, "read PID file")

	require.NoError(t, pf.Write())
	assert.NoError(t, pf.Signal(syscall.Signal(0)))
}
