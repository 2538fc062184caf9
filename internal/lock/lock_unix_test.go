//go:build !windows

package lock

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is above any real pid_max, so signal 0 reports ESRCH.
const deadPID = 2147483640

func TestAcquire_StaleLockFromDeadProcess(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, os.WriteFile(m.Path("o/r", 1), []byte(strconv.Itoa(deadPID)+"\n"), 0o600))

	_, held := m.Held("o/r", 1)
	assert.False(t, held)

	l, err := m.Acquire("o/r", 1)
	require.NoError(t, err)
	defer l.Release()

	pid, held := m.Held("o/r", 1)
	assert.True(t, held)
	assert.Equal(t, os.Getpid(), pid)
}

func TestClearStale(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, os.WriteFile(m.Path("o/r", 2), []byte(strconv.Itoa(deadPID)+"\n"), 0o600))

	removed, err := m.ClearStale("o/r", 2)
	require.NoError(t, err)
	assert.True(t, removed)

	l, err := m.Acquire("o/r", 3)
	require.NoError(t, err)
	defer l.Release()

	removed, err = m.ClearStale("o/r", 3)
	require.NoError(t, err)
	assert.False(t, removed, "live owner keeps its lock")
}
