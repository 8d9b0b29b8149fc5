package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDGuard_Check_NoFile(t *testing.T) {
	guard := NewPIDGuard(t.TempDir())
	assert.NoError(t, guard.Check())
}

func TestPIDGuard_Check_StaleProcess(t *testing.T) {
	tmpDir := t.TempDir()

	// A very high PID that is unlikely to exist.
	pidFile := filepath.Join(tmpDir, PIDFileName)
	require.NoError(t, os.WriteFile(pidFile, []byte("999999"), 0644))

	guard := NewPIDGuard(tmpDir)
	assert.NoError(t, guard.Check())
	assert.NoFileExists(t, pidFile, "stale PID file should be removed")
}

func TestPIDGuard_Check_InvalidPID(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, PIDFileName)
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-number"), 0644))

	guard := NewPIDGuard(tmpDir)
	assert.NoError(t, guard.Check())
	assert.NoFileExists(t, pidFile, "invalid PID file should be removed")
}

func TestPIDGuard_Check_LiveProcess(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, PIDFileName)
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))

	err := NewPIDGuard(tmpDir).Check()
	var running *AlreadyRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, os.Getpid(), running.PID)
	assert.Equal(t, pidFile, running.Path)
	assert.FileExists(t, pidFile)
}

func TestPIDGuard_AcquireRelease(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "deploy")
	guard := NewPIDGuard(repoDir)

	require.NoError(t, guard.Acquire())
	data, err := os.ReadFile(guard.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// A second acquisition, even from the same process, is rejected.
	err = NewPIDGuard(repoDir).Acquire()
	var running *AlreadyRunningError
	assert.True(t, errors.As(err, &running))

	guard.Release()
	assert.NoFileExists(t, guard.Path())

	require.NoError(t, guard.Acquire())
	guard.Release()
}

// plantOnce makes the first exclusive create find content already written by
// someone else.
func plantOnce(g *PIDGuard, content string) {
	planted := false
	g.create = func(path string) (*os.File, error) {
		if !planted {
			planted = true
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return nil, err
			}
		}
		return createExclusive(path)
	}
}

func TestPIDGuard_AcquireRetriesAfterStaleRace(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"half-written file", ""},
		{"dead process", "999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewPIDGuard(t.TempDir())
			plantOnce(guard, tt.content)

			require.NoError(t, guard.Acquire())
			data, err := os.ReadFile(guard.Path())
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(data), "guard must be owned after Acquire")
		})
	}
}

func TestPIDGuard_AcquireLosesRaceToLiveProcess(t *testing.T) {
	guard := NewPIDGuard(t.TempDir())
	plantOnce(guard, strconv.Itoa(os.Getpid()))

	err := guard.Acquire()
	var running *AlreadyRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, os.Getpid(), running.PID)
}

func TestPIDGuard_ReleaseLeavesForeignFile(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, PIDFileName)
	require.NoError(t, os.WriteFile(pidFile, []byte("999999"), 0644))

	NewPIDGuard(tmpDir).Release()
	assert.FileExists(t, pidFile)
}

func TestPIDGuard_ReleaseWithoutFile(t *testing.T) {
	assert.NotPanics(t, func() { NewPIDGuard(t.TempDir()).Release() })
}
