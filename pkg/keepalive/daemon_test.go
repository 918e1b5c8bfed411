package keepalive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePIDRecord(t *testing.T, path string, record pidFileRecord) {
	t.Helper()
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestAcquirePIDFile_FirstCallerWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keepalive.pid")
	ok, err := acquirePIDFile(path, 8789, "https://api.openai.com/v1")
	require.NoError(t, err)
	assert.True(t, ok)

	record, ok := readPIDRecord(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), record.PID)
	assert.Equal(t, 8789, record.Port)
	assert.Equal(t, "https://api.openai.com/v1", record.Upstream)
	assert.NotEmpty(t, record.StartedAt)
}

func TestAcquirePIDFile_DefersToLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keepalive.pid")
	writePIDRecord(t, path, pidFileRecord{PID: os.Getpid(), Port: 8789, Upstream: "https://api.openai.com/v1"})

	ok, err := acquirePIDFile(path, 8789, "https://api.openai.com/v1")
	require.NoError(t, err)
	assert.False(t, ok, "a live PID already at the path must not be overwritten")
}

func TestAcquirePIDFile_StalePIDIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keepalive.pid")
	writePIDRecord(t, path, pidFileRecord{PID: 999999999, Port: 8789, Upstream: "https://api.openai.com/v1"})

	ok, err := acquirePIDFile(path, 8789, "https://api.openai.com/v1")
	require.NoError(t, err)
	assert.True(t, ok, "an unreachable PID must be treated as stale and reclaimed")
}

func TestReleasePIDFile_OnlyRemovesOwnEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keepalive.pid")
	writePIDRecord(t, path, pidFileRecord{PID: 999999999, Port: 8789})

	releasePIDFile(path)
	_, err := os.Stat(path)
	assert.NoError(t, err, "a PID file naming a different process must be left alone")

	writePIDRecord(t, path, pidFileRecord{PID: os.Getpid(), Port: 8789})
	releasePIDFile(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSignalStop_NoLiveDaemonReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keepalive.pid")
	err := signalStop(path)
	assert.Error(t, err)
}
