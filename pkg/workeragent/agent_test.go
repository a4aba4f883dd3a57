package workeragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolvesDefaultCacheDir(t *testing.T) {
	a, err := New(Config{WorkerID: "w1"})
	require.NoError(t, err)
	assert.Contains(t, a.cfg.CacheDir, "hodei-artifacts-w1")
}

func TestNewDefaultsToPermissiveSecurity(t *testing.T) {
	a, err := New(Config{WorkerID: "w2", CacheDir: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, a.cfg.Security.Authorize("anything", nil))
}

func TestJoinCommand(t *testing.T) {
	assert.Equal(t, "echo hi", joinCommand([]string{"echo", "hi"}))
	assert.Equal(t, "", joinCommand(nil))
}

func TestExitCodeOfNonExitError(t *testing.T) {
	assert.Equal(t, int32(-1), exitCodeOf(assert.AnError))
}
