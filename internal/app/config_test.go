package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intrnl "visitortracker/internal"
)

func TestDefaultServerConfigIsValid(t *testing.T) {
	cfg := DefaultServerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
}

func TestDefaultConfigDoesNotRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Zero(t, cfg.ConnLimit)

	limiter := intrnl.NewRateLimiter(cfg.ConnLimit, cfg.ConnWindow)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow("10.0.0.1"), "attempt %d", i+1)
	}
}

func TestValidateRejectsSlowSweep(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.CleanupInterval = cfg.HeartbeatTimeout
	assert.ErrorContains(t, cfg.Validate(), "cleanup interval")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := ServerConfig{ConnLimit: 5}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "database path")
	assert.ErrorContains(t, err, "heartbeat timeout")
	assert.ErrorContains(t, err, "connection window")
}

func TestDefaultDBPathHonoursEnv(t *testing.T) {
	t.Setenv("VISITOR_TRACKER_DB_PATH", "/tmp/custom.db")
	assert.Equal(t, "/tmp/custom.db", DefaultDBPath())

	t.Setenv("VISITOR_TRACKER_DB_PATH", "")
	t.Setenv("VISITOR_TRACKER_DATA_DIR", "/srv/data")
	assert.Equal(t, filepath.Join("/srv/data", "visitortracker.db"), DefaultDBPath())
}

func TestDataDirSkipsDSNs(t *testing.T) {
	_, ok := dataDir("sqlite://file:x?mode=memory")
	assert.False(t, ok)
	dir, ok := dataDir(filepath.Join("var", "lib", "vt.db"))
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("var", "lib"), dir)
}
