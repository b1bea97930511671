package di

import (
	"context"
	"testing"
	"time"

	"music-stream/backend/internal/testutil"
	"music-stream/backend/pkg/config"
	"music-stream/backend/pkg/health"
	"music-stream/backend/pkg/jwt"
	"music-stream/backend/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithInMemoryCache(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("VAULT_ENABLED", "false")
	t.Setenv("JWT_SECRET", "container-secret")

	cfg := config.Load()
	c, err := New(context.Background(), cfg, logger.Discard(), testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.Nil(t, c.Redis)
	assert.NotNil(t, c.LocalCache)
	assert.NotNil(t, c.Hub)

	token, err := jwt.NewService("container-secret", time.Hour, cfg.JWT.Issuer).
		GenerateToken(jwt.Identity{UserID: "alice"})
	require.NoError(t, err)
	userID, err := c.JWTService.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	c.Health.RunChecks(context.Background())
	status := c.Health.GetStatus()
	assert.Equal(t, health.StatusUp, status["database"].Status)
	assert.Equal(t, health.StatusUp, status["breaker-message-store"].Status)
	// the hub is not running until Run is called
	assert.Equal(t, health.StatusDown, status["realtime"].Status)
	assert.True(t, c.Health.IsSystemHealthy())
}

func TestNewWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("VAULT_ENABLED", "false")

	c, err := New(context.Background(), config.Load(), logger.Discard(), testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NotNil(t, c.Redis)
	assert.Nil(t, c.LocalCache)

	user, err := c.UserService.EnsureUser(context.Background(), jwt.Identity{UserID: "bob", FullName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.FullName)
	assert.True(t, mr.Exists("user:bob"))

	c.Health.RunChecks(context.Background())
	assert.Equal(t, health.StatusUp, c.Health.GetStatus()["redis"].Status)
}

func TestNewRejectsIncompleteVaultConfig(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "true")
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")

	_, err := New(context.Background(), config.Load(), logger.Discard(), testutil.NewSQLiteDB(t))
	assert.Error(t, err)
}
