package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"roadwatch/internal/core/domain"
)

// testClient connects to ROADWATCH_TEST_REDIS and skips without it.
func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("ROADWATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("ROADWATCH_TEST_REDIS not set")
	}
	client, err := NewRedisClient(addr, "", 15, 4, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, recentKey).Err())
	t.Cleanup(func() {
		client.Del(context.Background(), recentKey)
		client.Close()
	})
	return client
}

func TestResultRepository_Redis(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	repo := NewResultRepository(client, 3, time.Minute)

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)

	for i := uint64(1); i <= 5; i++ {
		r := domain.NewFrameResult("run", i, time.Unix(int64(i), 0).UTC(), time.Millisecond, nil)
		require.NoError(t, repo.Save(ctx, r))
	}

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), latest.FrameNumber)

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(3), recent[2].FrameNumber)

	ttl, err := client.TTL(ctx, recentKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestMigrate_ReplacesWrongKeyType(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, recentKey, "stale", 0).Err())
	require.NoError(t, client.Del(ctx, schemaVersionKey).Err())

	require.NoError(t, Migrate(ctx, client, zaptest.NewLogger(t).Sugar()))

	exists, err := client.Exists(ctx, recentKey).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}
