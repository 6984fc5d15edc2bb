package message

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client)
}

func TestRedisStoreContract(t *testing.T) {
	runStoreContractTests(t, func(t *testing.T) Store {
		return newTestRedisStore(t)
	})
}

func TestRedisStoreRoundTripsTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, s.Insert(ctx, newMsg("m1", "u1", "hello", createdAt)))

	got, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(createdAt), "nanosecond precision survives the round trip")
}

func TestRedisStoreReactionOrderPreserved(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)
	base := time.Now()

	require.NoError(t, s.Insert(ctx, newMsg("m1", "u1", "hello", base)))
	for i, reactor := range []string{"u2", "u3", "u4"} {
		r := Reaction{Emoji: "👍", ReactorID: reactor, ReactedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.AppendReaction(ctx, "m1", r))
	}

	got, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got.Reactions, 3)
	assert.Equal(t, "u2", got.Reactions[0].ReactorID)
	assert.Equal(t, "u3", got.Reactions[1].ReactorID)
	assert.Equal(t, "u4", got.Reactions[2].ReactorID)
}

func TestRedisStoreDeleteCleansKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client)

	require.NoError(t, s.Insert(ctx, newMsg("m1", "u1", "hello", time.Now())))
	require.NoError(t, s.AppendReaction(ctx, "m1", Reaction{Emoji: "👍", ReactorID: "u2", ReactedAt: time.Now()}))
	require.NoError(t, s.DeleteByID(ctx, "m1"))

	assert.False(t, mr.Exists("msg:m1"))
	assert.False(t, mr.Exists("msg:m1:ro"))
	assert.False(t, mr.Exists("msg:m1:rh"))
}
