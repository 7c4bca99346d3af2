package redisnap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/shared/cache"
)

// roda apenas com um Redis disponível em REDIS_ADDR
func TestSaveKeepsLatestTwo(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	client, err := cache.ConnectRedis(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := New(client, 2)
	pid := "bet|" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key(pid)) })

	_, err = s.Latest(ctx, pid)
	assert.ErrorIs(t, err, journal.ErrNotFound)

	for _, seq := range []int64{100, 200, 300} {
		require.NoError(t, s.Save(ctx, journal.Snapshot{PersistenceID: pid, SeqNr: seq, State: []byte(`{}`), CreatedAt: time.Now()}))
	}

	latest, err := s.Latest(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(300), latest.SeqNr)

	n, err := s.Count(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
