package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendEnforcesSequence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, []Record{{PersistenceID: "wallet|w1", SeqNr: 1, Tag: "wallet-tag-0"}}))
	assert.ErrorIs(t, m.Append(ctx, []Record{{PersistenceID: "wallet|w1", SeqNr: 1}}), ErrSeqConflict)
	assert.ErrorIs(t, m.Append(ctx, []Record{{PersistenceID: "wallet|w1", SeqNr: 3}}), ErrSeqConflict)

	boom := errors.New("disk full")
	m.FailAppends(boom)
	assert.ErrorIs(t, m.Append(ctx, []Record{{PersistenceID: "wallet|w1", SeqNr: 2}}), boom)
	m.FailAppends(nil)
	require.NoError(t, m.Append(ctx, []Record{{PersistenceID: "wallet|w1", SeqNr: 2, Tag: "wallet-tag-0"}}))

	got, err := m.Load(ctx, "wallet|w1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryEventsByTag(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, []Record{{PersistenceID: "bet|a", SeqNr: 1, Tag: "bet-tag-0"}}))
	require.NoError(t, m.Append(ctx, []Record{{PersistenceID: "bet|b", SeqNr: 1, Tag: "bet-tag-1"}}))
	require.NoError(t, m.Append(ctx, []Record{{PersistenceID: "bet|a", SeqNr: 2, Tag: "bet-tag-0"}}))

	got, err := m.EventsByTag(ctx, "bet-tag-0", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Offset)
	assert.Equal(t, int64(3), got[1].Offset)

	rest, err := m.EventsByTag(ctx, "bet-tag-0", got[0].Offset, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(2), rest[0].SeqNr)
}

func TestMemorySnapshotsKeep(t *testing.T) {
	s := NewMemorySnapshots(2)
	ctx := context.Background()

	_, err := s.Latest(ctx, "bet|b1")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, seq := range []int64{100, 300, 200} {
		require.NoError(t, s.Save(ctx, Snapshot{PersistenceID: "bet|b1", SeqNr: seq}))
	}
	latest, err := s.Latest(ctx, "bet|b1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), latest.SeqNr)

	kept := s.List("bet|b1")
	require.Len(t, kept, 2)
	assert.Equal(t, int64(200), kept[1].SeqNr)
}
