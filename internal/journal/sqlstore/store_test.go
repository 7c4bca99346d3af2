package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/shared/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(sqlDB, db.SQLite))
	return New(sqlDB, db.SQLite, 2)
}

func record(pid, tag string, seq int64) journal.Record {
	return journal.Record{
		PersistenceID: pid,
		EntityType:    "bet",
		EntityID:      pid,
		SeqNr:         seq,
		EventType:     "Opened",
		Payload:       []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
		Tag:           tag,
		EventID:       uuid.NewString(),
		Timestamp:     time.Now(),
	}
}

func TestAppendAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []journal.Record{record("bet|b1", "bet-tag-0", 1), record("bet|b1", "bet-tag-0", 2)}))
	require.NoError(t, s.Append(ctx, []journal.Record{record("bet|b1", "bet-tag-0", 3)}))

	all, err := s.Load(ctx, "bet|b1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, int64(i+1), r.SeqNr)
		assert.Equal(t, "Opened", r.EventType)
	}

	tail, err := s.Load(ctx, "bet|b1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].SeqNr)
}

func TestAppendRejectsDuplicateSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []journal.Record{record("wallet|w1", "wallet-tag-1", 1)}))
	err := s.Append(ctx, []journal.Record{record("wallet|w1", "wallet-tag-1", 1)})
	assert.ErrorIs(t, err, journal.ErrSeqConflict)

	// a transação inteira é descartada
	err = s.Append(ctx, []journal.Record{record("wallet|w1", "wallet-tag-1", 2), record("wallet|w1", "wallet-tag-1", 1)})
	assert.ErrorIs(t, err, journal.ErrSeqConflict)
	all, err := s.Load(ctx, "wallet|w1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEventsByTagPreservesPersistOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, s.Append(ctx, []journal.Record{record("bet|a", "bet-tag-0", seq)}))
		require.NoError(t, s.Append(ctx, []journal.Record{record("bet|b", "bet-tag-1", seq)}))
	}

	got, err := s.EventsByTag(ctx, "bet-tag-0", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, "bet|a", r.PersistenceID)
		assert.Equal(t, int64(i+1), r.SeqNr)
		if i > 0 {
			assert.Greater(t, r.Offset, got[i-1].Offset)
		}
	}

	page, err := s.EventsByTag(ctx, "bet-tag-0", got[0].Offset, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].SeqNr)
}

func TestSnapshotsKeepLatestTwo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "bet|b1")
	assert.ErrorIs(t, err, journal.ErrNotFound)

	for _, seq := range []int64{100, 200, 300} {
		require.NoError(t, s.Save(ctx, journal.Snapshot{
			PersistenceID: "bet|b1",
			SeqNr:         seq,
			State:         []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
			CreatedAt:     time.Now(),
		}))
	}

	latest, err := s.Latest(ctx, "bet|b1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), latest.SeqNr)
	assert.JSONEq(t, `{"seq":300}`, string(latest.State))

	kept, err := s.ListSnapshots(ctx, "bet|b1")
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(300), kept[0].SeqNr)
	assert.Equal(t, int64(200), kept[1].SeqNr)
}
