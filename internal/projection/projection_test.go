package projection

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/betting-house/internal/bet"
	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/market"
	"github.com/radieske/betting-house/internal/shared/db"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "projection.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB, db.SQLite))
	return sqlDB
}

func appendEvents(t *testing.T, j *journal.Memory, entityType, id, tag string, events ...entity.Event) {
	t.Helper()
	ctx := context.Background()
	pid := journal.PersistenceID(entityType, id)
	prev, err := j.Load(ctx, pid, 0)
	require.NoError(t, err)

	records := make([]journal.Record, 0, len(events))
	for i, evt := range events {
		payload, err := json.Marshal(evt)
		require.NoError(t, err)
		records = append(records, journal.Record{
			PersistenceID: pid,
			EntityType:    entityType,
			EntityID:      id,
			SeqNr:         int64(len(prev) + i + 1),
			EventType:     evt.EventType(),
			Payload:       payload,
			Tag:           tag,
			EventID:       uuid.NewString(),
			Timestamp:     time.Now(),
		})
	}
	require.NoError(t, j.Append(ctx, records))
}

func startDaemon(t *testing.T, d *Daemon, p Projection, tags ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, p, tags)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newDaemon(t *testing.T, j journal.Journal, sqlDB *sql.DB) *Daemon {
	return &Daemon{
		Log:       zaptest.NewLogger(t),
		Journal:   j,
		Offsets:   NewOffsets(sqlDB, db.SQLite),
		BatchSize: 2,
		Interval:  20 * time.Millisecond,
	}
}

func seedBets(t *testing.T, j *journal.Memory) {
	appendEvents(t, j, bet.TypeKey, "B1", "bet-tag-0",
		bet.Opened{BetID: "B1", WalletID: "W1", MarketID: "M1", Odds: 2, Stake: 50, Result: 1},
		bet.MarketConfirmed{BetID: "B1", MarketOdds: 2},
		bet.FundsGranted{BetID: "B1"},
		bet.ValidationsPassed{BetID: "B1"},
	)
	appendEvents(t, j, bet.TypeKey, "B2", "bet-tag-1",
		bet.Opened{BetID: "B2", WalletID: "W2", MarketID: "M1", Odds: 3, Stake: 10, Result: 2},
		bet.Failed{BetID: "B2", Reason: "funds not available"},
	)
	appendEvents(t, j, bet.TypeKey, "B3", "bet-tag-0",
		bet.Opened{BetID: "B3", WalletID: "W1", MarketID: "M1", Odds: 2.5, Stake: 20, Result: 1},
	)
}

func TestBetsProjection(t *testing.T) {
	sqlDB := openDB(t)
	j := journal.NewMemory()
	seedBets(t, j)
	bets := NewBets(sqlDB, db.SQLite)

	startDaemon(t, newDaemon(t, j, sqlDB), bets, "bet-tag-0", "bet-tag-1")

	require.Eventually(t, func() bool {
		row, err := bets.Get(context.Background(), "B3")
		return err == nil && row.Status == "open"
	}, 3*time.Second, 20*time.Millisecond)

	b1, err := bets.Get(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, "validated", b1.Status)
	assert.Equal(t, "W1", b1.WalletID)
	assert.Equal(t, int64(50), b1.Stake)

	require.Eventually(t, func() bool {
		row, err := bets.Get(context.Background(), "B2")
		return err == nil && row.Status == "failed"
	}, 3*time.Second, 20*time.Millisecond)

	stakes, err := bets.StakePerResult(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, []ResultStake{{Result: 1, Total: 150}, {Result: 2, Total: 30}}, stakes)

	off, err := NewOffsets(sqlDB, db.SQLite).Load(context.Background(), BetsName, "bet-tag-0")
	require.NoError(t, err)
	assert.Equal(t, int64(7), off)
}

func TestBetsProjectionResumesFromOffset(t *testing.T) {
	sqlDB := openDB(t)
	j := journal.NewMemory()
	seedBets(t, j)
	offsets := NewOffsets(sqlDB, db.SQLite)
	// a tag 0 já tinha sido lida até B1 ValidationsPassed (offset 4)
	require.NoError(t, offsets.Save(context.Background(), BetsName, "bet-tag-0", 4))

	bets := NewBets(sqlDB, db.SQLite)
	startDaemon(t, newDaemon(t, j, sqlDB), bets, "bet-tag-0")

	require.Eventually(t, func() bool {
		_, err := bets.Get(context.Background(), "B3")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	_, err := bets.Get(context.Background(), "B1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

// flaky falha os primeiros ApplyTx e registra o que foi efetivado
type flaky struct {
	mu    sync.Mutex
	fails int
	seen  []int64
}

func (f *flaky) Name() string { return "flaky" }

func (f *flaky) ApplyTx(_ context.Context, _ *sql.Tx, r journal.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("db down")
	}
	f.seen = append(f.seen, r.Offset)
	return nil
}

func (f *flaky) offsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.seen...)
}

func TestExactlyOnceRetriesInsteadOfSkipping(t *testing.T) {
	sqlDB := openDB(t)
	j := journal.NewMemory()
	seedBets(t, j)

	var errs int
	var mu sync.Mutex
	d := newDaemon(t, j, sqlDB)
	d.OnError = func(string, string) { mu.Lock(); errs++; mu.Unlock() }

	p := &flaky{fails: 2}
	startDaemon(t, d, p, "bet-tag-0")

	require.Eventually(t, func() bool { return len(p.offsets()) == 5 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4, 7}, p.offsets())
	mu.Lock()
	assert.Equal(t, 2, errs)
	mu.Unlock()
}

type fakeWriter struct {
	mu   sync.Mutex
	fail int
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail > 0 {
		w.fail--
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) published() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func seedMarket(t *testing.T, j *journal.Memory) {
	odds := market.Odds{WinHome: 2, WinAway: 3, Draw: 3.5}
	appendEvents(t, j, market.TypeKey, "M1", "market-tag-0",
		market.Opened{MarketID: "M1", Odds: odds},
		market.Updated{MarketID: "M1", Odds: &odds},
		market.Closed{MarketID: "M1", Result: 1},
	)
}

func TestMarketBusPublishesLifecycleEvents(t *testing.T) {
	sqlDB := openDB(t)
	j := journal.NewMemory()
	seedMarket(t, j)
	w := &fakeWriter{}

	startDaemon(t, newDaemon(t, j, sqlDB), &MarketBus{Writer: w}, "market-tag-0")

	require.Eventually(t, func() bool { return len(w.published()) == 2 }, 3*time.Second, 20*time.Millisecond)
	var types []string
	for _, m := range w.published() {
		assert.Equal(t, "M1", string(m.Key))
		var ev MarketEvent
		require.NoError(t, json.Unmarshal(m.Value, &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"Opened", "Closed"}, types)
}

func TestAtLeastOnceMovesOnAfterFailure(t *testing.T) {
	sqlDB := openDB(t)
	j := journal.NewMemory()
	seedMarket(t, j)
	w := &fakeWriter{fail: 1}

	startDaemon(t, newDaemon(t, j, sqlDB), &MarketBus{Writer: w}, "market-tag-0")

	require.Eventually(t, func() bool {
		off, err := NewOffsets(sqlDB, db.SQLite).Load(context.Background(), MarketBusName, "market-tag-0")
		return err == nil && off == 3
	}, 3*time.Second, 20*time.Millisecond)
	msgs := w.published()
	require.Len(t, msgs, 1)
	var ev MarketEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	assert.Equal(t, "Closed", ev.Type)
}

func TestRunRejectsUnknownProjection(t *testing.T) {
	d := &Daemon{}
	assert.Error(t, d.Run(context.Background(), unknown{}, []string{"t"}))
}

type unknown struct{}

func (unknown) Name() string { return "unknown" }
