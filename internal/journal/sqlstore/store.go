// Package sqlstore implementa o journal e o snapshot store sobre database/sql,
// com Postgres (lib/pq) em produção e SQLite (modernc) em dev e testes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/shared/db"
)

// chave do advisory lock que serializa os appends no Postgres, para que a coluna
// ordering seja visível aos leitores por tag na mesma ordem em que foi atribuída
const appendLockKey = 7_340_021

// Store persiste eventos em event_journal e snapshots em snapshots
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	keep    int
}

// New espera um banco já migrado (db.Migrate)
func New(sqlDB *sql.DB, dialect db.Dialect, keepSnapshots int) *Store {
	if keepSnapshots <= 0 {
		keepSnapshots = 2
	}
	return &Store{db: sqlDB, dialect: dialect, keep: keepSnapshots}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() db.Dialect { return s.dialect }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

func (s *Store) Append(ctx context.Context, records []journal.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == db.Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("lock journal: %w", err)
		}
	}

	insert := s.q(`
		INSERT INTO event_journal
		  (persistence_id, entity_type, entity_id, seq_nr, event_type, payload, tag, event_id, written_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	for _, r := range records {
		_, err := tx.ExecContext(ctx, insert,
			r.PersistenceID, r.EntityType, r.EntityID, r.SeqNr,
			r.EventType, r.Payload, r.Tag, r.EventID, toMillis(r.Timestamp),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("append %s seq %d: %w", r.PersistenceID, r.SeqNr, journal.ErrSeqConflict)
			}
			return fmt.Errorf("append %s seq %d: %w", r.PersistenceID, r.SeqNr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, persistenceID string, afterSeq int64) ([]journal.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT ordering, persistence_id, entity_type, entity_id, seq_nr, event_type, payload, tag, event_id, written_at
		FROM event_journal
		WHERE persistence_id = $1 AND seq_nr > $2
		ORDER BY seq_nr`), persistenceID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) EventsByTag(ctx context.Context, tag string, afterOffset int64, limit int) ([]journal.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT ordering, persistence_id, entity_type, entity_id, seq_nr, event_type, payload, tag, event_id, written_at
		FROM event_journal
		WHERE tag = $1 AND ordering > $2
		ORDER BY ordering
		LIMIT $3`), tag, afterOffset, limit)
	if err != nil {
		return nil, fmt.Errorf("events by tag: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]journal.Record, error) {
	defer rows.Close()

	var out []journal.Record
	for rows.Next() {
		var (
			r  journal.Record
			at int64
		)
		if err := rows.Scan(&r.Offset, &r.PersistenceID, &r.EntityType, &r.EntityID, &r.SeqNr,
			&r.EventType, &r.Payload, &r.Tag, &r.EventID, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Timestamp = fromMillis(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
