package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/radieske/betting-house/internal/journal"
)

// Save grava o snapshot e apaga os antigos além de keep, na mesma transação
func (s *Store) Save(ctx context.Context, snap journal.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO snapshots (persistence_id, seq_nr, state, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (persistence_id, seq_nr) DO UPDATE SET
		  state      = EXCLUDED.state,
		  created_at = EXCLUDED.created_at`),
		snap.PersistenceID, snap.SeqNr, snap.State, toMillis(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		DELETE FROM snapshots
		WHERE persistence_id = $1 AND seq_nr NOT IN (
		  SELECT seq_nr FROM snapshots WHERE persistence_id = $2 ORDER BY seq_nr DESC LIMIT $3
		)`), snap.PersistenceID, snap.PersistenceID, s.keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, persistenceID string) (journal.Snapshot, error) {
	var (
		snap journal.Snapshot
		at   int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT persistence_id, seq_nr, state, created_at
		FROM snapshots
		WHERE persistence_id = $1
		ORDER BY seq_nr DESC
		LIMIT 1`), persistenceID,
	).Scan(&snap.PersistenceID, &snap.SeqNr, &snap.State, &at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return journal.Snapshot{}, journal.ErrNotFound
		}
		return journal.Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.CreatedAt = fromMillis(at)
	return snap, nil
}

// ListSnapshots devolve os snapshots retidos, do mais novo para o mais antigo
func (s *Store) ListSnapshots(ctx context.Context, persistenceID string) ([]journal.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT persistence_id, seq_nr, state, created_at
		FROM snapshots
		WHERE persistence_id = $1
		ORDER BY seq_nr DESC`), persistenceID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []journal.Snapshot
	for rows.Next() {
		var (
			snap journal.Snapshot
			at   int64
		)
		if err := rows.Scan(&snap.PersistenceID, &snap.SeqNr, &snap.State, &at); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CreatedAt = fromMillis(at)
		out = append(out, snap)
	}
	return out, rows.Err()
}
