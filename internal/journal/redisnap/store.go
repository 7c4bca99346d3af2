// Package redisnap guarda snapshots de entidades no Redis.
// Cada entidade tem uma lista "snapshot:<persistence id>" com o mais novo na cabeça.
package redisnap

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/radieske/betting-house/internal/journal"
)

// Store implementa journal.SnapshotStore
// Client: cliente Redis
// Keep: quantos snapshots manter por entidade
type Store struct {
	Client *redis.Client
	Keep   int
}

func New(c *redis.Client, keep int) *Store {
	if keep <= 0 {
		keep = 2
	}
	return &Store{Client: c, Keep: keep}
}

func key(persistenceID string) string { return "snapshot:" + persistenceID }

// Save faz LPUSH + LTRIM numa transação, descartando snapshots além de Keep
func (s *Store) Save(ctx context.Context, snap journal.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	k := key(snap.PersistenceID)
	_, err = s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, k, b)
		p.LTrim(ctx, k, 0, int64(s.Keep-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, persistenceID string) (journal.Snapshot, error) {
	b, err := s.Client.LIndex(ctx, key(persistenceID), 0).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return journal.Snapshot{}, journal.ErrNotFound
		}
		return journal.Snapshot{}, fmt.Errorf("redis latest snapshot: %w", err)
	}
	var snap journal.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return journal.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Count devolve quantos snapshots estão retidos para a entidade
func (s *Store) Count(ctx context.Context, persistenceID string) (int64, error) {
	return s.Client.LLen(ctx, key(persistenceID)).Result()
}
