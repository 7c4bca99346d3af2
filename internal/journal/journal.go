// Package journal define o log de eventos append-only e o armazenamento de snapshots
// das entidades. As implementações ficam em memory.go (testes), sqlstore (Postgres/SQLite)
// e redisnap (snapshots no Redis).
package journal

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSeqConflict indica que outro escritor já gravou o mesmo (persistence_id, seq_nr)
	ErrSeqConflict = errors.New("sequence number conflict")
)

// Record é um evento persistido
type Record struct {
	Offset        int64 // ordenação global atribuída pelo store
	PersistenceID string
	EntityType    string
	EntityID      string
	SeqNr         int64
	EventType     string
	Payload       []byte
	Tag           string
	EventID       string
	Timestamp     time.Time
}

// Snapshot guarda o estado serializado de uma entidade em SeqNr
type Snapshot struct {
	PersistenceID string
	SeqNr         int64
	State         []byte
	CreatedAt     time.Time
}

// Journal é o log de eventos durável
type Journal interface {
	// Append grava atomicamente registros de um único persistence id
	Append(ctx context.Context, records []Record) error
	// Load devolve os eventos com seq_nr > afterSeq em ordem
	Load(ctx context.Context, persistenceID string, afterSeq int64) ([]Record, error)
	// EventsByTag devolve até limit eventos da tag com offset > afterOffset, em ordem de offset
	EventsByTag(ctx context.Context, tag string, afterOffset int64, limit int) ([]Record, error)
}

// SnapshotStore mantém apenas os snapshots mais recentes de cada entidade
type SnapshotStore interface {
	Save(ctx context.Context, s Snapshot) error
	// Latest devolve ErrNotFound quando a entidade nunca teve snapshot
	Latest(ctx context.Context, persistenceID string) (Snapshot, error)
}

// PersistenceID identifica o stream de uma entidade: "<tipo>|<id>"
func PersistenceID(entityType, entityID string) string {
	return entityType + "|" + entityID
}
