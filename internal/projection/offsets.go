package projection

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/radieske/betting-house/internal/shared/db"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Offsets guarda até onde cada projeção leu cada tag (tabela projection_offsets)
type Offsets struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func NewOffsets(sqlDB *sql.DB, dialect db.Dialect) *Offsets {
	return &Offsets{DB: sqlDB, Dialect: dialect}
}

// Load devolve 0 quando a projeção ainda não leu a tag
func (o *Offsets) Load(ctx context.Context, projection, tag string) (int64, error) {
	var offset int64
	err := o.DB.QueryRowContext(ctx, o.Dialect.Rebind(
		`SELECT "offset" FROM projection_offsets WHERE projection = $1 AND tag = $2`),
		projection, tag).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return offset, err
}

func (o *Offsets) Save(ctx context.Context, projection, tag string, offset int64) error {
	return o.save(ctx, o.DB, projection, tag, offset)
}

// SaveTx grava o offset na mesma transação das escritas da projeção
func (o *Offsets) SaveTx(ctx context.Context, tx *sql.Tx, projection, tag string, offset int64) error {
	return o.save(ctx, tx, projection, tag, offset)
}

func (o *Offsets) save(ctx context.Context, ex execer, projection, tag string, offset int64) error {
	const q = `
		INSERT INTO projection_offsets (projection, tag, "offset", updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (projection, tag) DO UPDATE SET
		  "offset"   = EXCLUDED."offset",
		  updated_at = EXCLUDED.updated_at
	`
	_, err := ex.ExecContext(ctx, o.Dialect.Rebind(q), projection, tag, offset, time.Now().UnixMilli())
	return err
}
