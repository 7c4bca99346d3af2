// Package projection consome o journal por tag e alimenta os modelos de leitura.
// Cada projeção roda um worker por tag; os eventos de uma entidade caem sempre na
// mesma tag e chegam na ordem em que foram gravados.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/shared/logger"
)

type Projection interface {
	Name() string
}

// ExactlyOnce aplica cada registro na transação que também avança o offset.
// Um lote com erro é refeito inteiro; a projeção não anda enquanto ele falhar.
type ExactlyOnce interface {
	Projection
	ApplyTx(ctx context.Context, tx *sql.Tx, r journal.Record) error
}

// AtLeastOnce aplica fora de transação; erro é logado e o registro é pulado
type AtLeastOnce interface {
	Projection
	Apply(ctx context.Context, r journal.Record) error
}

type Daemon struct {
	Log     *zap.Logger
	Journal journal.Journal
	Offsets *Offsets

	BatchSize int           // 100
	Interval  time.Duration // espera quando a tag está em dia; 500ms

	OnProcessed func(projection string, n int) // métricas
	OnError     func(projection, stage string) // métricas por estágio
}

// Run bloqueia até ctx ser cancelado, com um worker por tag
func (d *Daemon) Run(ctx context.Context, p Projection, tags []string) error {
	switch p.(type) {
	case ExactlyOnce, AtLeastOnce:
	default:
		return fmt.Errorf("projection %s implements neither ApplyTx nor Apply", p.Name())
	}

	var wg conc.WaitGroup
	for _, tag := range tags {
		wg.Go(func() { d.runTag(ctx, p, tag) })
	}
	wg.Wait()
	return ctx.Err()
}

func (d *Daemon) runTag(ctx context.Context, p Projection, tag string) {
	log := logger.ForProjection(d.Log, p.Name(), tag)
	batch := d.BatchSize
	if batch <= 0 {
		batch = 100
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	offset, err := d.loadOffset(ctx, log, p, tag)
	if err != nil {
		return
	}
	log.Info("projection started", zap.Int64("offset", offset))

	for {
		records, err := d.Journal.EventsByTag(ctx, tag, offset, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("read events failed", zap.Error(err))
			d.onError(p, "read")
		} else if len(records) > 0 {
			switch h := p.(type) {
			case ExactlyOnce:
				if err := d.commitBatch(ctx, log, h, tag, records); err != nil {
					return
				}
			case AtLeastOnce:
				d.deliverBatch(ctx, log, h, tag, records)
			}
			offset = records[len(records)-1].Offset
			if d.OnProcessed != nil {
				d.OnProcessed(p.Name(), len(records))
			}
			if len(records) == batch {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (d *Daemon) loadOffset(ctx context.Context, log *zap.Logger, p Projection, tag string) (int64, error) {
	for {
		off, err := backoff.Retry(ctx, func() (int64, error) {
			return d.Offsets.Load(ctx, p.Name(), tag)
		}, backoff.WithBackOff(retryBackOff()), backoff.WithMaxTries(5))
		if err == nil {
			return off, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Error("load offset failed", zap.Error(err))
		d.onError(p, "offset")
	}
}

// commitBatch só retorna erro quando ctx foi cancelado
func (d *Daemon) commitBatch(ctx context.Context, log *zap.Logger, p ExactlyOnce, tag string, records []journal.Record) error {
	op := func() (struct{}, error) {
		err := d.applyTx(ctx, p, tag, records)
		return struct{}{}, err
	}
	for {
		_, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(retryBackOff()),
			backoff.WithMaxTries(5),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Warn("projection batch failed, retrying", zap.Error(err), zap.Duration("next", next))
				d.onError(p, "apply")
			}),
		)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("projection blocked on batch", zap.Int64("from_offset", records[0].Offset), zap.Error(err))
	}
}

func (d *Daemon) applyTx(ctx context.Context, p ExactlyOnce, tag string, records []journal.Record) error {
	tx, err := d.Offsets.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		if err := p.ApplyTx(ctx, tx, r); err != nil {
			return fmt.Errorf("apply %s@%d: %w", r.PersistenceID, r.SeqNr, err)
		}
	}
	if err := d.Offsets.SaveTx(ctx, tx, p.Name(), tag, records[len(records)-1].Offset); err != nil {
		return fmt.Errorf("save offset: %w", err)
	}
	return tx.Commit()
}

func (d *Daemon) deliverBatch(ctx context.Context, log *zap.Logger, p AtLeastOnce, tag string, records []journal.Record) {
	for _, r := range records {
		if err := p.Apply(ctx, r); err != nil {
			log.Warn("projection delivery failed, skipping",
				zap.String("persistence_id", r.PersistenceID), zap.Int64("offset", r.Offset), zap.Error(err))
			d.onError(p, "deliver")
		}
	}
	if err := d.Offsets.Save(ctx, p.Name(), tag, records[len(records)-1].Offset); err != nil {
		log.Warn("save offset failed", zap.Error(err))
		d.onError(p, "offset")
	}
}

func (d *Daemon) onError(p Projection, stage string) {
	if d.OnError != nil {
		d.OnError(p.Name(), stage)
	}
}

func retryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}
