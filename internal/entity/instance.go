package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/journal"
)

// Options configura a persistência de um tipo de entidade
type Options struct {
	Journal   journal.Journal
	Snapshots journal.SnapshotStore // nil desliga snapshots
	// SnapshotEvery: snapshot a cada N eventos; 0 desliga
	SnapshotEvery int
	Tagger        func(entityID string) string
	Now           func() time.Time
}

// Outcome resume o processamento de um comando
type Outcome struct {
	Reply     Reply
	Replied   bool
	Persisted int
}

// Instance mantém em memória o estado de uma entidade ativa.
// Não é thread-safe: quem chama garante um comando por vez.
type Instance[S any] struct {
	behavior Behavior[S]
	opts     Options
	log      *zap.Logger

	id    string
	pid   string
	state S
	seqNr int64
	// stale força um reload do journal antes do próximo comando
	stale bool
}

func NewInstance[S any](b Behavior[S], entityID string, opts Options, log *zap.Logger) *Instance[S] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tagger == nil {
		opts.Tagger = func(string) string { return b.TypeKey() }
	}
	return &Instance[S]{
		behavior: b,
		opts:     opts,
		log:      log,
		id:       entityID,
		pid:      journal.PersistenceID(b.TypeKey(), entityID),
		state:    b.EmptyState(entityID),
		stale:    true,
	}
}

func (i *Instance[S]) ID() string { return i.id }

func (i *Instance[S]) State() S { return i.state }

func (i *Instance[S]) SeqNr() int64 { return i.seqNr }

// Recover carrega o snapshot mais recente e aplica os eventos posteriores
func (i *Instance[S]) Recover(ctx context.Context) error {
	state := i.behavior.EmptyState(i.id)
	var seq int64

	if i.opts.Snapshots != nil {
		snap, err := i.opts.Snapshots.Latest(ctx, i.pid)
		switch {
		case err == nil:
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return fmt.Errorf("decode snapshot %s@%d: %w", i.pid, snap.SeqNr, err)
			}
			seq = snap.SeqNr
		case errors.Is(err, journal.ErrNotFound):
		default:
			return fmt.Errorf("load snapshot %s: %w", i.pid, err)
		}
	}

	records, err := i.opts.Journal.Load(ctx, i.pid, seq)
	if err != nil {
		return fmt.Errorf("load events %s: %w", i.pid, err)
	}
	for _, r := range records {
		evt, err := i.behavior.DecodeEvent(r.EventType, r.Payload)
		if err != nil {
			return fmt.Errorf("decode %s %s@%d: %w", r.EventType, i.pid, r.SeqNr, err)
		}
		state = i.behavior.ApplyEvent(state, evt)
		seq = r.SeqNr
	}

	i.state, i.seqNr, i.stale = state, seq, false
	return nil
}

// Recovered chama o RecoveryHook da entidade, se existir
func (i *Instance[S]) Recovered(ctx Context) {
	if h, ok := i.behavior.(RecoveryHook[S]); ok {
		h.OnRecovery(ctx, i.state)
	}
}

// Handle processa um comando: decide, grava, aplica, executa efeitos e responde.
// Se o append falhar nada muda em memória e a instância recarrega antes do próximo comando.
func (i *Instance[S]) Handle(ctx context.Context, ectx Context, cmd Command) (Outcome, error) {
	if i.stale {
		if err := i.Recover(ctx); err != nil {
			return Outcome{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	eff := i.behavior.HandleCommand(ectx, i.state, cmd)
	events := eff.Events()

	if len(events) > 0 {
		records, err := i.records(events)
		if err != nil {
			return Outcome{}, err
		}
		if err := i.opts.Journal.Append(ctx, records); err != nil {
			i.stale = true
			return Outcome{}, fmt.Errorf("%w: %w", ErrPersist, err)
		}

		prev := i.seqNr
		state := i.state
		for _, evt := range events {
			state = i.behavior.ApplyEvent(state, evt)
		}
		i.state = state
		i.seqNr = records[len(records)-1].SeqNr
		i.maybeSnapshot(ctx, prev)
	}

	eff.Run(i.state)

	out := Outcome{Persisted: len(events)}
	out.Reply, out.Replied = eff.Reply(i.state)
	return out, nil
}

func (i *Instance[S]) records(events []Event) ([]journal.Record, error) {
	now := i.opts.Now().UTC()
	tag := i.opts.Tagger(i.id)
	out := make([]journal.Record, 0, len(events))
	for n, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
		}
		out = append(out, journal.Record{
			PersistenceID: i.pid,
			EntityType:    i.behavior.TypeKey(),
			EntityID:      i.id,
			SeqNr:         i.seqNr + int64(n) + 1,
			EventType:     evt.EventType(),
			Payload:       payload,
			Tag:           tag,
			EventID:       uuid.NewString(),
			Timestamp:     now,
		})
	}
	return out, nil
}

// maybeSnapshot grava um snapshot quando o seq_nr cruza um múltiplo de SnapshotEvery.
// Falha aqui só é logada: o journal continua sendo a fonte da verdade.
func (i *Instance[S]) maybeSnapshot(ctx context.Context, prevSeq int64) {
	every := int64(i.opts.SnapshotEvery)
	if i.opts.Snapshots == nil || every <= 0 || prevSeq/every == i.seqNr/every {
		return
	}
	b, err := json.Marshal(i.state)
	if err == nil {
		err = i.opts.Snapshots.Save(ctx, journal.Snapshot{
			PersistenceID: i.pid,
			SeqNr:         i.seqNr,
			State:         b,
			CreatedAt:     i.opts.Now().UTC(),
		})
	}
	if err != nil {
		i.log.Warn("snapshot failed", zap.Int64("seq_nr", i.seqNr), zap.Error(err))
	}
}
