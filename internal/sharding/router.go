// Package sharding garante no máximo uma instância viva por (tipo, id) no processo.
// Cada instância é uma goroutine com fila própria; comandos para o mesmo id são
// processados um de cada vez, e instâncias ociosas são passivadas.
package sharding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/entity"
)

var ErrUnknownType = errors.New("unknown entity type")

// Hooks permite plugar métricas sem acoplar o runtime ao Prometheus
type Hooks struct {
	OnCommand   func(entityType, outcome string) // "reply", "no_reply", "error"
	OnPersisted func(entityType string, n int)
	OnRecovery  func(entityType string, err error)
	OnActive    func(entityType string, delta int)
}

// RestartPolicy controla as novas tentativas de recuperação de uma entidade
type RestartPolicy struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Jitter     float64
	MaxTries   uint
}

// Settings de um tipo de entidade
type Settings struct {
	InboxSize int
	// PassivateAfter: tempo ocioso até liberar a instância; 0 desliga
	PassivateAfter time.Duration
	Restart        RestartPolicy
}

type Router struct {
	log   *zap.Logger
	hooks Hooks

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	regions map[string]regionHandle

	// asks em andamento e reentregas agendadas pelos workers
	background sync.WaitGroup
}

type regionHandle interface {
	deliver(ctx context.Context, entityID string, env envelope) error
	active() int
	stop()
}

func NewRouter(log *zap.Logger, hooks Hooks) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		log:     log,
		hooks:   hooks,
		ctx:     ctx,
		cancel:  cancel,
		regions: make(map[string]regionHandle),
	}
}

// Register habilita um tipo de entidade no router
func Register[S any](r *Router, b entity.Behavior[S], opts entity.Options, settings Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := b.TypeKey()
	if _, ok := r.regions[key]; ok {
		return fmt.Errorf("entity type %q already registered", key)
	}
	r.regions[key] = newRegion(r, b, opts, settings)
	return nil
}

func (r *Router) region(typeKey string) (regionHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.regions[typeKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeKey)
	}
	return rg, nil
}

// Ask entrega cmd e espera a resposta até o prazo de ctx.
// Sem prazo em ctx, um comando que não responde bloqueia para sempre.
func (r *Router) Ask(ctx context.Context, typeKey, entityID string, cmd entity.Command) (entity.Reply, error) {
	rg, err := r.region(typeKey)
	if err != nil {
		return nil, err
	}

	env := envelope{cmd: cmd, reply: make(chan result, 1)}
	if err := rg.deliver(ctx, entityID, env); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w from %s %s: %w", entity.ErrNoReply, typeKey, entityID, err)
		}
		return nil, err
	}

	select {
	case res := <-env.reply:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w from %s %s: %w", entity.ErrNoReply, typeKey, entityID, ctx.Err())
	}
}

// Tell entrega cmd sem esperar resposta
func (r *Router) Tell(ctx context.Context, typeKey, entityID string, cmd entity.Command) error {
	rg, err := r.region(typeKey)
	if err != nil {
		return err
	}
	return rg.deliver(ctx, entityID, envelope{cmd: cmd})
}

// Active devolve quantas instâncias do tipo estão vivas
func (r *Router) Active(typeKey string) int {
	rg, err := r.region(typeKey)
	if err != nil {
		return 0
	}
	return rg.active()
}

// Stop encerra todas as instâncias; comandos enfileirados recebem entity.ErrStopped
func (r *Router) Stop() {
	r.cancel()

	r.mu.RLock()
	regions := make([]regionHandle, 0, len(r.regions))
	for _, rg := range r.regions {
		regions = append(regions, rg)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rg := range regions {
		wg.Add(1)
		go func(rg regionHandle) {
			defer wg.Done()
			rg.stop()
		}(rg)
	}
	wg.Wait()
	r.background.Wait()
}
