package sharding

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/entity"
)

// region mantém as instâncias vivas de um tipo de entidade
type region[S any] struct {
	router   *Router
	behavior entity.Behavior[S]
	opts     entity.Options
	settings Settings
	log      *zap.Logger

	mu      sync.Mutex
	workers map[string]*worker[S]
	closed  bool
	wg      sync.WaitGroup
}

func newRegion[S any](r *Router, b entity.Behavior[S], opts entity.Options, settings Settings) *region[S] {
	if settings.InboxSize <= 0 {
		settings.InboxSize = 64
	}
	return &region[S]{
		router:   r,
		behavior: b,
		opts:     opts,
		settings: settings,
		log:      r.log.With(zap.String("entity_type", b.TypeKey())),
		workers:  make(map[string]*worker[S]),
	}
}

func (rg *region[S]) typeKey() string { return rg.behavior.TypeKey() }

func (rg *region[S]) deliver(ctx context.Context, entityID string, env envelope) error {
	for {
		w, err := rg.workerFor(entityID)
		if err != nil {
			return err
		}
		ok, err := w.enqueue(ctx, env)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// a instância acabou de ser passivada; a próxima volta cria outra
	}
}

func (rg *region[S]) workerFor(entityID string) (*worker[S], error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	if rg.closed {
		return nil, entity.ErrStopped
	}
	if w, ok := rg.workers[entityID]; ok {
		return w, nil
	}

	w := newWorker(rg, entityID)
	rg.workers[entityID] = w
	rg.wg.Add(1)
	go func() {
		defer rg.wg.Done()
		w.run()
	}()
	if h := rg.router.hooks.OnActive; h != nil {
		h(rg.typeKey(), 1)
	}
	return w, nil
}

func (rg *region[S]) remove(w *worker[S]) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	if cur, ok := rg.workers[w.id]; ok && cur == w {
		delete(rg.workers, w.id)
		if h := rg.router.hooks.OnActive; h != nil {
			h(rg.typeKey(), -1)
		}
	}
}

func (rg *region[S]) active() int {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return len(rg.workers)
}

func (rg *region[S]) stop() {
	rg.mu.Lock()
	rg.closed = true
	for _, w := range rg.workers {
		close(w.quit)
	}
	rg.mu.Unlock()

	rg.wg.Wait()
}
