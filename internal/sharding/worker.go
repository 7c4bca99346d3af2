package sharding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/shared/logger"
)

type envelopeKind int

const (
	kindCommand envelopeKind = iota
	kindTimer
	kindAskResult
)

type result struct {
	reply entity.Reply
	err   error
}

type envelope struct {
	kind  envelopeKind
	cmd   entity.Command
	reply chan result // nil quando ninguém espera resposta

	timerKey string
	timerGen uint64
}

type pendingTimer struct {
	gen   uint64
	timer *time.Timer
}

// worker é a goroutine dona de uma instância; também implementa entity.Context
type worker[S any] struct {
	region *region[S]
	id     string
	log    *zap.Logger
	inst   *entity.Instance[S]

	inbox chan envelope
	quit  chan struct{}

	// enqueue segura RLock; passivação e shutdown marcam stopped com Lock
	mu      sync.RWMutex
	stopped bool

	// acessados só pela goroutine do worker
	timers      map[string]*pendingTimer
	timerGen    uint64
	pendingAsks int
}

func newWorker[S any](rg *region[S], entityID string) *worker[S] {
	log := logger.ForEntity(rg.router.log, rg.typeKey(), entityID)
	return &worker[S]{
		region: rg,
		id:     entityID,
		log:    log,
		inst:   entity.NewInstance(rg.behavior, entityID, rg.opts, log),
		inbox:  make(chan envelope, rg.settings.InboxSize),
		quit:   make(chan struct{}),
		timers: make(map[string]*pendingTimer),
	}
}

// enqueue devolve false quando a instância já foi passivada
func (w *worker[S]) enqueue(ctx context.Context, env envelope) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return false, nil
	}
	select {
	case w.inbox <- env:
		return true, nil
	case <-w.quit:
		return false, entity.ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (w *worker[S]) enqueueInternal(env envelope) {
	ok, err := w.enqueue(w.region.router.ctx, env)
	if ok || w.region.router.ctx.Err() != nil {
		return
	}
	w.log.Warn("internal message dropped", zap.String("command", fmt.Sprintf("%T", env.cmd)), zap.Error(err))
}

func (w *worker[S]) run() {
	if err := w.recover(); err != nil {
		w.log.Error("entity recovery failed, giving up", zap.Error(err))
		w.shutdown(fmt.Errorf("%w: %w", entity.ErrUnavailable, err))
		return
	}

	idleAfter := w.region.settings.PassivateAfter
	var idle <-chan time.Time
	var idleTimer *time.Timer
	if idleAfter > 0 {
		idleTimer = time.NewTimer(idleAfter)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case env := <-w.inbox:
			w.process(env)
			if idleTimer != nil {
				idleTimer.Reset(idleAfter)
			}
		case <-idle:
			if w.passivate() {
				return
			}
			idleTimer.Reset(idleAfter)
		case <-w.quit:
			w.shutdown(entity.ErrStopped)
			return
		}
	}
}

// recover faz snapshot + replay com backoff exponencial entre as tentativas
func (w *worker[S]) recover() error {
	ctx := w.region.router.ctx
	p := w.region.settings.Restart

	b := backoff.NewExponentialBackOff()
	if p.MinBackoff > 0 {
		b.InitialInterval = p.MinBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.RandomizationFactor = p.Jitter

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.inst.Recover(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.log.Warn("entity recovery failed, retrying", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	if h := w.region.router.hooks.OnRecovery; h != nil {
		h(w.region.typeKey(), err)
	}
	if err != nil {
		return err
	}

	w.inst.Recovered(w)
	return nil
}

func (w *worker[S]) process(env envelope) {
	switch env.kind {
	case kindTimer:
		t, ok := w.timers[env.timerKey]
		if !ok || t.gen != env.timerGen {
			return // cancelado ou substituído
		}
		delete(w.timers, env.timerKey)
	case kindAskResult:
		w.pendingAsks--
		if env.cmd == nil {
			return
		}
	}

	out, err := w.inst.Handle(w.region.router.ctx, w, env.cmd)
	w.report(out, err, env.reply != nil)

	if env.reply == nil {
		if err != nil {
			w.log.Error("internal command failed", zap.String("command", fmt.Sprintf("%T", env.cmd)), zap.Error(err))
			if errors.Is(err, entity.ErrPersist) || errors.Is(err, entity.ErrUnavailable) {
				w.redeliver(env.cmd)
			}
		}
		return
	}
	if err != nil {
		env.reply <- result{err: err}
		return
	}
	if out.Replied {
		env.reply <- result{reply: out.Reply}
	}
}

// redeliver reenvia um comando interno cuja gravação falhou; continuações de
// timers e asks não têm quem as repita
func (w *worker[S]) redeliver(cmd entity.Command) {
	delay := w.region.settings.Restart.MinBackoff
	if delay <= 0 {
		delay = time.Second
	}
	w.pendingAsks++
	router := w.region.router
	router.background.Add(1)
	go func() {
		defer router.background.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			w.enqueueInternal(envelope{kind: kindAskResult, cmd: cmd})
		case <-router.ctx.Done():
		}
	}()
}

func (w *worker[S]) report(out entity.Outcome, err error, expectsReply bool) {
	hooks := w.region.router.hooks
	typeKey := w.region.typeKey()
	if hooks.OnPersisted != nil && out.Persisted > 0 {
		hooks.OnPersisted(typeKey, out.Persisted)
	}
	if hooks.OnCommand == nil {
		return
	}
	switch {
	case err != nil:
		hooks.OnCommand(typeKey, "error")
	case out.Replied:
		hooks.OnCommand(typeKey, "reply")
	case expectsReply:
		hooks.OnCommand(typeKey, "no_reply")
	}
}

// passivate libera a instância se não há nada pendente
func (w *worker[S]) passivate() bool {
	if w.pendingAsks > 0 || len(w.timers) > 0 || len(w.inbox) > 0 {
		return false
	}
	if !w.mu.TryLock() {
		return false
	}
	if len(w.inbox) > 0 {
		w.mu.Unlock()
		return false
	}
	w.stopped = true
	w.mu.Unlock()

	w.region.remove(w)
	w.log.Debug("entity passivated")
	return true
}

// shutdown para a instância e responde err para tudo que estiver na fila
func (w *worker[S]) shutdown(err error) {
	for !w.mu.TryLock() {
		// há quem esteja bloqueado esperando espaço na fila
		select {
		case env := <-w.inbox:
			w.reject(env, err)
		case <-time.After(time.Millisecond):
		}
	}
	w.stopped = true
	w.mu.Unlock()

	w.region.remove(w)
	for key := range w.timers {
		w.CancelTimer(key)
	}
	for {
		select {
		case env := <-w.inbox:
			w.reject(env, err)
		default:
			return
		}
	}
}

func (w *worker[S]) reject(env envelope, err error) {
	if env.reply != nil {
		env.reply <- result{err: err}
		return
	}
	w.log.Debug("internal message dropped", zap.String("command", fmt.Sprintf("%T", env.cmd)), zap.Error(err))
}

// entity.Context

func (w *worker[S]) EntityID() string { return w.id }

func (w *worker[S]) Logger() *zap.Logger { return w.log }

func (w *worker[S]) StartSingleTimer(key string, cmd entity.Command, d time.Duration) {
	w.CancelTimer(key)
	w.timerGen++
	gen := w.timerGen
	t := time.AfterFunc(d, func() {
		w.enqueueInternal(envelope{kind: kindTimer, cmd: cmd, timerKey: key, timerGen: gen})
	})
	w.timers[key] = &pendingTimer{gen: gen, timer: t}
}

func (w *worker[S]) CancelTimer(key string) {
	if t, ok := w.timers[key]; ok {
		t.timer.Stop()
		delete(w.timers, key)
	}
}

func (w *worker[S]) Ask(typeKey, entityID string, cmd entity.Command, timeout time.Duration, adapt func(entity.Reply, error) entity.Command) {
	w.pendingAsks++
	router := w.region.router
	router.background.Add(1)
	go func() {
		defer router.background.Done()
		ctx, cancel := context.WithTimeout(router.ctx, timeout)
		defer cancel()
		reply, err := router.Ask(ctx, typeKey, entityID, cmd)
		w.enqueueInternal(envelope{kind: kindAskResult, cmd: adapt(reply, err)})
	}()
}
