// Package entitytest executa command handlers fora do runtime, registrando
// timers e asks para inspeção nos testes das entidades.
package entitytest

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/betting-house/internal/entity"
)

type Timer struct {
	Cmd   entity.Command
	After time.Duration
}

type Ask struct {
	TypeKey string
	ID      string
	Cmd     entity.Command
	Timeout time.Duration
	Adapt   func(entity.Reply, error) entity.Command
}

// Context implementa entity.Context gravando tudo que o handler pede
type Context struct {
	ID     string
	Log    *zap.Logger
	Timers map[string]Timer
	Asks   []Ask
}

func NewContext(t testing.TB, id string) *Context {
	return &Context{ID: id, Log: zaptest.NewLogger(t), Timers: make(map[string]Timer)}
}

func (c *Context) EntityID() string    { return c.ID }
func (c *Context) Logger() *zap.Logger { return c.Log }

func (c *Context) StartSingleTimer(key string, cmd entity.Command, d time.Duration) {
	c.Timers[key] = Timer{Cmd: cmd, After: d}
}

func (c *Context) CancelTimer(key string) { delete(c.Timers, key) }

func (c *Context) Ask(typeKey, id string, cmd entity.Command, timeout time.Duration, adapt func(entity.Reply, error) entity.Command) {
	c.Asks = append(c.Asks, Ask{TypeKey: typeKey, ID: id, Cmd: cmd, Timeout: timeout, Adapt: adapt})
}

// TakeAsks devolve e limpa os asks registrados
func (c *Context) TakeAsks() []Ask {
	out := c.Asks
	c.Asks = nil
	return out
}

type Result struct {
	Events  []entity.Event
	Reply   entity.Reply
	Replied bool
}

// Run executa cmd como o runtime faria com um journal que nunca falha
func Run[S any](ctx *Context, b entity.Behavior[S], state S, cmd entity.Command) (S, Result) {
	eff := b.HandleCommand(ctx, state, cmd)
	for _, evt := range eff.Events() {
		state = b.ApplyEvent(state, evt)
	}
	eff.Run(state)
	reply, ok := eff.Reply(state)
	return state, Result{Events: eff.Events(), Reply: reply, Replied: ok}
}

// Replay aplica eventos a partir do estado vazio
func Replay[S any](b entity.Behavior[S], id string, events []entity.Event) S {
	state := b.EmptyState(id)
	for _, evt := range events {
		state = b.ApplyEvent(state, evt)
	}
	return state
}
