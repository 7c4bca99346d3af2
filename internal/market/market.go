// Package market é a entidade de mercado: fixture, odds e resultado de um evento esportivo.
package market

import (
	"fmt"
	"time"

	"github.com/radieske/betting-house/internal/entity"
)

const TypeKey = "market"

// Códigos de resultado
const (
	ResultDraw = 0
	ResultHome = 1
	ResultAway = 2
)

type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseOpen          Phase = "open"
	PhaseClosed        Phase = "closed"
	PhaseCancelled     Phase = "cancelled"
)

type Fixture struct {
	ID       string `json:"id"`
	HomeTeam string `json:"homeTeam"`
	AwayTeam string `json:"awayTeam"`
}

type Odds struct {
	WinHome float64 `json:"winHome"`
	WinAway float64 `json:"winAway"`
	Draw    float64 `json:"draw"`
}

// For devolve a odd do resultado pedido (0 empate, 1 mandante, 2 visitante)
func (o Odds) For(result int) (float64, bool) {
	switch result {
	case ResultDraw:
		return o.Draw, true
	case ResultHome:
		return o.WinHome, true
	case ResultAway:
		return o.WinAway, true
	}
	return 0, false
}

type Status struct {
	MarketID string    `json:"marketId"`
	Fixture  Fixture   `json:"fixture"`
	Odds     Odds      `json:"odds"`
	Result   int       `json:"result"`
	OpensAt  time.Time `json:"opensAt"`
}

type State struct {
	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`
}

// Comandos
type (
	Open struct {
		Fixture Fixture
		Odds    Odds
		OpensAt time.Time
	}
	// Update só altera os campos presentes
	Update struct {
		Odds    *Odds
		OpensAt *time.Time
		Result  *int
	}
	Close    struct{}
	Cancel   struct{ Reason string }
	GetState struct{}
)

// CurrentState responde GetState
type CurrentState struct {
	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`
}

// Eventos
type (
	Opened struct {
		MarketID string    `json:"marketId"`
		Fixture  Fixture   `json:"fixture"`
		Odds     Odds      `json:"odds"`
		OpensAt  time.Time `json:"opensAt"`
	}
	Updated struct {
		MarketID string     `json:"marketId"`
		Odds     *Odds      `json:"odds,omitempty"`
		OpensAt  *time.Time `json:"opensAt,omitempty"`
		Result   *int       `json:"result,omitempty"`
	}
	Closed struct {
		MarketID string    `json:"marketId"`
		Result   int       `json:"result"`
		At       time.Time `json:"at"`
	}
	Cancelled struct {
		MarketID string `json:"marketId"`
		Reason   string `json:"reason"`
	}
)

func (Opened) EventType() string    { return "Opened" }
func (Updated) EventType() string   { return "Updated" }
func (Closed) EventType() string    { return "Closed" }
func (Cancelled) EventType() string { return "Cancelled" }

// Behavior da entidade de mercado; Now carimba o horário do fechamento
type Behavior struct {
	Now func() time.Time
}

func (Behavior) TypeKey() string { return TypeKey }

func (Behavior) EmptyState(id string) State {
	return State{Phase: PhaseUninitialized, Status: Status{MarketID: id}}
}

func accepted(State) entity.Reply { return entity.Accepted{} }

func (b Behavior) HandleCommand(ctx entity.Context, s State, cmd entity.Command) entity.Effect[State] {
	id := ctx.EntityID()

	switch c := cmd.(type) {
	case GetState:
		return entity.ReplyWith[State](CurrentState{Phase: s.Phase, Status: s.Status})
	case Cancel:
		return entity.Persist[State](Cancelled{MarketID: id, Reason: c.Reason}).ThenReply(accepted)
	}

	switch s.Phase {
	case PhaseUninitialized:
		if c, ok := cmd.(Open); ok {
			return entity.Persist[State](Opened{MarketID: id, Fixture: c.Fixture, Odds: c.Odds, OpensAt: c.OpensAt.UTC()}).
				ThenReply(accepted)
		}
	case PhaseOpen:
		switch c := cmd.(type) {
		case Update:
			if c.Result != nil {
				if _, ok := s.Status.Odds.For(*c.Result); !ok {
					return entity.Unaccepted[State](fmt.Sprintf("result %d is not one of 0, 1, 2", *c.Result))
				}
			}
			return entity.Persist[State](Updated{MarketID: id, Odds: c.Odds, OpensAt: c.OpensAt, Result: c.Result}).
				ThenReply(accepted)
		case Close:
			return entity.Persist[State](Closed{MarketID: id, Result: s.Status.Result, At: b.now()}).
				ThenReply(accepted)
		}
	}
	return entity.Unaccepted[State](fmt.Sprintf("market %s does not accept %T while %s", id, cmd, s.Phase))
}

func (b Behavior) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func (Behavior) ApplyEvent(s State, evt entity.Event) State {
	switch e := evt.(type) {
	case Opened:
		s.Phase = PhaseOpen
		s.Status = Status{MarketID: e.MarketID, Fixture: e.Fixture, Odds: e.Odds, Result: ResultDraw, OpensAt: e.OpensAt}
	case Updated:
		if e.Odds != nil {
			s.Status.Odds = *e.Odds
		}
		if e.OpensAt != nil {
			s.Status.OpensAt = e.OpensAt.UTC()
		}
		if e.Result != nil {
			s.Status.Result = *e.Result
		}
	case Closed:
		s.Phase = PhaseClosed
		s.Status.Result = e.Result
	case Cancelled:
		s.Phase = PhaseCancelled
	}
	return s
}

func (Behavior) DecodeEvent(eventType string, data []byte) (entity.Event, error) {
	switch eventType {
	case "Opened":
		return entity.Decode[Opened](data)
	case "Updated":
		return entity.Decode[Updated](data)
	case "Closed":
		return entity.Decode[Closed](data)
	case "Cancelled":
		return entity.Decode[Cancelled](data)
	}
	return nil, fmt.Errorf("unknown market event %q", eventType)
}
