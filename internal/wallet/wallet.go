// Package wallet é a entidade de carteira: um saldo inteiro que nunca fica negativo.
package wallet

import (
	"fmt"

	"github.com/radieske/betting-house/internal/entity"
)

const TypeKey = "wallet"

type State struct {
	Balance int64 `json:"balance"`
}

// Comandos
type (
	ReserveFunds struct{ Amount int64 }
	AddFunds     struct{ Amount int64 }
	CheckFunds   struct{}
)

// CurrentBalance responde CheckFunds
type CurrentBalance struct {
	Amount int64 `json:"amount"`
}

// Eventos
type (
	FundsReserved struct {
		Amount int64 `json:"amount"`
	}
	FundsReservationDenied struct {
		Amount int64 `json:"amount"`
	}
	FundsAdded struct {
		Amount int64 `json:"amount"`
	}
)

func (FundsReserved) EventType() string          { return "FundsReserved" }
func (FundsReservationDenied) EventType() string { return "FundsReservationDenied" }
func (FundsAdded) EventType() string             { return "FundsAdded" }

type Behavior struct{}

func (Behavior) TypeKey() string { return TypeKey }

func (Behavior) EmptyState(string) State { return State{} }

func (Behavior) HandleCommand(_ entity.Context, s State, cmd entity.Command) entity.Effect[State] {
	switch c := cmd.(type) {
	case ReserveFunds:
		if c.Amount <= s.Balance {
			return entity.Persist[State](FundsReserved{Amount: c.Amount}).
				ThenReply(func(State) entity.Reply { return entity.Accepted{} })
		}
		return entity.Persist[State](FundsReservationDenied{Amount: c.Amount}).
			ThenReply(func(State) entity.Reply { return entity.Rejected{} })
	case AddFunds:
		return entity.Persist[State](FundsAdded{Amount: c.Amount}).
			ThenReply(func(State) entity.Reply { return entity.Accepted{} })
	case CheckFunds:
		return entity.ReplyWith[State](CurrentBalance{Amount: s.Balance})
	default:
		return entity.Unaccepted[State](fmt.Sprintf("wallet does not accept %T", cmd))
	}
}

func (Behavior) ApplyEvent(s State, evt entity.Event) State {
	switch e := evt.(type) {
	case FundsReserved:
		s.Balance -= e.Amount
	case FundsAdded:
		s.Balance += e.Amount
	}
	return s
}

func (Behavior) DecodeEvent(eventType string, data []byte) (entity.Event, error) {
	switch eventType {
	case "FundsReserved":
		return entity.Decode[FundsReserved](data)
	case "FundsReservationDenied":
		return entity.Decode[FundsReservationDenied](data)
	case "FundsAdded":
		return entity.Decode[FundsAdded](data)
	}
	return nil, fmt.Errorf("unknown wallet event %q", eventType)
}
