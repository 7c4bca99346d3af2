// Package bet é a entidade de aposta e o saga que a valida e liquida.
//
// Fluxo: Open grava Opened e, depois da gravação, arma a janela de validação e pergunta
// em paralelo ao mercado (odds) e à carteira (reserva do stake). As respostas voltam
// como comandos internos na fila da própria aposta. Quando a janela fecha, a aposta
// passa na validação se as duas confirmações chegaram; senão falha.
package bet

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/market"
	"github.com/radieske/betting-house/internal/wallet"
)

const (
	TypeKey         = "bet"
	validationTimer = "validation"
)

type Phase string

// Settled e Cancelled completam o ciclo de vida exposto, mas nenhum evento leva a eles:
// a vencedora termina em Closed e Cancel é sempre recusado
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseOpen          Phase = "open"
	PhaseSettled       Phase = "settled"
	PhaseCancelled     Phase = "cancelled"
	PhaseFailed        Phase = "failed"
	PhaseClosed        Phase = "closed"
)

type Status struct {
	BetID    string  `json:"betId"`
	WalletID string  `json:"walletId"`
	MarketID string  `json:"marketId"`
	Odds     float64 `json:"odds"`
	Stake    int64   `json:"stake"`
	Result   int     `json:"result"`
}

type State struct {
	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`

	MarketConfirmed bool `json:"marketConfirmed"`
	FundsConfirmed  bool `json:"fundsConfirmed"`
	Validated       bool `json:"validated"`
	// Settling: o pagamento do vencedor já foi pedido à carteira
	Settling bool   `json:"settling"`
	Reason   string `json:"reason,omitempty"`
}

func (s State) Terminal() bool {
	switch s.Phase {
	case PhaseSettled, PhaseCancelled, PhaseFailed, PhaseClosed:
		return true
	}
	return false
}

// Comandos públicos
type (
	Open struct {
		WalletID string
		MarketID string
		Odds     float64
		Stake    int64
		Result   int
	}
	Settle   struct{ Result int }
	Cancel   struct{ Reason string }
	GetState struct{}
)

// Comandos internos, entregues pelo runtime quando asks e timers resolvem
type (
	MarketOddsAvailable struct {
		Available  bool
		MarketOdds float64
		Err        error
	}
	RequestWalletFunds struct {
		Response entity.Reply
		Err      error
	}
	ValidationsTimedOut struct{}
	Close               struct{ Reason string }
	Fail                struct{ Reason string }
)

// refundOutcome fecha o ask de devolução do stake; só é logado
type refundOutcome struct {
	Amount int64
	Err    error
}

// CurrentState responde GetState
type CurrentState struct {
	State
}

// Eventos
type (
	Opened struct {
		BetID    string  `json:"betId"`
		WalletID string  `json:"walletId"`
		MarketID string  `json:"marketId"`
		Odds     float64 `json:"odds"`
		Stake    int64   `json:"stake"`
		Result   int     `json:"result"`
	}
	MarketConfirmed struct {
		BetID      string  `json:"betId"`
		MarketOdds float64 `json:"marketOdds"`
	}
	FundsGranted struct {
		BetID string `json:"betId"`
	}
	ValidationsPassed struct {
		BetID string `json:"betId"`
	}
	SettlementStarted struct {
		BetID  string `json:"betId"`
		Result int    `json:"result"`
	}
	Closed struct {
		BetID  string `json:"betId"`
		Reason string `json:"reason"`
	}
	Failed struct {
		BetID  string `json:"betId"`
		Reason string `json:"reason"`
	}
)

func (Opened) EventType() string            { return "Opened" }
func (MarketConfirmed) EventType() string   { return "MarketConfirmed" }
func (FundsGranted) EventType() string      { return "FundsGranted" }
func (ValidationsPassed) EventType() string { return "ValidationsPassed" }
func (SettlementStarted) EventType() string { return "SettlementStarted" }
func (Closed) EventType() string            { return "Closed" }
func (Failed) EventType() string            { return "Failed" }

// Behavior da aposta. Durações zeradas usam os defaults.
type Behavior struct {
	ValidationWindow     time.Duration // 10s
	ValidationAskTimeout time.Duration // 3s
	PayoutAskTimeout     time.Duration // 10s
}

func (b Behavior) validationWindow() time.Duration {
	return orDefault(b.ValidationWindow, 10*time.Second)
}

func (b Behavior) validationAskTimeout() time.Duration {
	return orDefault(b.ValidationAskTimeout, 3*time.Second)
}

func (b Behavior) payoutAskTimeout() time.Duration {
	return orDefault(b.PayoutAskTimeout, 10*time.Second)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (Behavior) TypeKey() string { return TypeKey }

func (Behavior) EmptyState(id string) State {
	return State{Phase: PhaseUninitialized, Status: Status{BetID: id}}
}

func accepted(State) entity.Reply { return entity.Accepted{} }

func unaccepted(s State, cmd entity.Command) entity.Effect[State] {
	return entity.Unaccepted[State](fmt.Sprintf("bet %s does not accept %T while %s", s.Status.BetID, cmd, s.Phase))
}

func (b Behavior) HandleCommand(ctx entity.Context, s State, cmd entity.Command) entity.Effect[State] {
	switch c := cmd.(type) {
	case GetState:
		return entity.ReplyWith[State](CurrentState{State: s})
	case refundOutcome:
		if c.Err != nil {
			ctx.Logger().Error("stake refund failed", zap.Int64("amount", c.Amount), zap.Error(c.Err))
		} else {
			ctx.Logger().Info("stake refunded", zap.Int64("amount", c.Amount))
		}
		return entity.None[State]()
	}

	switch s.Phase {
	case PhaseUninitialized:
		return b.uninitialized(ctx, s, cmd)
	case PhaseOpen:
		return b.open(ctx, s, cmd)
	default:
		return b.terminal(ctx, s, cmd)
	}
}

func (b Behavior) uninitialized(ctx entity.Context, s State, cmd entity.Command) entity.Effect[State] {
	c, ok := cmd.(Open)
	if !ok {
		return unaccepted(s, cmd)
	}
	if c.Stake <= 0 {
		return entity.Unaccepted[State]("stake must be positive")
	}
	if c.Odds <= 0 {
		return entity.Unaccepted[State]("odds must be positive")
	}
	if _, ok := (market.Odds{}).For(c.Result); !ok {
		return entity.Unaccepted[State](fmt.Sprintf("result %d is not one of 0, 1, 2", c.Result))
	}

	return entity.Persist[State](Opened{
		BetID:    ctx.EntityID(),
		WalletID: c.WalletID,
		MarketID: c.MarketID,
		Odds:     c.Odds,
		Stake:    c.Stake,
		Result:   c.Result,
	}).
		ThenRun(func(s State) { b.startValidation(ctx, s) }).
		ThenReply(accepted)
}

// startValidation arma a janela e dispara as duas validações em paralelo
func (b Behavior) startValidation(ctx entity.Context, s State) {
	ctx.StartSingleTimer(validationTimer, ValidationsTimedOut{}, b.validationWindow())

	requested, result := s.Status.Odds, s.Status.Result
	ctx.Ask(market.TypeKey, s.Status.MarketID, market.GetState{}, b.validationAskTimeout(),
		func(reply entity.Reply, err error) entity.Command {
			if err != nil {
				return MarketOddsAvailable{Err: err}
			}
			cs, ok := reply.(market.CurrentState)
			if !ok {
				return MarketOddsAvailable{Err: fmt.Errorf("unexpected market reply %T", reply)}
			}
			// compara com a odd do resultado pedido na aposta
			marketOdds, _ := cs.Status.Odds.For(result)
			available := cs.Phase == market.PhaseOpen && marketOdds >= requested
			return MarketOddsAvailable{Available: available, MarketOdds: marketOdds}
		})

	ctx.Ask(wallet.TypeKey, s.Status.WalletID, wallet.ReserveFunds{Amount: s.Status.Stake}, b.validationAskTimeout(),
		func(reply entity.Reply, err error) entity.Command {
			return RequestWalletFunds{Response: reply, Err: err}
		})
}

func (b Behavior) open(ctx entity.Context, s State, cmd entity.Command) entity.Effect[State] {
	id := s.Status.BetID

	switch c := cmd.(type) {
	case MarketOddsAvailable:
		if c.Err != nil {
			return b.fail(ctx, s, fmt.Sprintf("market odds not available: %v", c.Err))
		}
		if !c.Available {
			return b.fail(ctx, s, fmt.Sprintf("market odds [%v] not available", c.MarketOdds))
		}
		return entity.Persist[State](MarketConfirmed{BetID: id, MarketOdds: c.MarketOdds})

	case RequestWalletFunds:
		if _, ok := c.Response.(entity.Accepted); ok && c.Err == nil {
			return entity.Persist[State](FundsGranted{BetID: id})
		}
		if c.Err != nil {
			ctx.Logger().Warn("funds reservation ask failed", zap.Error(c.Err))
		}
		return b.fail(ctx, s, "funds not available")

	case ValidationsTimedOut:
		if s.Validated {
			return entity.None[State]()
		}
		if s.MarketConfirmed && s.FundsConfirmed {
			return entity.Persist[State](ValidationsPassed{BetID: id})
		}
		var missing []string
		if !s.MarketConfirmed {
			missing = append(missing, "market confirmation")
		}
		if !s.FundsConfirmed {
			missing = append(missing, "funds confirmation")
		}
		return b.fail(ctx, s, "validations timed out, missing "+strings.Join(missing, " and "))

	case Settle:
		if !s.Validated {
			return entity.Unaccepted[State](fmt.Sprintf("bet %s is still being validated", id))
		}
		if s.Settling {
			return entity.Unaccepted[State](fmt.Sprintf("bet %s settlement already in progress", id))
		}
		if c.Result != s.Status.Result {
			// perdedor: nada é gravado e ninguém recebe resposta
			ctx.Logger().Debug("non-winning settlement ignored", zap.Int("result", c.Result))
			return entity.None[State]()
		}
		return entity.Persist[State](SettlementStarted{BetID: id, Result: c.Result}).
			ThenRun(func(s State) { b.payout(ctx, s) }).
			ThenReply(accepted)

	case Close:
		return entity.Persist[State](Closed{BetID: id, Reason: c.Reason}).
			ThenRun(func(State) { ctx.CancelTimer(validationTimer) })

	case Fail:
		return entity.Persist[State](Failed{BetID: id, Reason: c.Reason}).
			ThenRun(func(State) { ctx.CancelTimer(validationTimer) })
	}
	return unaccepted(s, cmd)
}

// fail encerra a aposta na validação e devolve o stake se a reserva já tinha sido feita.
// Com o pagamento em andamento o stake já está voltando para a carteira
func (b Behavior) fail(ctx entity.Context, s State, reason string) entity.Effect[State] {
	return entity.Persist[State](Failed{BetID: s.Status.BetID, Reason: reason}).
		ThenRun(func(after State) {
			ctx.CancelTimer(validationTimer)
			if after.FundsConfirmed && !after.Settling {
				b.refund(ctx, after)
			}
		})
}

func (b Behavior) payout(ctx entity.Context, s State) {
	walletID, stake := s.Status.WalletID, s.Status.Stake
	ctx.Ask(wallet.TypeKey, walletID, wallet.AddFunds{Amount: stake}, b.payoutAskTimeout(),
		func(reply entity.Reply, err error) entity.Command {
			if err == nil {
				if _, ok := reply.(entity.Accepted); ok {
					return Close{Reason: fmt.Sprintf("stake %d paid to wallet %s", stake, walletID)}
				}
				err = fmt.Errorf("unexpected wallet reply %T", reply)
			}
			return Fail{Reason: fmt.Sprintf("reimbursement unsuccessful for wallet %s: %v", walletID, err)}
		})
}

func (b Behavior) refund(ctx entity.Context, s State) {
	stake := s.Status.Stake
	ctx.Ask(wallet.TypeKey, s.Status.WalletID, wallet.AddFunds{Amount: stake}, b.payoutAskTimeout(),
		func(_ entity.Reply, err error) entity.Command {
			return refundOutcome{Amount: stake, Err: err}
		})
}

// terminal nunca grava eventos; só desfaz reservas que chegaram tarde
func (b Behavior) terminal(ctx entity.Context, s State, cmd entity.Command) entity.Effect[State] {
	switch c := cmd.(type) {
	case RequestWalletFunds:
		if _, ok := c.Response.(entity.Accepted); ok && c.Err == nil {
			return entity.None[State]().ThenRun(func(s State) { b.refund(ctx, s) })
		}
		return entity.None[State]()
	case MarketOddsAvailable, ValidationsTimedOut, Close, Fail:
		ctx.Logger().Debug("internal command ignored in terminal state",
			zap.String("command", fmt.Sprintf("%T", cmd)), zap.String("phase", string(s.Phase)))
		return entity.None[State]()
	}
	return unaccepted(s, cmd)
}

// OnRecovery rearma a janela de validação de uma aposta que ainda não foi validada
func (b Behavior) OnRecovery(ctx entity.Context, s State) {
	if s.Phase != PhaseOpen {
		return
	}
	if !s.Validated {
		ctx.StartSingleTimer(validationTimer, ValidationsTimedOut{}, b.validationWindow())
	}
	if s.Settling {
		ctx.Logger().Warn("bet recovered with settlement in progress, payout outcome unknown")
	}
}

func (Behavior) ApplyEvent(s State, evt entity.Event) State {
	switch e := evt.(type) {
	case Opened:
		s.Phase = PhaseOpen
		s.Status = Status{BetID: e.BetID, WalletID: e.WalletID, MarketID: e.MarketID, Odds: e.Odds, Stake: e.Stake, Result: e.Result}
	case MarketConfirmed:
		s.MarketConfirmed = true
	case FundsGranted:
		s.FundsConfirmed = true
	case ValidationsPassed:
		s.Validated = true
	case SettlementStarted:
		s.Settling = true
	case Closed:
		s.Phase = PhaseClosed
		s.Reason = e.Reason
	case Failed:
		s.Phase = PhaseFailed
		s.Reason = e.Reason
	}
	return s
}

func (Behavior) DecodeEvent(eventType string, data []byte) (entity.Event, error) {
	switch eventType {
	case "Opened":
		return entity.Decode[Opened](data)
	case "MarketConfirmed":
		return entity.Decode[MarketConfirmed](data)
	case "FundsGranted":
		return entity.Decode[FundsGranted](data)
	case "ValidationsPassed":
		return entity.Decode[ValidationsPassed](data)
	case "SettlementStarted":
		return entity.Decode[SettlementStarted](data)
	case "Closed":
		return entity.Decode[Closed](data)
	case "Failed":
		return entity.Decode[Failed](data)
	}
	return nil, fmt.Errorf("unknown bet event %q", eventType)
}
