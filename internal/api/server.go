// Package api é o transporte HTTP das entidades: traduz requisições em comandos
// no router e respostas em status HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/bet"
	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/market"
	"github.com/radieske/betting-house/internal/projection"
	"github.com/radieske/betting-house/internal/sharding"
	"github.com/radieske/betting-house/internal/wallet"
)

// Timeouts dos asks feitos pela API
type Timeouts struct {
	Entity time.Duration // apostas e mercados; 3s
	Wallet time.Duration // 5s
}

type Server struct {
	log      *zap.Logger
	router   entity.Asker
	bets     *projection.Bets // nil quando as projeções estão desligadas
	feed     http.HandlerFunc // nil desliga /markets/feed
	timeouts Timeouts
}

func NewServer(log *zap.Logger, router entity.Asker, bets *projection.Bets, feed http.HandlerFunc, t Timeouts) *Server {
	if t.Entity <= 0 {
		t.Entity = 3 * time.Second
	}
	if t.Wallet <= 0 {
		t.Wallet = 5 * time.Second
	}
	return &Server{log: log, router: router, bets: bets, feed: feed, timeouts: t}
}

// Router retorna o roteador HTTP com as rotas de carteira, mercado e aposta
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/wallets/{id}", func(r chi.Router) {
		r.Get("/", s.getWallet)
		r.Post("/add", s.addFunds)
		r.Post("/reserve", s.reserveFunds)
	})

	r.Route("/markets", func(r chi.Router) {
		r.Post("/", s.openMarket)
		if s.feed != nil {
			r.Get("/feed", s.feed)
		}
		r.Get("/{id}", s.getMarket)
		r.Patch("/{id}", s.updateMarket)
		r.Post("/{id}/close", s.closeMarket)
		r.Post("/{id}/cancel", s.cancelMarket)
		r.Get("/{id}/stakes", s.stakesPerResult)
	})

	r.Route("/bets", func(r chi.Router) {
		r.Post("/", s.openBet)
		r.Get("/{id}", s.getBet)
		r.Post("/{id}/settle", s.settleBet)
		r.Post("/{id}/cancel", s.cancelBet)
	})
	return r
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

// ask envia o comando com o prazo da rota e escreve a resposta
func (s *Server) ask(w http.ResponseWriter, r *http.Request, timeout time.Duration, typeKey, id string, cmd entity.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	reply, err := s.router.Ask(ctx, typeKey, id, cmd)
	if err != nil {
		s.writeAskError(w, typeKey, id, err)
		return
	}
	writeReply(w, id, reply)
}

func writeReply(w http.ResponseWriter, id string, reply entity.Reply) {
	switch rp := reply.(type) {
	case entity.Accepted:
		writeJSON(w, http.StatusOK, StatusResponse{ID: id, Status: "accepted"})
	case entity.Rejected:
		writeJSON(w, http.StatusConflict, StatusResponse{ID: id, Status: "rejected"})
	case entity.RequestUnaccepted:
		writeError(w, http.StatusUnprocessableEntity, rp.Reason)
	case wallet.CurrentBalance:
		writeJSON(w, http.StatusOK, WalletResponse{WalletID: id, Balance: rp.Amount})
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func (s *Server) writeAskError(w http.ResponseWriter, typeKey, id string, err error) {
	switch {
	case errors.Is(err, entity.ErrNoReply):
		writeError(w, http.StatusGatewayTimeout, "no reply")
	case errors.Is(err, entity.ErrUnavailable), errors.Is(err, entity.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, sharding.ErrUnknownType):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("ask failed", zap.String("entity_type", typeKey), zap.String("entity_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, s.timeouts.Wallet, wallet.TypeKey, chi.URLParam(r, "id"), wallet.CheckFunds{})
}

func (s *Server) addFunds(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	s.ask(w, r, s.timeouts.Wallet, wallet.TypeKey, chi.URLParam(r, "id"), wallet.AddFunds{Amount: req.Amount})
}

func (s *Server) reserveFunds(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	s.ask(w, r, s.timeouts.Wallet, wallet.TypeKey, chi.URLParam(r, "id"), wallet.ReserveFunds{Amount: req.Amount})
}

func (s *Server) openMarket(w http.ResponseWriter, r *http.Request) {
	var req OpenMarketRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "marketId required")
		return
	}
	s.ask(w, r, s.timeouts.Entity, market.TypeKey, req.MarketID, market.Open{
		Fixture: req.Fixture,
		Odds:    req.Odds,
		OpensAt: time.UnixMilli(req.OpensAt),
	})
}

func (s *Server) updateMarket(w http.ResponseWriter, r *http.Request) {
	var req UpdateMarketRequest
	if !decode(w, r, &req) {
		return
	}
	cmd := market.Update{Odds: req.Odds, Result: req.Result}
	if req.OpensAt != nil {
		at := time.UnixMilli(*req.OpensAt).UTC()
		cmd.OpensAt = &at
	}
	s.ask(w, r, s.timeouts.Entity, market.TypeKey, chi.URLParam(r, "id"), cmd)
}

func (s *Server) closeMarket(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, s.timeouts.Entity, market.TypeKey, chi.URLParam(r, "id"), market.Close{})
}

func (s *Server) cancelMarket(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decode(w, r, &req) {
		return
	}
	s.ask(w, r, s.timeouts.Entity, market.TypeKey, chi.URLParam(r, "id"), market.Cancel{Reason: req.Reason})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, s.timeouts.Entity, market.TypeKey, chi.URLParam(r, "id"), market.GetState{})
}

func (s *Server) stakesPerResult(w http.ResponseWriter, r *http.Request) {
	if s.bets == nil {
		writeError(w, http.StatusServiceUnavailable, "projections disabled")
		return
	}
	stakes, err := s.bets.StakePerResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error("stake per result", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stakes)
}

func (s *Server) openBet(w http.ResponseWriter, r *http.Request) {
	var req OpenBetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.WalletID == "" || req.MarketID == "" || req.Odds <= 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.BetID == "" {
		req.BetID = uuid.NewString()
	}
	s.ask(w, r, s.timeouts.Entity, bet.TypeKey, req.BetID, bet.Open{
		WalletID: req.WalletID,
		MarketID: req.MarketID,
		Odds:     req.Odds,
		Stake:    req.Stake,
		Result:   req.Result,
	})
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, s.timeouts.Entity, bet.TypeKey, chi.URLParam(r, "id"), bet.GetState{})
}

// settleBet: aposta perdedora não responde e a requisição termina em 504
func (s *Server) settleBet(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	s.ask(w, r, s.timeouts.Entity, bet.TypeKey, chi.URLParam(r, "id"), bet.Settle{Result: req.Result})
}

func (s *Server) cancelBet(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decode(w, r, &req) {
		return
	}
	s.ask(w, r, s.timeouts.Entity, bet.TypeKey, chi.URLParam(r, "id"), bet.Cancel{Reason: req.Reason})
}
