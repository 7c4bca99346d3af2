// Package simulator gera tráfego para a API: abre um catálogo fixo de mercados,
// muda as odds periodicamente e faz apostas aleatórias.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/api"
	"github.com/radieske/betting-house/internal/market"
)

// Catálogo fixo de partidas simuladas
var DefaultCatalog = []market.Fixture{
	{ID: "MATCH_001", HomeTeam: "Flamengo", AwayTeam: "Palmeiras"},
	{ID: "MATCH_002", HomeTeam: "Grêmio", AwayTeam: "Internacional"},
	{ID: "MATCH_003", HomeTeam: "Corinthians", AwayTeam: "Santos"},
	{ID: "MATCH_004", HomeTeam: "São Paulo", AwayTeam: "Vasco"},
}

type Simulator struct {
	Log     *zap.Logger
	Client  *Client
	Catalog []market.Fixture
	Wallets []string
	Funds   int64 // saldo inicial de cada carteira
	Rand    *rand.Rand

	OnTick func()       // métricas
	OnBet  func()       // métricas
	OnErr  func(string) // métricas por etapa
}

func marketID(f market.Fixture) string { return "market-" + f.ID }

// gera número aleatório entre min e max
func (s *Simulator) rnd(min, max float64) float64 {
	return (s.Rand.Float64() * (max - min)) + min
}

func (s *Simulator) randomOdds() market.Odds {
	return market.Odds{
		WinHome: s.rnd(1.40, 3.50),
		Draw:    s.rnd(2.50, 4.50),
		WinAway: s.rnd(2.00, 5.00),
	}
}

// Setup abre os mercados do catálogo e carrega as carteiras.
// Mercado já aberto (422) não é erro: o simulador pode ser reiniciado.
func (s *Simulator) Setup(ctx context.Context) error {
	for _, f := range s.Catalog {
		err := s.Client.OpenMarket(ctx, api.OpenMarketRequest{
			MarketID: marketID(f),
			Fixture:  f,
			Odds:     s.randomOdds(),
			OpensAt:  time.Now().Add(time.Hour).UnixMilli(),
		})
		var se *StatusError
		if err != nil && !(errors.As(err, &se) && se.Code == http.StatusUnprocessableEntity) {
			return fmt.Errorf("open market %s: %w", f.ID, err)
		}
	}
	for _, w := range s.Wallets {
		if err := s.Client.AddFunds(ctx, w, s.Funds); err != nil {
			return fmt.Errorf("fund wallet %s: %w", w, err)
		}
	}
	s.Log.Info("simulator ready", zap.Int("markets", len(s.Catalog)), zap.Int("wallets", len(s.Wallets)))
	return nil
}

// Tick atualiza as odds de todos os mercados e faz uma aposta aleatória
func (s *Simulator) Tick(ctx context.Context) {
	for _, f := range s.Catalog {
		if err := s.Client.UpdateOdds(ctx, marketID(f), s.randomOdds()); err != nil {
			s.Log.Warn("update odds failed", zap.String("market_id", marketID(f)), zap.Error(err))
			s.onErr("update_odds")
		}
	}
	if s.OnTick != nil {
		s.OnTick()
	}
	if len(s.Wallets) == 0 || len(s.Catalog) == 0 {
		return
	}

	// aposta na odd atual do resultado escolhido; a janela de validação decide o resto
	f := s.Catalog[s.Rand.Intn(len(s.Catalog))]
	cs, err := s.Client.GetMarket(ctx, marketID(f))
	if err != nil {
		s.Log.Warn("get market failed", zap.Error(err))
		s.onErr("get_market")
		return
	}
	result := s.Rand.Intn(3)
	odds, _ := cs.Status.Odds.For(result)
	id, err := s.Client.PlaceBet(ctx, api.OpenBetRequest{
		WalletID: s.Wallets[s.Rand.Intn(len(s.Wallets))],
		MarketID: marketID(f),
		Odds:     odds,
		Stake:    1 + s.Rand.Int63n(20),
		Result:   result,
	})
	if err != nil {
		s.Log.Warn("place bet failed", zap.Error(err))
		s.onErr("place_bet")
		return
	}
	s.Log.Debug("bet placed", zap.String("bet_id", id), zap.String("market_id", marketID(f)))
	if s.OnBet != nil {
		s.OnBet()
	}
}

// Run chama Tick a cada intervalo até ctx ser cancelado
func (s *Simulator) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Simulator) onErr(stage string) {
	if s.OnErr != nil {
		s.OnErr(stage)
	}
}
