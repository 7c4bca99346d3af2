package main

import (
	"context"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/shared/config"
	"github.com/radieske/betting-house/internal/shared/logger"
	"github.com/radieske/betting-house/internal/shared/metrics"
	"github.com/radieske/betting-house/internal/simulator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New("market-simulator", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Métricas Prometheus do simulador
	reg := prometheus.NewRegistry()
	ticks := prometheus.NewCounter(prometheus.CounterOpts{Name: "simulator_ticks_total", Help: "rodadas de odds enviadas"})
	bets := prometheus.NewCounter(prometheus.CounterOpts{Name: "simulator_bets_total", Help: "apostas aceitas pela API"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "simulator_errors_total", Help: "erros por etapa"}, []string{"stage"})
	reg.MustRegister(ticks, bets, errorsBy)

	sim := &simulator.Simulator{
		Log:     log,
		Client:  simulator.NewClient(cfg.SimulatorTarget),
		Catalog: simulator.DefaultCatalog,
		Wallets: []string{"wallet-1", "wallet-2", "wallet-3"},
		Funds:   10_000,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		OnTick:  ticks.Inc,
		OnBet:   bets.Inc,
		OnErr:   func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, reg, func(context.Context) error { return nil })

	if err := sim.Setup(ctx); err != nil {
		log.Fatal("simulator setup", zap.Error(err))
	}
	log.Info("market simulator running", zap.String("target", cfg.SimulatorTarget))
	// Gera odds para todos os mercados a cada 3 segundos
	sim.Run(ctx, 3*time.Second)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("market simulator stopped")
}
