package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/api"
	"github.com/radieske/betting-house/internal/bet"
	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/journal/redisnap"
	"github.com/radieske/betting-house/internal/journal/sqlstore"
	"github.com/radieske/betting-house/internal/market"
	"github.com/radieske/betting-house/internal/market/feed"
	"github.com/radieske/betting-house/internal/projection"
	"github.com/radieske/betting-house/internal/sharding"
	"github.com/radieske/betting-house/internal/shared/cache"
	"github.com/radieske/betting-house/internal/shared/config"
	"github.com/radieske/betting-house/internal/shared/db"
	"github.com/radieske/betting-house/internal/shared/kafka"
	"github.com/radieske/betting-house/internal/shared/logger"
	"github.com/radieske/betting-house/internal/shared/metrics"
	"github.com/radieske/betting-house/internal/tagging"
	"github.com/radieske/betting-house/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("journal", cfg.JournalDriver), zap.Bool("projections", cfg.ProjectionsEnabled))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Journal + snapshots no banco configurado
	dsn := cfg.SQLitePath
	if cfg.JournalDriver == string(db.Postgres) {
		dsn = cfg.PostgresDSN
	}
	sqlDB, dialect, err := db.Open(cfg.JournalDriver, dsn)
	if err != nil {
		log.Fatal("journal db connect", zap.Error(err))
	}
	defer sqlDB.Close()
	if err := db.Migrate(sqlDB, dialect); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	store := sqlstore.New(sqlDB, dialect, cfg.Tuning.KeepSnapshots)

	// Redis é opcional: quando configurado guarda os snapshots
	var (
		snapshots   journal.SnapshotStore = store
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient, err = cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer redisClient.Close()
		snapshots = redisnap.New(redisClient, cfg.Tuning.KeepSnapshots)
	}

	// Métricas Prometheus do runtime e das projeções
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollectors(reg)

	router := sharding.NewRouter(log, mc.ShardingHooks())
	settings := sharding.Settings{
		InboxSize:      cfg.Tuning.InboxSize,
		PassivateAfter: cfg.Tuning.PassivateAfter,
		Restart: sharding.RestartPolicy{
			MinBackoff: cfg.Tuning.RestartMinBackoff,
			MaxBackoff: cfg.Tuning.RestartMaxBackoff,
			Jitter:     cfg.Tuning.RestartJitter,
			MaxTries:   cfg.Tuning.RestartMaxTries,
		},
	}
	options := func(entityType string) entity.Options {
		return entity.Options{
			Journal:       store,
			Snapshots:     snapshots,
			SnapshotEvery: cfg.Tuning.SnapshotEvery,
			Tagger:        tagging.Tagger(entityType, cfg.Tuning.TagsPerType),
		}
	}
	must := func(err error) {
		if err != nil {
			log.Fatal("register entity", zap.Error(err))
		}
	}
	must(sharding.Register[wallet.State](router, wallet.Behavior{}, options(wallet.TypeKey), settings))
	must(sharding.Register[market.State](router, market.Behavior{}, options(market.TypeKey), settings))
	must(sharding.Register[bet.State](router, bet.Behavior{
		ValidationWindow:     cfg.Tuning.ValidationWindow,
		ValidationAskTimeout: cfg.Tuning.ValidationAskTimeout,
		PayoutAskTimeout:     cfg.Tuning.PayoutAskTimeout,
	}, options(bet.TypeKey), settings))

	hub := feed.NewHub(log, func(*http.Request) bool { return true })

	// Projeções: uma goroutine por tag em cada projeção
	var (
		bets *projection.Bets
		wg   conc.WaitGroup
	)
	if cfg.ProjectionsEnabled {
		bets = projection.NewBets(sqlDB, dialect)
		writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketEvents)
		defer writer.Close()

		daemon := &projection.Daemon{
			Log:         log,
			Journal:     store,
			Offsets:     projection.NewOffsets(sqlDB, dialect),
			BatchSize:   cfg.Tuning.ProjectionBatch,
			Interval:    cfg.Tuning.ProjectionInterval,
			OnProcessed: mc.OnProjected,
			OnError:     mc.OnProjectionError,
		}
		betTags := tagging.Tags(bet.TypeKey, cfg.Tuning.TagsPerType)
		marketTags := tagging.Tags(market.TypeKey, cfg.Tuning.TagsPerType)
		for _, run := range []struct {
			p    projection.Projection
			tags []string
		}{
			{bets, betTags},
			{&projection.MarketBus{Writer: writer}, marketTags},
			{hub, marketTags},
		} {
			wg.Go(func() {
				if err := daemon.Run(ctx, run.p, run.tags); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("projection stopped", zap.String("projection", run.p.Name()), zap.Error(err))
				}
			})
		}
	}

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, reg, func(ctx context.Context) error {
		if err := db.Ping(ctx, sqlDB); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	})

	// Servidor HTTP público
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewServer(log, router, bets, hub.HandleWS, api.Timeouts{}).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	router.Stop()
	wg.Wait()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("stopped")
}
