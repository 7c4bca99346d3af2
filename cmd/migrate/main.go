package main

import (
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/shared/config"
	"github.com/radieske/betting-house/internal/shared/db"
	"github.com/radieske/betting-house/internal/shared/logger"
)

// migrate aplica as migrations do journal e das projeções e sai
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New("betting-house-migrate", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dsn := cfg.SQLitePath
	if cfg.JournalDriver == string(db.Postgres) {
		dsn = cfg.PostgresDSN
	}
	sqlDB, dialect, err := db.Open(cfg.JournalDriver, dsn)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := db.Migrate(sqlDB, dialect); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("migrations applied", zap.String("driver", cfg.JournalDriver))
}
