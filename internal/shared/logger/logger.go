package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func New(serviceName string, env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}

	// service e env sempre entram como campos padrão
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(
		zap.Fields(
			zap.String("service", serviceName),
			zap.String("env", env),
		),
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ForEntity devolve um logger com os campos de identificação de uma entidade
func ForEntity(l *zap.Logger, entityType, entityID string) *zap.Logger {
	return l.With(zap.String("entity_type", entityType), zap.String("entity_id", entityID))
}

// ForProjection devolve um logger com os campos de um worker de projeção
func ForProjection(l *zap.Logger, projection, tag string) *zap.Logger {
	return l.With(zap.String("projection", projection), zap.String("tag", tag))
}
