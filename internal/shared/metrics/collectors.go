package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/radieske/betting-house/internal/sharding"
)

// Collectors agrupa as métricas do runtime de entidades e das projeções
type Collectors struct {
	Commands         *prometheus.CounterVec // por tipo e resultado (reply, no_reply, error)
	EventsPersisted  *prometheus.CounterVec
	Recoveries       *prometheus.CounterVec // por tipo e status (ok, failed)
	ActiveEntities   *prometheus.GaugeVec
	Passivations     *prometheus.CounterVec
	ProjectedEvents  *prometheus.CounterVec
	ProjectionErrors *prometheus.CounterVec // por projeção e estágio
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betting_house_commands_total", Help: "comandos processados por entidade",
		}, []string{"entity_type", "outcome"}),
		EventsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betting_house_events_persisted_total", Help: "eventos gravados no journal",
		}, []string{"entity_type"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betting_house_recoveries_total", Help: "recuperações de entidade (snapshot + replay)",
		}, []string{"entity_type", "status"}),
		ActiveEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "betting_house_active_entities", Help: "instâncias vivas no router",
		}, []string{"entity_type"}),
		Passivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betting_house_passivations_total", Help: "instâncias liberadas",
		}, []string{"entity_type"}),
		ProjectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betting_house_projection_events_total", Help: "eventos processados por projeção",
		}, []string{"projection"}),
		ProjectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "betting_house_projection_errors_total", Help: "erros por projeção e estágio",
		}, []string{"projection", "stage"}),
	}
	reg.MustRegister(c.Commands, c.EventsPersisted, c.Recoveries, c.ActiveEntities,
		c.Passivations, c.ProjectedEvents, c.ProjectionErrors)
	return c
}

// ShardingHooks liga as callbacks do router às métricas
func (c *Collectors) ShardingHooks() sharding.Hooks {
	return sharding.Hooks{
		OnCommand: func(entityType, outcome string) {
			c.Commands.WithLabelValues(entityType, outcome).Inc()
		},
		OnPersisted: func(entityType string, n int) {
			c.EventsPersisted.WithLabelValues(entityType).Add(float64(n))
		},
		OnRecovery: func(entityType string, err error) {
			status := "ok"
			if err != nil {
				status = "failed"
			}
			c.Recoveries.WithLabelValues(entityType, status).Inc()
		},
		OnActive: func(entityType string, delta int) {
			c.ActiveEntities.WithLabelValues(entityType).Add(float64(delta))
			if delta < 0 {
				c.Passivations.WithLabelValues(entityType).Inc()
			}
		},
	}
}

func (c *Collectors) OnProjected(projection string, n int) {
	c.ProjectedEvents.WithLabelValues(projection).Add(float64(n))
}

func (c *Collectors) OnProjectionError(projection, stage string) {
	c.ProjectionErrors.WithLabelValues(projection, stage).Inc()
}
