package projection

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/market"
	sharedkafka "github.com/radieske/betting-house/internal/shared/kafka"
)

const MarketBusName = "market-bus"

// MarketEvent é o formato publicado no tópico de mercados e no feed WebSocket
type MarketEvent struct {
	MarketID  string          `json:"marketId"`
	Type      string          `json:"type"`
	SeqNr     int64           `json:"seqNr"`
	EventID   string          `json:"eventId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// MarketEventFrom converte um registro do journal; ok=false para eventos de outras entidades
func MarketEventFrom(r journal.Record) (MarketEvent, bool) {
	if r.EntityType != market.TypeKey {
		return MarketEvent{}, false
	}
	return MarketEvent{
		MarketID:  r.EntityID,
		Type:      r.EventType,
		SeqNr:     r.SeqNr,
		EventID:   r.EventID,
		Timestamp: r.Timestamp,
		Payload:   json.RawMessage(r.Payload),
	}, true
}

// eventos de ciclo de vida publicados no barramento
var busEvents = map[string]bool{
	market.Opened{}.EventType():    true,
	market.Closed{}.EventType():    true,
	market.Cancelled{}.EventType(): true,
}

// MarketBus publica o ciclo de vida dos mercados no Kafka, chave = market id.
// At-least-once: o consumidor deduplica por eventId.
type MarketBus struct {
	Writer sharedkafka.MessageWriter
}

func (m *MarketBus) Name() string { return MarketBusName }

func (m *MarketBus) Apply(ctx context.Context, r journal.Record) error {
	ev, ok := MarketEventFrom(r)
	if !ok || !busEvents[ev.Type] {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return sharedkafka.WriteJSON(ctx, m.Writer, ev.MarketID, b)
}
