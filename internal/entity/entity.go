// Package entity é o runtime genérico das entidades event-sourced: um command handler
// puro decide quais eventos persistir, o runtime grava no journal, aplica o fold e só
// então dispara efeitos colaterais e a resposta.
package entity

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	// ErrNoReply: o prazo do ask acabou sem resposta
	ErrNoReply = errors.New("no reply")
	// ErrUnavailable: a entidade não conseguiu se recuperar dentro da política de restart
	ErrUnavailable = errors.New("entity unavailable")
	ErrStopped     = errors.New("router stopped")
	// ErrPersist: falha ao gravar no journal, o comando não teve efeito
	ErrPersist = errors.New("persist failed")
)

type (
	Command any
	Reply   any
)

// Event é um fato de domínio persistido; EventType é a chave usada no journal
type Event interface {
	EventType() string
}

// Respostas compartilhadas pelas entidades
type (
	Accepted          struct{}
	Rejected          struct{}
	RequestUnaccepted struct {
		Reason string `json:"reason"`
	}
)

// Context é o que o command handler enxerga do runtime. Timers e asks só são
// disparados depois que os eventos do comando atual foram gravados.
type Context interface {
	EntityID() string
	Logger() *zap.Logger

	// StartSingleTimer entrega cmd para a própria entidade após d; substitui um timer
	// pendente com a mesma chave
	StartSingleTimer(key string, cmd Command, d time.Duration)
	CancelTimer(key string)

	// Ask envia cmd para outra entidade com prazo timeout. O resultado (ou o erro)
	// passa por adapt e volta como comando interno na fila desta entidade.
	Ask(typeKey, entityID string, cmd Command, timeout time.Duration, adapt func(Reply, error) Command)
}

// Behavior descreve um tipo de entidade. HandleCommand e ApplyEvent não podem ter
// efeitos colaterais: o estado é sempre fold(EmptyState, eventos).
type Behavior[S any] interface {
	TypeKey() string
	EmptyState(entityID string) S
	HandleCommand(ctx Context, state S, cmd Command) Effect[S]
	ApplyEvent(state S, evt Event) S
	DecodeEvent(eventType string, data []byte) (Event, error)
}

// RecoveryHook é chamado depois de snapshot + replay, antes do primeiro comando
type RecoveryHook[S any] interface {
	OnRecovery(ctx Context, state S)
}

// Decode é o helper usado pelos DecodeEvent das entidades
func Decode[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Asker é o lado do chamador do router, usado pelos clientes tipados e pela API
type Asker interface {
	Ask(ctx context.Context, typeKey, entityID string, cmd Command) (Reply, error)
}
