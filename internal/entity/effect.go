package entity

import "slices"

// Effect é o resultado de um command handler: eventos a persistir, ações a executar
// após a gravação e a regra de resposta
type Effect[S any] struct {
	events []Event
	thens  []func(S)
	reply  func(S) Reply
}

func Persist[S any](events ...Event) Effect[S] {
	return Effect[S]{events: events}
}

func None[S any]() Effect[S] {
	return Effect[S]{}
}

// ReplyWith não persiste nada e responde r
func ReplyWith[S any](r Reply) Effect[S] {
	return None[S]().ThenReply(func(S) Reply { return r })
}

// Unaccepted é a rejeição padrão para comandos inválidos no estado atual
func Unaccepted[S any](reason string) Effect[S] {
	return ReplyWith[S](RequestUnaccepted{Reason: reason})
}

// ThenRun agenda f para depois da gravação, recebendo o estado já atualizado
func (e Effect[S]) ThenRun(f func(S)) Effect[S] {
	e.thens = append(slices.Clone(e.thens), f)
	return e
}

func (e Effect[S]) ThenReply(f func(S) Reply) Effect[S] {
	e.reply = f
	return e
}

func (e Effect[S]) Events() []Event { return e.events }

// Run executa as ações agendadas com ThenRun
func (e Effect[S]) Run(state S) {
	for _, f := range e.thens {
		f(state)
	}
}

// Reply devolve a resposta, se houver
func (e Effect[S]) Reply(state S) (Reply, bool) {
	if e.reply == nil {
		return nil, false
	}
	return e.reply(state), true
}
