package domain

import "context"

// Evaluator é o único ponto que muda estado de rate limit.
//
// A implementação pode ser o coordenador no mesmo processo ou um delegate que
// encaminha a consulta para o processo dono do estado.
type Evaluator interface {
	Evaluate(ctx context.Context, q Query) (Decision, error)
}

// SlotPool limita quantas consultas aguardam o Evaluator ao mesmo tempo.
//
// Acquire bloqueia até abrir vaga ou o ctx encerrar. O release devolvido pode
// ser chamado mais de uma vez; só a primeira chamada libera a vaga.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// StatsStore recebe cada decisão aplicada. Erros são best-effort: o adapter
// HTTP não derruba a requisição por causa deles.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// StatsReader é a leitura usada pelo endpoint de diagnóstico.
type StatsReader interface {
	Totals(ctx context.Context) (Counters, error)
	// ByRule indexa os contadores por RuleKey.String(), ex: "[GET] /items".
	ByRule(ctx context.Context) (map[string]Counters, error)
	TopOffenders(ctx context.Context, n int) ([]Offender, error)
}
