package infra

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// MemoryStatsStore agrega decisões no próprio processo. Serve para o modo sem
// workers e para testes; com prefork cada worker teria a sua visão, e aí o
// RedisStatsStore é quem junta tudo.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     domain.Counters
	byRule    map[domain.RuleKey]domain.Counters
	offenders map[string]int64

	trackOffenders bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithMemoryOffenders liga a contagem de rejeições por cliente.
func WithMemoryOffenders(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackOffenders = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRule:    make(map[domain.RuleKey]domain.Counters),
		offenders: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	if !ev.Kind.Valid() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.Add(ev.Kind, 1)

	c := s.byRule[ev.Rule]
	c.Add(ev.Kind, 1)
	s.byRule[ev.Rule] = c

	if s.trackOffenders && ev.Client != "" && ev.Rejected() {
		s.offenders[ev.Client]++
	}
	return nil
}

func (s *MemoryStatsStore) Total() domain.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Totals implementa domain.StatsReader.
func (s *MemoryStatsStore) Totals(context.Context) (domain.Counters, error) {
	return s.Total(), nil
}

// ByRule implementa domain.StatsReader; devolve uma cópia.
func (s *MemoryStatsStore) ByRule(context.Context) (map[string]domain.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Counters, len(s.byRule))
	for k, v := range s.byRule {
		out[k.String()] = v
	}
	return out, nil
}

// TopOffenders devolve até n clientes com mais rejeições, em ordem decrescente.
// n <= 0 devolve todos.
func (s *MemoryStatsStore) TopOffenders(_ context.Context, n int) ([]domain.Offender, error) {
	s.mu.Lock()
	out := make([]domain.Offender, 0, len(s.offenders))
	for client, count := range s.offenders {
		out = append(out, domain.Offender{Client: client, Rejections: count})
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Offender) int {
		if c := cmp.Compare(b.Rejections, a.Rejections); c != 0 {
			return c
		}
		return cmp.Compare(a.Client, b.Client)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
