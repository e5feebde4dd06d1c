package infra

import (
	"context"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
)

// Coordinator é o único dono do estado de rate limit.
//
// Evaluate e as expirações agendadas disputam o mesmo mutex, então no máximo
// uma operação altera regras/contadores por vez, independente de quantas
// goroutines (ou delegates em outros processos, via cluster.Owner) chamem.
type Coordinator struct {
	mu       sync.Mutex
	registry *Registry
	closed   bool

	afterFunc AfterFunc
	now       func() time.Time
	log       zerolog.Logger
}

type CoordinatorOption func(*Coordinator)

func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

func WithAfterFunc(fn AfterFunc) CoordinatorOption {
	return func(c *Coordinator) { c.afterFunc = fn }
}

// WithClock define o relógio usado quando a Query não traz Timestamp e como
// referência para agendar as expirações.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry:  NewRegistry(),
		afterFunc: stdAfterFunc,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate implementa domain.Evaluator.
//
// Ordem: regra, contador do cliente, whitelist, blacklist, limite. O contador é
// criado antes das listas, então clientes em whitelist/blacklist também ocupam
// uma entrada até a janela expirar.
func (c *Coordinator) Evaluate(ctx context.Context, q domain.Query) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}

	at := q.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.Decision{}, domain.ErrClosed
	}

	rule, _ := c.registry.FindOrCreate(q.Method, q.Path, q.Rule, at)
	client := c.clientFor(rule, q.IP, at)

	if domain.MatchAny(rule.Config.Whitelist, q.IP) {
		return domain.Decision{ID: q.ID, Kind: domain.KindWhitelisted}, nil
	}
	if domain.MatchAny(rule.Config.Blacklist, q.IP) {
		return domain.Decision{ID: q.ID, Kind: domain.KindBlacklisted}, nil
	}

	dec := domain.Decision{
		ID:      q.ID,
		Limit:   rule.Config.Max,
		ResetAt: rule.ResetAt(client),
	}
	if client.Count+1 <= rule.Config.Max {
		client.Count++
		dec.Kind = domain.KindAllow
		dec.Remaining = rule.Config.Max - client.Count
		return dec, nil
	}

	// requisições rejeitadas não consomem cota.
	dec.Kind = domain.KindTooManyRequests
	dec.Remaining = 0
	return dec, nil
}

// clientFor precisa ser chamado com c.mu travado.
func (c *Coordinator) clientFor(rule *Rule, ip string, at time.Time) *ClientCounter {
	if client, ok := rule.clients[ip]; ok {
		if at.Before(rule.ResetAt(client)) {
			return client
		}
		// janela vencida cujo timer ainda não rodou.
		c.removeLocked(rule, client)
	}

	client := &ClientCounter{IP: ip, WindowStart: at}
	// o timer mira windowStart+interval; consultas vindas de delegates chegam
	// com timestamp anterior ao relógio do owner.
	delay := rule.ResetAt(client).Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	client.expiry = c.afterFunc(delay, func() { c.expire(rule, client) })
	rule.clients[ip] = client
	return client
}

// expire roda no timer e passa pelo mesmo lock de Evaluate. Só remove o
// contador para o qual foi agendado; se ele já foi substituído, não faz nada.
func (c *Coordinator) expire(rule *Rule, client *ClientCounter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if current, ok := rule.clients[client.IP]; !ok || current != client {
		return
	}
	c.removeLocked(rule, client)
}

func (c *Coordinator) removeLocked(rule *Rule, client *ClientCounter) {
	if client.expiry != nil {
		client.expiry.Stop()
	}
	delete(rule.clients, client.IP)
	c.log.Info().
		Str("ip", client.IP).
		Str("method", rule.Key.Method).
		Str("path", rule.Key.Path).
		Msg("removed rate limiting for client")
}

// Close cancela todas as expirações pendentes e descarta os contadores.
// Evaluate passa a retornar domain.ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for _, rule := range c.registry.rules {
		for ip, client := range rule.clients {
			if client.expiry != nil {
				client.expiry.Stop()
			}
			delete(rule.clients, ip)
		}
	}
	return nil
}

// RuleSnapshot é uma cópia somente leitura de uma regra.
type RuleSnapshot struct {
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Max       int       `json:"max"`
	Interval  string    `json:"interval"`
	Whitelist []string  `json:"whitelist,omitempty"`
	Blacklist []string  `json:"blacklist,omitempty"`
	Clients   int       `json:"clients"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot lista as regras na ordem de criação com a quantidade de clientes vivos.
func (c *Coordinator) Snapshot() []RuleSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	rules := c.registry.Rules()
	out := make([]RuleSnapshot, 0, len(rules))
	for _, rule := range rules {
		out = append(out, RuleSnapshot{
			Method:    rule.Key.Method,
			Path:      rule.Key.Path,
			Max:       rule.Config.Max,
			Interval:  rule.Config.Interval.String(),
			Whitelist: domain.RangeStrings(rule.Config.Whitelist),
			Blacklist: domain.RangeStrings(rule.Config.Blacklist),
			Clients:   rule.Clients(),
			CreatedAt: rule.CreatedAt,
		})
	}
	return out
}

// ClientCount retorna o count atual de (method, path, ip); usado em testes e
// diagnósticos.
func (c *Coordinator) ClientCount(method, path, ip string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rule, ok := c.registry.Find(method, path)
	if !ok {
		return 0, false
	}
	client, ok := rule.Client(ip)
	if !ok {
		return 0, false
	}
	return client.Count, true
}
