package infra

import (
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// ClientCounter é o uso de um cliente dentro de uma regra durante uma janela.
// Ele vive exatamente uma janela: é recriado (count=0) depois de expirar.
type ClientCounter struct {
	IP          string
	Count       int
	WindowStart time.Time

	expiry Timer
}

// Rule guarda a configuração capturada na criação e os contadores vivos.
type Rule struct {
	Key       domain.RuleKey
	Config    domain.RuleConfig
	CreatedAt time.Time

	clients map[string]*ClientCounter
}

func (r *Rule) ResetAt(c *ClientCounter) time.Time {
	return c.WindowStart.Add(r.Config.Interval)
}

// Client retorna o contador vivo do IP, se houver.
func (r *Rule) Client(ip string) (*ClientCounter, bool) {
	c, ok := r.clients[ip]
	return c, ok
}

func (r *Rule) Clients() int { return len(r.clients) }

// Registry é a coleção ordenada de regras.
//
// Não é seguro para uso concorrente: quem serializa o acesso é o Coordinator.
type Registry struct {
	rules []*Rule
	index map[domain.RuleKey]*Rule
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[domain.RuleKey]*Rule)}
}

// Find busca por igualdade exata de method e path.
func (r *Registry) Find(method, path string) (*Rule, bool) {
	rule, ok := r.index[domain.RuleKey{Method: method, Path: path}]
	return rule, ok
}

// FindOrCreate devolve a regra existente para (method, path) ou cria uma nova
// com cfg. Se a regra já existe, a configuração original vence mesmo que cfg
// seja diferente.
func (r *Registry) FindOrCreate(method, path string, cfg domain.RuleConfig, now time.Time) (*Rule, bool) {
	if rule, ok := r.Find(method, path); ok {
		return rule, false
	}

	cfg = cfg.WithDefaults()
	cfg.Whitelist = append([]domain.Range(nil), cfg.Whitelist...)
	cfg.Blacklist = append([]domain.Range(nil), cfg.Blacklist...)

	rule := &Rule{
		Key:       domain.RuleKey{Method: method, Path: path},
		Config:    cfg,
		CreatedAt: now,
		clients:   make(map[string]*ClientCounter),
	}
	r.rules = append(r.rules, rule)
	r.index[rule.Key] = rule
	return rule, true
}

// Rules retorna as regras na ordem de criação.
func (r *Registry) Rules() []*Rule {
	out := make([]*Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

func (r *Registry) Len() int { return len(r.rules) }
