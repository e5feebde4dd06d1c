package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

const (
	DefaultMax      = 10
	DefaultInterval = 5 * time.Minute
)

// Kind identifica o resultado de uma avaliação.
type Kind string

const (
	KindAllow           Kind = "allow"
	KindTooManyRequests Kind = "too_many_requests"
	KindWhitelisted     Kind = "whitelisted"
	KindBlacklisted     Kind = "blacklisted"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAllow, KindTooManyRequests, KindWhitelisted, KindBlacklisted:
		return true
	}
	return false
}

// RuleConfig é a configuração aplicada a uma regra no momento em que ela é
// criada. Depois disso a regra ignora qualquer configuração diferente que
// chegue para o mesmo (method, path).
type RuleConfig struct {
	Max       int
	Interval  time.Duration
	Whitelist []Range
	Blacklist []Range
}

// WithDefaults preenche os campos zerados com os valores padrão
// (10 requisições a cada 5 minutos, listas vazias).
func (c RuleConfig) WithDefaults() RuleConfig {
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// RuleKey é a identidade de uma regra. A busca é sempre por igualdade exata,
// nunca por prefixo ou padrão.
type RuleKey struct {
	Method string
	Path   string
}

func (k RuleKey) String() string { return "[" + k.Method + "] " + k.Path }

// Query é a pergunta enviada ao coordenador para uma requisição HTTP.
type Query struct {
	ID        string
	IP        string
	Method    string
	Path      string
	Timestamp time.Time
	Rule      RuleConfig
}

func (q Query) Key() RuleKey { return RuleKey{Method: q.Method, Path: q.Path} }

// Decision é a resposta do coordenador para uma Query.
//
// Limit, Remaining e ResetAt só têm significado para KindAllow e
// KindTooManyRequests.
type Decision struct {
	ID        string
	Kind      Kind
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Continue informa se a requisição deve seguir para o próximo handler.
func (d Decision) Continue() bool {
	return d.Kind == KindAllow || d.Kind == KindWhitelisted
}

// HasQuota informa se a decisão carrega limite/remaining/reset.
func (d Decision) HasQuota() bool {
	return d.Kind == KindAllow || d.Kind == KindTooManyRequests
}
