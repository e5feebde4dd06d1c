package domain

import "time"

// StatsEvent é uma decisão aplicada a um cliente em uma regra.
//
// Cuidado com cardinalidade: Client e Rule.Path vêm da requisição.
type StatsEvent struct {
	Client string
	Rule   RuleKey
	Kind   Kind
	At     time.Time
}

// Rejected informa se a decisão barrou a requisição.
func (e StatsEvent) Rejected() bool {
	return e.Kind == KindTooManyRequests || e.Kind == KindBlacklisted
}

// Counters agrega decisões por Kind.
type Counters struct {
	Allowed     int64 `json:"allowed"`
	Limited     int64 `json:"limited"`
	Whitelisted int64 `json:"whitelisted"`
	Blacklisted int64 `json:"blacklisted"`
}

// Add soma n decisões do tipo kind. Kinds desconhecidos são ignorados.
func (c *Counters) Add(kind Kind, n int64) {
	switch kind {
	case KindAllow:
		c.Allowed += n
	case KindTooManyRequests:
		c.Limited += n
	case KindWhitelisted:
		c.Whitelisted += n
	case KindBlacklisted:
		c.Blacklisted += n
	}
}

// Offender é um cliente com rejeições acumuladas (429 ou 403).
type Offender struct {
	Client     string `json:"client"`
	Rejections int64  `json:"rejections"`
}
