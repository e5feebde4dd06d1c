package cluster

import (
	"fmt"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// ISO-8601 com milissegundos, mesmo formato do header X-RateLimit-Reset.
const resetLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope é a unidade do protocolo; mensagens sem query/result são ignoradas.
type Envelope struct {
	Query  *QueryMessage    `json:"query,omitempty"`
	Result *ResponseMessage `json:"result,omitempty"`
}

type RuleMessage struct {
	Max        int      `json:"max,omitempty"`
	IntervalMs int64    `json:"interval,omitempty"`
	Whitelist  []string `json:"whitelist,omitempty"`
	Blacklist  []string `json:"blacklist,omitempty"`
}

type QueryMessage struct {
	ID        string       `json:"id"`
	IP        string       `json:"ip"`
	Method    string       `json:"method"`
	Path      string       `json:"path"`
	// Timestamp em ms desde a época; ausente (nil) deixa o owner usar o relógio dele.
	Timestamp *int64       `json:"timestamp,omitempty"`
	Rule      *RuleMessage `json:"rule,omitempty"`
}

type ResponseMessage struct {
	ID        string      `json:"id"`
	Decision  domain.Kind `json:"decision,omitempty"`
	Limit     *int        `json:"limit,omitempty"`
	Remaining *int        `json:"remaining,omitempty"`
	ResetAt   string      `json:"resetAt,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// RemoteError é um erro informado pelo owner ao avaliar a consulta.
type RemoteError struct {
	ID  string
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ratelimit: owner failed query %s: %s", e.ID, e.Msg)
}

func encodeQuery(q domain.Query) *QueryMessage {
	m := &QueryMessage{
		ID:        q.ID,
		IP:        q.IP,
		Method:    q.Method,
		Path:      q.Path,
	}
	if !q.Timestamp.IsZero() {
		ms := q.Timestamp.UnixMilli()
		m.Timestamp = &ms
	}
	r := q.Rule
	if r.Max != 0 || r.Interval != 0 || len(r.Whitelist) > 0 || len(r.Blacklist) > 0 {
		m.Rule = &RuleMessage{
			Max:        r.Max,
			IntervalMs: r.Interval.Milliseconds(),
			Whitelist:  domain.RangeStrings(r.Whitelist),
			Blacklist:  domain.RangeStrings(r.Blacklist),
		}
	}
	return m
}

func decodeQuery(m *QueryMessage) (domain.Query, error) {
	q := domain.Query{
		ID:     m.ID,
		IP:     m.IP,
		Method: m.Method,
		Path:   m.Path,
	}
	if m.Timestamp != nil {
		q.Timestamp = time.UnixMilli(*m.Timestamp)
	}
	if m.Rule == nil {
		return q, nil
	}

	wl, err := domain.ParseRanges(m.Rule.Whitelist)
	if err != nil {
		return domain.Query{}, err
	}
	bl, err := domain.ParseRanges(m.Rule.Blacklist)
	if err != nil {
		return domain.Query{}, err
	}
	q.Rule = domain.RuleConfig{
		Max:       m.Rule.Max,
		Interval:  time.Duration(m.Rule.IntervalMs) * time.Millisecond,
		Whitelist: wl,
		Blacklist: bl,
	}
	return q, nil
}

func encodeDecision(d domain.Decision) *ResponseMessage {
	m := &ResponseMessage{ID: d.ID, Decision: d.Kind}
	if d.HasQuota() {
		limit, remaining := d.Limit, d.Remaining
		m.Limit = &limit
		m.Remaining = &remaining
		m.ResetAt = d.ResetAt.UTC().Format(resetLayout)
	}
	return m
}

func decodeDecision(m *ResponseMessage) (domain.Decision, error) {
	if m.Error != "" {
		return domain.Decision{}, &RemoteError{ID: m.ID, Msg: m.Error}
	}
	if !m.Decision.Valid() {
		return domain.Decision{}, fmt.Errorf("ratelimit: unknown decision %q for query %s", m.Decision, m.ID)
	}

	d := domain.Decision{ID: m.ID, Kind: m.Decision}
	if m.Limit != nil {
		d.Limit = *m.Limit
	}
	if m.Remaining != nil {
		d.Remaining = *m.Remaining
	}
	if m.ResetAt != "" {
		at, err := time.Parse(time.RFC3339Nano, m.ResetAt)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("ratelimit: invalid resetAt for query %s: %w", m.ID, err)
		}
		d.ResetAt = at
	}
	return d, nil
}
