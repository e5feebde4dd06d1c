package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava as decisões no Redis para que owner e workers
// enxerguem os mesmos números:
//
//	<prefix>:total               hash, campo = kind
//	<prefix>:rules               hash, campo = "[METHOD] path|kind"
//	<prefix>:<bucket>:<stamp>    hash, campo = kind (com TTL)
//	<prefix>:offenders           zset, membro = ip, score = rejeições (com TTL)
//
// O estado do rate limit em si continua só no Coordinator.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl vale para os buckets e para offenders; total e rules são cumulativos.
	ttl    time.Duration
	bucket string // "minute" (padrão), "hour" ou "none"

	trackOffenders bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsOffenders(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackOffenders = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil || !ev.Kind.Valid() {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	kind := string(ev.Kind)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.key("total"), kind, 1)
	pipe.HIncrBy(ctx, s.key("rules"), ruleField(ev.Rule, ev.Kind), 1)

	if bucketKey := s.bucketKey(at); bucketKey != "" {
		pipe.HIncrBy(ctx, bucketKey, kind, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if s.trackOffenders && ev.Client != "" && ev.Rejected() {
		pipe.ZIncrBy(ctx, s.key("offenders"), 1, ev.Client)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key("offenders"), s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals implementa domain.StatsReader.
func (s *RedisStatsStore) Totals(ctx context.Context) (domain.Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("total")).Result()
	if err != nil {
		return domain.Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	return countersFromHash(raw), nil
}

// ByRule lê os contadores por regra, indexados por "[METHOD] path".
func (s *RedisStatsStore) ByRule(ctx context.Context) (map[string]domain.Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("rules")).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats rules: %w", err)
	}
	out := make(map[string]domain.Counters)
	for field, v := range raw {
		i := strings.LastIndexByte(field, '|')
		if i < 0 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		c := out[field[:i]]
		c.Add(domain.Kind(field[i+1:]), n)
		out[field[:i]] = c
	}
	return out, nil
}

// TopOffenders implementa domain.StatsReader.
func (s *RedisStatsStore) TopOffenders(ctx context.Context, n int) ([]domain.Offender, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.key("offenders"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats offenders: %w", err)
	}
	out := make([]domain.Offender, 0, len(zs))
	for _, z := range zs {
		client, _ := z.Member.(string)
		out = append(out, domain.Offender{Client: client, Rejections: int64(z.Score)})
	}
	return out, nil
}

func (s *RedisStatsStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStatsStore) bucketKey(at time.Time) string {
	switch s.bucket {
	case "minute":
		return s.key("minute:" + at.UTC().Format("200601021504"))
	case "hour":
		return s.key("hour:" + at.UTC().Format("2006010215"))
	default:
		return ""
	}
}

func ruleField(k domain.RuleKey, kind domain.Kind) string {
	return k.String() + "|" + string(kind)
}

func countersFromHash(raw map[string]string) domain.Counters {
	var c domain.Counters
	for kind, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		c.Add(domain.Kind(kind), n)
	}
	return c
}
