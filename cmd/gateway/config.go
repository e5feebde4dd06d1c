package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type config struct {
	listenAddr  string
	upstreamURL string
	adminAddr   string
	trustXFF    bool

	rateInterval  time.Duration
	rateMax       int
	rateWhitelist []string
	rateBlacklist []string
	rulesFile     string

	timeout     time.Duration
	failOpen    bool
	maxInFlight int

	workers     int
	ownerSocket string

	logLevel string
	logJSON  bool

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsOffenders     bool
}

func readConfig() config {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.adminAddr = os.Getenv("ADMIN_ADDR")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.rateInterval = getenvDurationDefault("RATE_INTERVAL", domain.DefaultInterval)
	cfg.rateMax = getenvIntDefault("RATE_MAX", domain.DefaultMax)
	cfg.rateWhitelist = getenvList("RATE_WHITELIST")
	cfg.rateBlacklist = getenvList("RATE_BLACKLIST")
	cfg.rulesFile = os.Getenv("RATE_RULES_FILE")

	cfg.timeout = getenvDurationDefault("RATE_TIMEOUT", 2*time.Second)
	cfg.failOpen = getenvBoolDefault("RATE_FAIL_OPEN", true)
	cfg.maxInFlight = getenvIntDefault("RATE_MAX_INFLIGHT", 0)

	cfg.workers = getenvIntDefault("WORKERS", 0)
	cfg.ownerSocket = getenvDefault("RATE_OWNER_SOCKET", filepath.Join(os.TempDir(), "ratelimit-owner.sock"))

	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logJSON = getenvBoolDefault("LOG_JSON", false)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsOffenders = getenvBoolDefault("RATE_STATS_TRACK_OFFENDERS", false)
	return cfg
}

func (cfg config) validate() error {
	if cfg.upstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateMax <= 0 {
		return errors.New("RATE_MAX must be > 0")
	}
	if cfg.rateInterval <= 0 {
		return errors.New("RATE_INTERVAL must be > 0")
	}
	if cfg.workers < 0 {
		return errors.New("WORKERS must be >= 0")
	}
	if cfg.maxInFlight < 0 {
		return errors.New("RATE_MAX_INFLIGHT must be >= 0")
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	return nil
}

// childEnv repassa para os workers a configuração efetiva (inclusive flags).
func (cfg config) childEnv() []string {
	return []string{
		"UPSTREAM_URL=" + cfg.upstreamURL,
		"TRUST_XFF=" + strconv.FormatBool(cfg.trustXFF),
		"RATE_INTERVAL=" + cfg.rateInterval.String(),
		"RATE_MAX=" + strconv.Itoa(cfg.rateMax),
		"RATE_WHITELIST=" + strings.Join(cfg.rateWhitelist, ","),
		"RATE_BLACKLIST=" + strings.Join(cfg.rateBlacklist, ","),
		"RATE_RULES_FILE=" + cfg.rulesFile,
		"RATE_TIMEOUT=" + cfg.timeout.String(),
		"RATE_FAIL_OPEN=" + strconv.FormatBool(cfg.failOpen),
		"RATE_MAX_INFLIGHT=" + strconv.Itoa(cfg.maxInFlight),
		"RATE_OWNER_SOCKET=" + cfg.ownerSocket,
		"LOG_LEVEL=" + cfg.logLevel,
		"LOG_JSON=" + strconv.FormatBool(cfg.logJSON),
	}
}

// rulesFile é o formato do arquivo YAML de regras.
type rulesFile struct {
	Defaults ruleEntry   `yaml:"defaults"`
	Routes   []ruleEntry `yaml:"routes"`
}

type ruleEntry struct {
	Method    string        `yaml:"method"`
	Path      string        `yaml:"path"`
	Max       int           `yaml:"max"`
	Interval  time.Duration `yaml:"interval"`
	Whitelist []string      `yaml:"whitelist"`
	Blacklist []string      `yaml:"blacklist"`
}

type routeRule struct {
	method string
	path   string
	rule   domain.RuleConfig
}

type rules struct {
	defaults domain.RuleConfig
	routes   []routeRule
}

// loadRules junta env/flags e o arquivo YAML. Qualquer CIDR inválido aborta
// a inicialização.
func loadRules(cfg config) (rules, error) {
	base := ratelimit.Config{
		Interval:  cfg.rateInterval,
		Max:       cfg.rateMax,
		Whitelist: cfg.rateWhitelist,
		Blacklist: cfg.rateBlacklist,
	}

	var file rulesFile
	if cfg.rulesFile != "" {
		data, err := os.ReadFile(cfg.rulesFile)
		if err != nil {
			return rules{}, fmt.Errorf("read rules file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return rules{}, fmt.Errorf("parse rules file %s: %w", cfg.rulesFile, err)
		}
		base = merge(base, file.Defaults)
	}

	defaults, err := base.Rule()
	if err != nil {
		return rules{}, fmt.Errorf("default rule: %w", err)
	}

	out := rules{defaults: defaults}
	for i, entry := range file.Routes {
		method := strings.ToUpper(strings.TrimSpace(entry.Method))
		path := strings.TrimSpace(entry.Path)
		if method == "" || path == "" {
			return rules{}, fmt.Errorf("route %d: method and path are required", i)
		}
		rule, err := merge(base, entry).Rule()
		if err != nil {
			return rules{}, fmt.Errorf("route [%s] %s: %w", method, path, err)
		}
		out.routes = append(out.routes, routeRule{method: method, path: path, rule: rule})
	}
	return out, nil
}

func merge(base ratelimit.Config, e ruleEntry) ratelimit.Config {
	if e.Max > 0 {
		base.Max = e.Max
	}
	if e.Interval > 0 {
		base.Interval = e.Interval
	}
	if e.Whitelist != nil {
		base.Whitelist = e.Whitelist
	}
	if e.Blacklist != nil {
		base.Blacklist = e.Blacklist
	}
	return base
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvList(k string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(k), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
