package infra

import (
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

func TestRegistry_FindOrCreateAppliesDefaults(t *testing.T) {
	r := NewRegistry()

	rule, created := r.FindOrCreate("GET", "/a", domain.RuleConfig{}, time.Unix(0, 0))
	if !created {
		t.Fatalf("expected rule to be created")
	}
	if rule.Config.Max != 10 {
		t.Fatalf("expected default max=10, got %d", rule.Config.Max)
	}
	if rule.Config.Interval != 5*time.Minute {
		t.Fatalf("expected default interval=5m, got %s", rule.Config.Interval)
	}
}

func TestRegistry_ExactMatchOnMethodAndPath(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(0, 0)

	a, _ := r.FindOrCreate("GET", "/a", domain.RuleConfig{Max: 1}, now)
	b, created := r.FindOrCreate("POST", "/a", domain.RuleConfig{Max: 2}, now)
	if !created || a == b {
		t.Fatalf("expected different rule for different method")
	}
	c, created := r.FindOrCreate("GET", "/a/", domain.RuleConfig{Max: 3}, now)
	if !created || c == a {
		t.Fatalf("expected no prefix matching")
	}

	again, created := r.FindOrCreate("GET", "/a", domain.RuleConfig{Max: 99}, now)
	if created || again != a {
		t.Fatalf("expected existing rule to be returned")
	}
	if again.Config.Max != 1 {
		t.Fatalf("expected first configuration to win, got max=%d", again.Config.Max)
	}

	rules := r.Rules()
	if len(rules) != 3 || rules[0] != a || rules[1] != b || rules[2] != c {
		t.Fatalf("expected rules in creation order")
	}
}

func TestRegistry_ConfigIsCopied(t *testing.T) {
	r := NewRegistry()
	wl := []domain.Range{domain.MustParseRange("10.0.0.0/8")}

	rule, _ := r.FindOrCreate("GET", "/a", domain.RuleConfig{Whitelist: wl}, time.Unix(0, 0))
	wl[0] = domain.MustParseRange("192.168.0.0/16")

	if got := rule.Config.Whitelist[0].String(); got != "10.0.0.0/8" {
		t.Fatalf("expected rule whitelist to be immutable, got %s", got)
	}
}
