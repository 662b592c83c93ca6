package cache

import (
	"sort"
	"strings"
	"time"
)

// DefaultTTL applies when neither an override nor a content rule matches.
const DefaultTTL = time.Hour

// Hint carries per-write TTL information.
type Hint struct {
	// TTL, when positive, overrides every other rule.
	TTL time.Duration
	// ContentType is matched against the configured substring rules.
	ContentType string
}

type contentRule struct {
	pattern string
	ttl     time.Duration
}

func compileRules(ttls map[string]time.Duration) []contentRule {
	rules := make([]contentRule, 0, len(ttls))
	for pattern, ttl := range ttls {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" || ttl <= 0 {
			continue
		}
		rules = append(rules, contentRule{pattern: pattern, ttl: ttl})
	}
	// Longest pattern first so "video_search" beats "video"; ties alphabetical
	// to keep the order stable across map iteration.
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].pattern) != len(rules[j].pattern) {
			return len(rules[i].pattern) > len(rules[j].pattern)
		}
		return rules[i].pattern < rules[j].pattern
	})
	return rules
}

func resolveTTL(hint Hint, rules []contentRule, fallback time.Duration) time.Duration {
	if hint.TTL > 0 {
		return hint.TTL
	}
	if content := strings.ToLower(hint.ContentType); content != "" {
		for _, rule := range rules {
			if strings.Contains(content, rule.pattern) {
				return rule.ttl
			}
		}
	}
	return fallback
}
