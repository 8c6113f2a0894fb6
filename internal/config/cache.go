package config

import (
	"strings"
	"time"
)

// CacheConfig configures the Redis response cache in front of the sold
// board.  The board is advisory (the unique ticket index decides who gets
// a number), so TTL is capped at MaxBoardTTL to keep it close to live.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string // route | method_route | route_query | method_route_query
	Prefix       string
	MaxBodyBytes int
}

// MaxBoardTTL bounds how stale a cached board can be.
const MaxBoardTTL = time.Minute

func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      upperSet(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 5*time.Second),
		KeyStrategy:  strings.ToLower(envStr("CACHE_KEY_STRATEGY", "route_query")),
		Prefix:       envStr("CACHE_PREFIX", "board"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 64<<10),
	}
	if cfg.TTL <= 0 {
		cfg.Enabled = false
	}
	if cfg.TTL > MaxBoardTTL {
		cfg.TTL = MaxBoardTTL
	}
	// only safe methods are cacheable
	for m := range cfg.Methods {
		if m != "GET" && m != "HEAD" {
			delete(cfg.Methods, m)
		}
	}
	return cfg
}

// upperSet parses a comma separated list into an upper-cased set.
func upperSet(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			m[p] = true
		}
	}
	return m
}
