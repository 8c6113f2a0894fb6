package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/config"
)

// takeScript refills whole intervals since the last refill and takes one
// token.  State lives in a hash {t = tokens, r = last refill ms}.
// Returns {allowed 0|1, tokens left, ms until next token}.
var takeScript = redis.NewScript(`
local now, cap, per, every, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local st = redis.call('HMGET', KEYS[1], 't', 'r')
local tokens, last = tonumber(st[1]), tonumber(st[2])
if not tokens or not last then
	tokens, last = cap, now
end
local n = math.floor(math.max(0, now - last) / every)
if n > 0 then
	tokens = math.min(cap, tokens + n * per)
	last = last + n * every
end
local ok, wait = 0, 0
if tokens >= 1 then
	ok, tokens = 1, tokens - 1
else
	wait = math.max(0, every - (now - last))
end
redis.call('HSET', KEYS[1], 't', tokens, 'r', last)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

// decision is the outcome of one take.
type decision struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

type bucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func (b *bucket) take(ctx context.Context, key string, now time.Time) (decision, error) {
	res, err := takeScript.Run(ctx, b.rdb, []string{key},
		now.UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return decision{}, err
	}
	return toDecision(res)
}

func toDecision(res []int64) (decision, error) {
	if len(res) != 3 {
		return decision{}, redis.Nil
	}
	return decision{
		allowed:   res[0] == 1,
		remaining: res[1],
		retry:     time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// retryAfterSeconds rounds up so a client never retries too early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// NewTokenBucket throttles callers with a Redis token bucket.  It fails
// open: if Redis errors the request proceeds, since correctness of a
// settlement never depends on the limiter.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &bucket{cfg: cfg, rdb: rdb}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			d, err := b.take(c.Request().Context(), key, time.Now())
			if err != nil {
				log.Warn("ratelimit: failing open", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if d.allowed {
				return next(c)
			}

			secs := retryAfterSeconds(d.retry)
			h.Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
			if cfg.Debug {
				log.Info("ratelimit: blocked", zap.String("key", key), zap.Duration("retry", d.retry))
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "too many attempts, wait before retrying",
				"retry_after": secs,
			})
		}
	}
}

// buildRateKey composes "<prefix>:<dimension>:<value>..." from the
// configured strategy.  Default is ip + route.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	dims := map[string]string{
		"ip":    ip,
		"user":  callerID(c),
		"route": c.Request().Method + " " + c.Path(),
	}
	var order []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip", "user", "route":
		order = []string{strings.ToLower(cfg.KeyStrategy)}
	case "ip_user":
		order = []string{"ip", "user"}
	case "user_route":
		order = []string{"user", "route"}
	case "ip_user_route":
		order = []string{"ip", "user", "route"}
	default:
		order = []string{"ip", "route"}
	}
	parts := []string{cfg.Prefix}
	for _, d := range order {
		parts = append(parts, d, dims[d])
	}
	return strings.Join(parts, ":")
}
