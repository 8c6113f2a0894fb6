package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/raffle-settlement/internal/config"
)

// cachedResponse is what is stored per key.
type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h"`
	Body   []byte      `json:"b"`
}

// teeWriter forwards to the client and keeps a copy of up to limit bytes.
type teeWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *teeWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *teeWriter) Write(b []byte) (int, error) {
	if !w.truncated {
		if w.limit > 0 && w.buf.Len()+len(b) > w.limit {
			w.truncated = true
			w.buf.Reset()
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// responseCache holds the board cache state shared by all requests.
type responseCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
}

func (rc *responseCache) key(c echo.Context) string {
	r := c.Request()
	var parts []string
	switch rc.cfg.KeyStrategy {
	case "route":
		parts = []string{c.Path()}
	case "method_route":
		parts = []string{r.Method, c.Path()}
	case "method_route_query":
		parts = []string{r.Method, c.Path(), r.URL.RawQuery}
	default:
		parts = []string{c.Path(), r.URL.RawQuery}
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return rc.cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

func (rc *responseCache) lookup(ctx context.Context, key string) (*cachedResponse, bool) {
	bs, err := rc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cr cachedResponse
	if err := json.Unmarshal(bs, &cr); err != nil || cr.Status == 0 {
		return nil, false
	}
	return &cr, true
}

func (rc *responseCache) store(ctx context.Context, key string, cr cachedResponse) {
	bs, err := json.Marshal(cr)
	if err != nil {
		return
	}
	_ = rc.rdb.Set(ctx, key, bs, rc.cfg.TTL).Err()
}

// replay writes a cached response.  Content-Length is left to echo.
func replay(c echo.Context, cr *cachedResponse) error {
	h := c.Response().Header()
	for k, vals := range cr.Header {
		if strings.EqualFold(k, echo.HeaderContentLength) {
			continue
		}
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	h.Set("X-Cache", "HIT")
	c.Response().WriteHeader(cr.Status)
	_, err := c.Response().Write(cr.Body)
	return err
}

// NewRedisCache serves repeated GETs of the sold board from Redis for a few
// seconds.  Only 200 responses within MaxBodyBytes are stored.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil || cfg.TTL <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	rc := &responseCache{cfg: cfg, rdb: rdb}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[c.Request().Method] {
				return next(c)
			}
			ctx := c.Request().Context()
			key := rc.key(c)
			if cr, ok := rc.lookup(ctx, key); ok {
				return replay(c, cr)
			}

			tw := &teeWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = tw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if tw.status != http.StatusOK || tw.truncated {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			rc.store(context.WithoutCancel(ctx), key, cachedResponse{Status: tw.status, Header: hdr, Body: tw.buf.Bytes()})
			return nil
		}
	}
}
