package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/logger"
)

const testSecret = "test-secret"

func signed(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func protected() *echo.Echo {
	e := echo.New()
	e.GET("/ops", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(CtxOperator).(string))
	}, JWTAuth(testSecret), RequireRole(RoleOperator))
	return e
}

func TestJWTAuth(t *testing.T) {
	e := protected()
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("missing header", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/ops", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid operator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ana", "role": RoleOperator, "exp": exp}))
		rec := serve(e, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ana", rec.Body.String())
	})

	t.Run("wrong role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ana", "role": "BUYER", "exp": exp}))
		assert.Equal(t, http.StatusForbidden, serve(e, req).Code)
	})

	t.Run("expired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ana", "role": RoleOperator, "exp": time.Now().Add(-time.Minute).Unix()}))
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})

	t.Run("other algorithm", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed(t, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "ana", "role": RoleOperator, "exp": exp}))
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})

	t.Run("missing subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"role": RoleOperator, "exp": exp}))
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, logger.RequestID(c.Request().Context()))
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	minted := rec.Header().Get(echo.HeaderXRequestID)
	assert.NotEmpty(t, minted)
	assert.Equal(t, minted, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec = serve(e, req)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "abc-123", rec.Body.String())
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	e.Use(RequestID(), AccessLog(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError, "boom") })

	serve(e, httptest.NewRequest(http.MethodGet, "/ok", nil))
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok", entries[0].ContextMap()["route"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.EqualValues(t, 500, entries[1].ContextMap()["status"])
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/settlements", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/settlements")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_route"}
	assert.Equal(t, "rl:ip:10.0.0.7:route:POST /v1/settlements", buildRateKey(cfg, c))

	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:guest", buildRateKey(cfg, c))

	cfg.KeyStrategy = "unknown"
	assert.Equal(t, "rl:ip:10.0.0.7:route:POST /v1/settlements", buildRateKey(cfg, c))

	c.Set(CtxOperator, "ana")
	assert.Equal(t, "rl:ip:10.0.0.7:route:POST /v1/settlements", buildRateKey(cfg, c), "strategy decides the dimensions, not the caller")

	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:op:ana", buildRateKey(cfg, c))

	cfg.KeyStrategy = "user_route"
	assert.Equal(t, "rl:user:op:ana:route:POST /v1/settlements", buildRateKey(cfg, c))
}

func TestToDecision(t *testing.T) {
	d, err := toDecision([]int64{1, 4, 0})
	require.NoError(t, err)
	assert.True(t, d.allowed)
	assert.EqualValues(t, 4, d.remaining)

	d, err = toDecision([]int64{0, 0, 2500})
	require.NoError(t, err)
	assert.False(t, d.allowed)
	assert.Equal(t, 2500*time.Millisecond, d.retry)
	assert.Equal(t, 3, retryAfterSeconds(d.retry))
	assert.Equal(t, 0, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(time.Second))

	_, err = toDecision([]int64{1})
	assert.Error(t, err)
}

func TestDisabledMiddlewarePassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, nil),
		NewRedisCache(config.CacheConfig{Enabled: true}, nil))
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestTeeWriterStopsCopyingPastLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &teeWriter{ResponseWriter: rec, status: http.StatusOK, limit: 8}
	_, _ = tw.Write([]byte("12345"))
	assert.False(t, tw.truncated)
	_, _ = tw.Write([]byte("67890"))
	assert.True(t, tw.truncated)
	assert.Zero(t, tw.buf.Len())
	assert.Equal(t, "1234567890", rec.Body.String())
}

func TestCacheKeyStrategies(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/tickets/sold?x=1", nil), httptest.NewRecorder())
	c.SetPath("/v1/tickets/sold")

	byQuery := (&responseCache{cfg: config.CacheConfig{Prefix: "board", KeyStrategy: "route_query"}}).key(c)
	byRoute := (&responseCache{cfg: config.CacheConfig{Prefix: "board", KeyStrategy: "route"}}).key(c)
	assert.True(t, strings.HasPrefix(byQuery, "board:"))
	assert.Len(t, byQuery, len("board:")+40)
	assert.NotEqual(t, byQuery, byRoute)

	c2 := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/tickets/sold?x=2", nil), httptest.NewRecorder())
	c2.SetPath("/v1/tickets/sold")
	assert.Equal(t, byRoute, (&responseCache{cfg: config.CacheConfig{Prefix: "board", KeyStrategy: "route"}}).key(c2))
}

func TestReplaySkipsContentLength(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	err := replay(c, &cachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}, "Content-Length": {"999"}},
		Body:   []byte(`{"sold":[]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Equal(t, `{"sold":[]}`, rec.Body.String())
}
