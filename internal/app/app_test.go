package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/inventory/inventorytest"
	"github.com/consignhub/consignhub/internal/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/stock")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, 5*time.Second, cfg.DocNoLockTTL)
	require.Equal(t, "0 2 * * *", cfg.JobReconcileCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "doc_no", "DN-202401-0001")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "DN-202401-0001", entry["doc_no"])
}

func newTestRouter(t *testing.T, cfg *Config, ready func(*http.Request) error) (http.Handler, *inventorytest.Store) {
	t.Helper()
	store := inventorytest.New()
	svc := inventory.NewService(store, nil, nil, nil, nil)
	var buf bytes.Buffer
	router := NewRouter(RouterParams{
		Logger:           newLogger(cfg, &buf),
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(nil, svc),
		Metrics:          observability.NewMetrics(),
		Ready:            ready,
	})
	return router, store
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "consignhub_http_requests_total")
}

func TestRouterReportsUnready(t *testing.T) {
	router, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, func(*http.Request) error { return errors.New("db down") })
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterWithoutLoggerReportsUnready(t *testing.T) {
	router := NewRouter(RouterParams{
		Config: &Config{RateLimitPerMinute: 100},
		Ready:  func(*http.Request) error { return errors.New("db down") },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterMountsStockRoutes(t *testing.T) {
	router, store := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)
	store.Seed(inventory.Branch(1), 7, "20")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/branch/1/balances/7", nil)
	req.Header.Set(ActorHeader, "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"20"`)
}

func TestActorHeaderMustBeNumeric(t *testing.T) {
	router, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/branch/1/balances", nil)
	req.Header.Set(ActorHeader, "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, &Config{RateLimitPerMinute: 2}, nil)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(TestModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "0")
	EnableTestMode()
	require.False(t, InTestMode(), "an explicit value wins")

	t.Setenv(TestModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
