package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/als-computing/splash-server/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MongoDB.InMemory = true
	cfg.Auth.TokenSecret = "main-test-secret-xxxxxxxxxxxxxxxxxx"
	cfg.Auth.AccessTokenTTL = time.Minute
	cfg.Auth.AllowInsecure = true
	cfg.Server.CORSOrigins = []string{"*"}
	return cfg
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouterInMemory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := setup(context.Background(), testConfig())
	require.NoError(t, err)
	r := a.router()

	assert.Equal(t, http.StatusOK, get(t, r, "/health").Code)

	w := get(t, r, "/ready")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Deps map[string]bool `json:"deps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Deps["oidc"], "insecure verifier is enabled")

	assert.Equal(t, http.StatusOK, get(t, r, "/swagger/doc.json").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, r, "/api/v1/pages").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/api/v1/settings").Code)
}

func TestReadyReportsRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := miniredis.Run()
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(m.Addr())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Redis.Host, cfg.Redis.Port = host, port
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 100, Burst: 100, UseRedis: true, WindowSeconds: 1}
	a, err := setup(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, a.redis)
	r := a.router()

	assert.Equal(t, http.StatusOK, get(t, r, "/ready").Code)
	m.Close()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/ready").Code)
}
