package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/patchroom/internal/adapters/signal"
	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/config"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliverer struct{}

func (deliverer) TrySend(core.Frame) error { return nil }

func setup(t *testing.T) (*gin.Engine, *app.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	dir := app.NewRegistry()
	ctl := signal.NewSignalWSController(dir, nil, signal.NewMetrics(reg))
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	return SetupRouter(context.Background(), cfg, ctl, dir, reg), dir
}

func TestPeerLookup(t *testing.T) {
	r, dir := setup(t)
	require.NoError(t, dir.Claim(context.Background(), "patchroom-AB23-host", deliverer{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/peers/patchroom-AB23-host", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"patchroom-AB23-host","registered":true}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/peers/patchroom-ZZZZ-host", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := setup(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.True(t, strings.Contains(string(body), "patchroom_signal_connections"))
}

func TestClientTokenCookie(t *testing.T) {
	r, _ := setup(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "PatchroomSessions=")
}
