package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/config"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestHealthHandler(storage Pinger) *HealthHandler {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	cfg.Storage.Backend = config.StorageBackendPostgres
	return NewHealthHandler(&HealthHandlerDeps{
		Config:        cfg,
		Storage:       storage,
		Collections:   []string{"actions", "risks"},
		Notifications: []string{"log"},
		Logger:        zap.NewNop(),
	})
}

func TestHealthHandler_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHealthHandler(stubPinger{}).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "postgres", resp.Storage)
}

func TestHealthHandler_Health_StorageDown(t *testing.T) {
	rec := httptest.NewRecorder()
	pinger := stubPinger{err: errors.New("dial postgres://review:hunter2@db:5432/review: refused")}
	newTestHealthHandler(pinger).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.NotContains(t, resp.Error, "hunter2")
}

func TestHealthHandler_Ping(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHealthHandler(nil).Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test-version", resp.Version)
	assert.Equal(t, "ekaya-review", resp.Service)
	assert.Equal(t, "test", resp.Environment)
	assert.Equal(t, []string{"actions", "risks"}, resp.Collections)
}

func TestHealthHandler_Routes(t *testing.T) {
	mux := http.NewServeMux()
	newTestHealthHandler(nil).RegisterRoutes(mux)

	for _, path := range []string{"/health", "/ping", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
