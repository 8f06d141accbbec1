package observerapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/operation"
	"github.com/whit3rabbit/specsync/pkg/syncservice"
)

func testServer(t *testing.T) *Server {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Workspace = dir
	cfg.Observer.Listen = "127.0.0.1:0"

	svc := syncservice.New(cfg, zerolog.Nop(), observability.NoopTracer(), func(ctx context.Context, op *operation.Operation) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}, observability.NewMetrics())
	require.NoError(t, svc.Initialize(context.Background(), dir))

	s, err := New(cfg.Observer, svc, observability.NewMetrics(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestMethodGuardRejectsNonGET(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusRequiresBearerToken(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusSucceedsWithValidToken(t *testing.T) {
	s := testServer(t)
	token, err := s.Token(time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRouteIsUnauthenticated(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConflictsRouteReturnsEmptyListInitially(t *testing.T) {
	s := testServer(t)
	token, err := s.Token(time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/conflicts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflicts")
}
