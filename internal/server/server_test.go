package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/artifacts"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := artifacts.Open(filepath.Join(t.TempDir(), "artifacts.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(Config{Port: 0, Log: zerolog.Nop(), Artifacts: store, CacheDir: t.TempDir(), DevMode: true})
}

func TestHandleHealthReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleRecentRunsReturnsIndexedRuns(t *testing.T) {
	s := newTestServer(t)
	_, err := s.artifacts.RecordRun(context.Background(), artifacts.Run{Strategy: "momentum", FinalEquity: 1_200_000})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/?strategy=momentum", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var runs []artifacts.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 1_200_000.0, runs[0].FinalEquity)
}

func TestHandleLatestArtifactReturns404WhenMissing(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts/momentum/latest", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLatestArtifactServesPersistedJSON(t *testing.T) {
	s := newTestServer(t)
	dir := filepath.Join(s.cacheDir, "momentum")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest_result.json"), []byte(`{"strategy":"momentum"}`), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/artifacts/momentum/latest", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"strategy":"momentum"}`, rec.Body.String())
}
