package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/exchanges"
	"github.com/aristath/perptrack/internal/modules/analytics"
	"github.com/aristath/perptrack/internal/modules/markets"
	"github.com/aristath/perptrack/internal/modules/marketstats"
	"github.com/aristath/perptrack/internal/tracker"
)

type idleAdapter struct {
	name string
}

func (a *idleAdapter) Name() string                                { return a.name }
func (a *idleAdapter) Kind() exchanges.Kind                        { return exchanges.KindPull }
func (a *idleAdapter) SnapshotInterval() time.Duration             { return time.Minute }
func (a *idleAdapter) Start(context.Context, exchanges.Sink) error { return nil }
func (a *idleAdapter) Stop() error                                 { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	writeDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "write.db"),
		Profile: database.ProfileWrite,
		Name:    "write",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writeDB.Close() })
	require.NoError(t, writeDB.Migrate())

	readDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "read.db"),
		Profile: database.ProfileRead,
		Name:    "read",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = readDB.Close() })
	require.NoError(t, readDB.Migrate())

	log := zerolog.Nop()
	statsRepo := marketstats.NewRepository(writeDB, log)
	statusRepo := tracker.NewStatusRepository(readDB, log)

	manager := tracker.NewManager(
		[]exchanges.Adapter{&idleAdapter{name: "vertex"}},
		statsRepo, statusRepo,
		tracker.Config{ReconnectDelay: time.Millisecond, ReconnectMaxAttempts: 1},
		log,
	)
	t.Cleanup(manager.StopAll)

	handler := markets.NewHandler(
		markets.NewRepository(readDB, log),
		statsRepo,
		analytics.NewRepository(readDB, log),
		statusRepo,
		log,
	)

	return New(Config{
		Port:    0,
		Log:     log,
		Markets: handler,
		Manager: manager,
		WriteDB: writeDB,
		ReadDB:  readDB,
		DevMode: true,
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, srv *Server, method, path string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	code, resp := do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}

func TestUnknownRouteReturns404Envelope(t *testing.T) {
	srv := newTestServer(t)

	code, resp := do(t, srv, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "not found", resp.Error)
}

func TestAPIMounted(t *testing.T) {
	srv := newTestServer(t)

	code, resp := do(t, srv, http.MethodGet, "/api/latest")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "[]", string(resp.Data))
}

func TestSystemHealth(t *testing.T) {
	srv := newTestServer(t)

	code, resp := do(t, srv, http.MethodGet, "/api/system/health")
	assert.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)

	var health systemHealth
	require.NoError(t, json.Unmarshal(resp.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.WriteDB)
	assert.Equal(t, "ok", health.ReadDB)
}

func TestTrackerLifecycleRoutes(t *testing.T) {
	srv := newTestServer(t)

	code, resp := do(t, srv, http.MethodGet, "/tracker/vertex/status")
	assert.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)

	var status domain.TrackerStatus
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, domain.StateInitialized, status.State)

	_, resp = do(t, srv, http.MethodPost, "/tracker/vertex/start")
	require.True(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, domain.StateRunning, status.State)

	_, resp = do(t, srv, http.MethodGet, "/tracker/vertex/debug")
	assert.True(t, resp.Success)

	_, resp = do(t, srv, http.MethodPost, "/tracker/vertex/stop")
	require.True(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, domain.StateStopped, status.State)
}

func TestTrackerRoutesUnknownExchange(t *testing.T) {
	srv := newTestServer(t)

	// unknown exchange is an expected failure, not a 404
	code, resp := do(t, srv, http.MethodGet, "/tracker/binance/status")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown exchange")
}
