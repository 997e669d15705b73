package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/pkg/config"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/relayer"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubEngine struct {
	ready   bool
	workers []relayer.WorkerStatus
}

func (e stubEngine) IsReady() bool                  { return e.ready }
func (e stubEngine) Health() []relayer.WorkerStatus { return e.workers }

func newTestRouter(store, source pinger, engine engineStatus, gas *config.GasProfile, monitoring bool) http.Handler {
	srv := NewServer(&config.Config{
		Monitoring: config.MonitoringConfig{Enabled: monitoring},
	})
	return srv.newRouter(store, source, engine, gas, zap.NewNop())
}

func TestLivez(t *testing.T) {
	handler := newTestRouter(stubPinger{}, stubPinger{}, stubEngine{ready: true}, nil, false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		store    stubPinger
		engine   stubEngine
		wantCode int
		wantBody string
	}{
		{
			name:     "engine not started",
			engine:   stubEngine{ready: false},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "NOT_READY",
		},
		{
			name:     "store unreachable",
			store:    stubPinger{err: errors.New("connection refused")},
			engine:   stubEngine{ready: true},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "STORE_UNAVAILABLE",
		},
		{
			name:     "ready",
			engine:   stubEngine{ready: true},
			wantCode: http.StatusOK,
			wantBody: "READY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestRouter(tt.store, stubPinger{}, tt.engine, nil, false)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHealth(t *testing.T) {
	engine := stubEngine{
		ready: true,
		workers: []relayer.WorkerStatus{{
			Stage:      relayer.StageBridgeInitiated,
			Origin:     db.OriginEthereum,
			LastRun:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Progressed: true,
		}},
	}
	gas := &config.GasProfile{
		Price:      big.NewInt(250_000_000),
		Limit:      big.NewInt(800_000),
		PerPubdata: big.NewInt(50_000),
	}
	handler := newTestRouter(stubPinger{}, stubPinger{err: errors.New("indexer down")}, engine, gas, false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, Version, got.Version)
	require.True(t, got.Ready)
	require.Equal(t, "ok", got.Store)
	require.Equal(t, "indexer down", got.Indexer)
	require.Equal(t, map[string]string{
		"price":       "250000000",
		"limit":       "800000",
		"per_pubdata": "50000",
	}, got.L2Gas)
	require.Len(t, got.Workers, 1)
	require.Equal(t, relayer.StageBridgeInitiated, got.Workers[0].Stage)
	require.Equal(t, db.OriginEthereum, got.Workers[0].Origin)
}

func TestMetricsToggle(t *testing.T) {
	enabled := newTestRouter(stubPinger{}, stubPinger{}, stubEngine{ready: true}, nil, true)
	rec := httptest.NewRecorder()
	enabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())

	disabled := newTestRouter(stubPinger{}, stubPinger{}, stubEngine{ready: true}, nil, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
