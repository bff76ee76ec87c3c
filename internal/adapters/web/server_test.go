package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaxwellDPS/flocksense/internal/adapters/reporting"
	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
)

type fakeStore struct {
	detections []domain.Detection
	lastFilter ports.DetectionFilter
	lastMax    int
}

func (f *fakeStore) Get(ctx context.Context, protocol domain.Protocol, identity string) (*domain.Detection, error) {
	for i := range f.detections {
		if f.detections[i].Protocol == protocol && f.detections[i].Identity == identity {
			return &f.detections[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) Snapshot(ctx context.Context, max int) []domain.Detection {
	f.lastMax = max
	return f.detections
}

func (f *fakeStore) List(ctx context.Context, filter ports.DetectionFilter) []domain.Detection {
	f.lastFilter = filter
	return f.detections
}

type fakeEnv struct{ env domain.Environment }

func (f fakeEnv) Environment() domain.Environment { return f.env }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDetections() []domain.Detection {
	return []domain.Detection{
		{
			ID:         "det-1",
			Protocol:   domain.ProtocolWiFi,
			Identity:   "aa:bb:cc:dd:ee:ff",
			DeviceType: domain.DeviceRogueAP,
			Category:   domain.CategorySurveillance,
			Method:     domain.MethodHeuristic,
			Level:      domain.LevelHigh,
			Score:      domain.ThreatScore{Value: 75},
			Active:     true,
		},
	}
}

func newTestServer(store *fakeStore, env EnvironmentProvider) *Server {
	return NewServer("127.0.0.1:0", store, env, reporting.NewPDFReporter(), quietLogger())
}

func TestHandleList(t *testing.T) {
	store := &fakeStore{detections: testDetections()}
	s := newTestServer(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/detections?protocol=wifi&min_level=HIGH&active=true", nil)
	rec := httptest.NewRecorder()
	s.handleList(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, ports.DetectionFilter{
		Protocol:   domain.ProtocolWiFi,
		MinLevel:   domain.LevelHigh,
		ActiveOnly: true,
	}, store.lastFilter)

	var out []domain.Detection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "det-1", out[0].ID)
}

func TestHandleGet(t *testing.T) {
	s := newTestServer(&fakeStore{detections: testDetections()}, nil)

	req := mux.SetURLVars(
		httptest.NewRequest(http.MethodGet, "/api/detections/wifi/aa:bb:cc:dd:ee:ff", nil),
		map[string]string{"protocol": "wifi", "identity": "aa:bb:cc:dd:ee:ff"})
	rec := httptest.NewRecorder()
	s.handleGet(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out domain.Detection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, domain.LevelHigh, out.Level)

	req = mux.SetURLVars(
		httptest.NewRequest(http.MethodGet, "/api/detections/ble/nope", nil),
		map[string]string{"protocol": "ble", "identity": "nope"})
	rec = httptest.NewRecorder()
	s.handleGet(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSnapshot(t *testing.T) {
	store := &fakeStore{detections: testDetections()}
	s := newTestServer(store, nil)

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot?max=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.lastMax)
}

func TestHandleEnvironment(t *testing.T) {
	s := newTestServer(&fakeStore{}, fakeEnv{env: domain.EnvUrban})

	rec := httptest.NewRecorder()
	s.handleEnvironment(rec, httptest.NewRequest(http.MethodGet, "/api/environment", nil))
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "urban", out["environment"])

	// No provider wired yet: report unknown rather than failing.
	bare := newTestServer(&fakeStore{}, nil)
	rec = httptest.NewRecorder()
	bare.handleEnvironment(rec, httptest.NewRequest(http.MethodGet, "/api/environment", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "unknown", out["environment"])
}

func TestHandleReport(t *testing.T) {
	s := newTestServer(&fakeStore{detections: testDetections()}, nil)

	rec := httptest.NewRecorder()
	s.handleReport(rec, httptest.NewRequest(http.MethodGet, "/api/report", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"), "response carries a PDF document")
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestNotifyWithoutClients(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)
	s.NotifyLevelChange(context.Background(), testDetections()[0], domain.LevelMedium)
}

func TestCheckOrigin(t *testing.T) {
	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = "sensor.example:9090"
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	t.Run("no origin header", func(t *testing.T) {
		assert.True(t, checkOrigin(request("")))
	})
	t.Run("same origin", func(t *testing.T) {
		// Browsers always send Origin on websocket upgrades; a request
		// back to its own host must pass.
		assert.True(t, checkOrigin(request("http://sensor.example:9090")))
	})
	t.Run("allowed loopback", func(t *testing.T) {
		assert.True(t, checkOrigin(request("http://localhost:8080")))
	})
	t.Run("cross origin", func(t *testing.T) {
		assert.False(t, checkOrigin(request("http://evil.example")))
	})
}
