package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/api"
	"github.com/mjasion/balena-home/climatetwin/classify"
	"github.com/mjasion/balena-home/climatetwin/config"
	"github.com/mjasion/balena-home/climatetwin/panel"
	"github.com/mjasion/balena-home/climatetwin/pkg/buffer"
	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

type fakeBackend struct {
	roomErr     error
	settingsErr error
	saved       *api.AutomationSettings
	pingErr     error
	mlErr       error
	predictQ    api.MLPredictQuery
	daysBack    int
}

func (f *fakeBackend) Room(_ context.Context, id string) (api.RoomSnapshot, error) {
	if f.roomErr != nil {
		return api.RoomSnapshot{}, f.roomErr
	}
	return api.RoomSnapshot{ID: id, CurrentConditions: api.Conditions{Temperature: 21, Humidity: 50, CO2: 450, Light: 350}}, nil
}

func (f *fakeBackend) AutomationSettings(context.Context) (api.AutomationSettings, error) {
	if f.settingsErr != nil {
		return api.AutomationSettings{}, f.settingsErr
	}
	s := api.DefaultAutomationSettings()
	s.TargetTemperature = 23
	return s, nil
}

func (f *fakeBackend) UpdateAutomationSettings(_ context.Context, s api.AutomationSettings) (api.AutomationSettings, error) {
	if f.settingsErr != nil {
		return api.AutomationSettings{}, f.settingsErr
	}
	f.saved = &s
	return s, nil
}

func (f *fakeBackend) Predictions(_ context.Context, q api.PredictionQuery) (api.Chart, error) {
	if f.mlErr != nil {
		return api.Chart{}, f.mlErr
	}
	return api.Chart{Labels: []string{q.Model, q.Timeframe}}, nil
}

func (f *fakeBackend) MLPredict(_ context.Context, q api.MLPredictQuery) (api.MLPrediction, error) {
	f.predictQ = q
	if f.mlErr != nil {
		return api.MLPrediction{}, f.mlErr
	}
	return api.MLPrediction{ModelName: q.ModelName, HoursAhead: q.HoursAhead, Temperature: 24.2, Humidity: 58}, nil
}

func (f *fakeBackend) MLTrainingStats(_ context.Context, daysBack int) (api.TrainingStats, error) {
	f.daysBack = daysBack
	if f.mlErr != nil {
		return api.TrainingStats{}, f.mlErr
	}
	return api.TrainingStats{TotalRecords: 1200, Locations: []string{"F2"}}, nil
}

func (f *fakeBackend) Ping(context.Context) error {
	return f.pingErr
}

func newTestServer(t *testing.T, backend Backend, panels ...*panel.Panel) (*Server, *panel.Scheduler) {
	t.Helper()
	sched := panel.NewScheduler(zap.NewNop())
	for _, p := range panels {
		if err := sched.Add(p); err != nil {
			t.Fatalf("Expected no error adding panel, got %v", err)
		}
	}
	srv := New(Options{
		Panels:     sched,
		Backend:    backend,
		Thresholds: classify.DefaultThresholds,
		Grafana:    config.GrafanaConfig{URL: "http://grafana:3000", DashboardID: "climate", PanelID: "2"},
		Forecast: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "forecast page")
		}),
		Logger: zap.NewNop(),
	})
	return srv, sched
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Expected JSON body, got %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestOverviewHealthBarFromBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system/health/" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"critical","active_devices":3,"total_devices":12}`)
	}))
	defer backend.Close()

	client, err := api.New(api.Config{BaseURL: backend.URL, Timeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	health := panel.New(panel.Options{
		Name: panel.SystemHealth,
		Fetch: func(ctx context.Context) (any, error) {
			return client.SystemHealth(ctx)
		},
		Fallback: func() any { return api.FallbackSystemHealth() },
	}, zap.NewNop())
	health.Refresh(context.Background())

	srv, _ := newTestServer(t, &fakeBackend{}, health)
	rec := do(t, srv, http.MethodGet, "/", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "width: 25%") {
		t.Errorf("Expected bar width 25%%, body: %s", body)
	}
	if !strings.Contains(body, "#f44336") {
		t.Error("Expected critical red bar")
	}
	if !strings.Contains(body, "Perangkat aktif: 3/12") {
		t.Error("Expected device count")
	}
}

func TestHealthCardColor(t *testing.T) {
	tests := []struct {
		name    string
		health  api.SystemHealth
		percent string
		color   string
	}{
		{"status wins", api.SystemHealth{Status: classify.HealthCritical, ActiveDevices: 3, TotalDevices: 12}, "25", "#f44336"},
		{"unknown uses ratio", api.SystemHealth{Status: classify.HealthUnknown, ActiveDevices: 11, TotalDevices: 12}, "91.7", "#4caf50"},
		{"unknown warning tier", api.SystemHealth{Status: classify.HealthUnknown, ActiveDevices: 6, TotalDevices: 10}, "60", "#ff9800"},
		{"no devices", api.SystemHealth{Status: classify.HealthUnknown}, "0", "#f44336"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := NewHealthCard(tt.health)
			if card.Percent != tt.percent || card.Color != tt.color {
				t.Errorf("Expected %s%% %s, got %s%% %s", tt.percent, tt.color, card.Percent, card.Color)
			}
		})
	}
}

func TestOverviewShowsErrorBanner(t *testing.T) {
	p := panel.New(panel.Options{
		Name:         panel.Environmental,
		ErrorMessage: "Gagal memuat data lingkungan. Mencoba lagi dalam 30 detik.",
		Fetch:        func(context.Context) (any, error) { return nil, errors.New("down") },
		Fallback: func() any {
			return panel.EnvironmentView{Status: api.FallbackEnvironmentalStatus(), Weather: api.FallbackExternalWeather(), WeatherFallback: true}
		},
	}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Bind(ctx)
	p.Refresh(ctx)
	defer cancel()

	srv, _ := newTestServer(t, &fakeBackend{}, p)
	body := do(t, srv, http.MethodGet, "/", "").Body.String()

	if !strings.Contains(body, "Gagal memuat data lingkungan. Mencoba lagi dalam 30 detik.") {
		t.Error("Expected environmental error banner")
	}
	if !strings.Contains(body, "Suhu rata-rata: 22.5") {
		t.Error("Expected fallback temperature")
	}
}

func TestPanelsAPI(t *testing.T) {
	p := panel.New(panel.Options{Name: "a", Fetch: func(context.Context) (any, error) { return "ok", nil }}, zap.NewNop())
	p.Refresh(context.Background())
	srv, _ := newTestServer(t, &fakeBackend{}, p)

	list := decode(t, do(t, srv, http.MethodGet, "/api/panels", ""))
	if items, ok := list["items"].([]any); !ok || len(items) != 1 {
		t.Errorf("Expected one panel, got %v", list)
	}

	one := decode(t, do(t, srv, http.MethodGet, "/api/panels/a", ""))
	if one["phase"] != "success" || one["data"] != "ok" {
		t.Errorf("Unexpected panel state: %v", one)
	}

	if rec := do(t, srv, http.MethodGet, "/api/panels/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/api/panels/a/refresh", ""); rec.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/api/panels/missing/refresh", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestRoomEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{})
	out := decode(t, do(t, srv, http.MethodGet, "/api/rooms/F2", ""))
	room := out["room"].(map[string]any)
	if room["id"] != "F2" || room["status"] != "optimal" || room["fallback"] != false {
		t.Errorf("Unexpected room: %v", room)
	}
	if _, ok := out["error"]; ok {
		t.Error("Expected no error on success")
	}
}

func TestRoomEndpointFallback(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{roomErr: errors.New("down")})
	rec := do(t, srv, http.MethodGet, "/api/rooms/G5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with fallback, got %d", rec.Code)
	}
	out := decode(t, rec)
	room := out["room"].(map[string]any)
	if room["id"] != "G5" || room["status"] != "unknown" || room["fallback"] != true {
		t.Errorf("Unexpected fallback room: %v", room)
	}
	if out["error"] == nil {
		t.Error("Expected fallback error message")
	}
}

func TestSettings(t *testing.T) {
	backend := &fakeBackend{}
	srv, _ := newTestServer(t, backend)

	out := decode(t, do(t, srv, http.MethodGet, "/api/settings", ""))
	if out["fallback"] != false || out["settings"].(map[string]any)["target_temperature"] != 23.0 {
		t.Errorf("Unexpected settings: %v", out)
	}

	rec := do(t, srv, http.MethodPut, "/api/settings", `{"target_temperature": 25, "temperature_control": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if backend.saved == nil || backend.saved.TargetTemperature != 25 {
		t.Errorf("Expected settings forwarded, got %+v", backend.saved)
	}

	if rec := do(t, srv, http.MethodPut, "/api/settings", "{bad"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid payload, got %d", rec.Code)
	}
}

func TestSettingsFallback(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{settingsErr: &api.Error{Kind: api.KindStatus, StatusCode: http.StatusUnauthorized}})

	out := decode(t, do(t, srv, http.MethodGet, "/api/settings", ""))
	if out["fallback"] != true || out["settings"].(map[string]any)["target_temperature"] != 24.0 {
		t.Errorf("Expected default settings, got %v", out)
	}

	if rec := do(t, srv, http.MethodPut, "/api/settings", `{}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestGrafanaAndForecastRoutes(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{})

	out := decode(t, do(t, srv, http.MethodGet, "/grafana?room=F2&theme=dark", ""))
	embed, _ := out["url"].(string)
	if !strings.HasPrefix(embed, "http://grafana:3000/d/climate?") || !strings.Contains(embed, "var-location=F2") || !strings.HasSuffix(embed, "&kiosk") {
		t.Errorf("Unexpected embed URL: %s", embed)
	}

	if body := do(t, srv, http.MethodGet, "/forecast", "").Body.String(); body != "forecast page" {
		t.Errorf("Expected forecast handler, got %q", body)
	}

	bare := New(Options{Panels: panel.NewScheduler(zap.NewNop()), Backend: &fakeBackend{}, Logger: zap.NewNop()})
	if rec := do(t, bare, http.MethodGet, "/grafana", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without grafana config, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{pingErr: errors.New("refused")})
	out := decode(t, do(t, srv, http.MethodGet, "/health", ""))
	if out["status"] != "ok" || out["backend"] != "unreachable" {
		t.Errorf("Unexpected health: %v", out)
	}
}

func TestWebSocketStream(t *testing.T) {
	release := make(chan struct{})
	p := panel.New(panel.Options{Name: "a", Fetch: func(context.Context) (any, error) {
		<-release
		return "fresh", nil
	}}, zap.NewNop())
	srv, sched := newTestServer(t, &fakeBackend{}, p)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Expected no error dialing, got %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "snapshot" {
		t.Fatalf("Expected snapshot, got %q (%v)", msg.Type, err)
	}

	deadline := time.Now().Add(time.Second)
	for srv.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	sched.Trigger("a")
	close(release)

	for {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Expected panel update, got %v", err)
		}
		var st panel.State
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatalf("Expected panel state, got %v", err)
		}
		if msg.Type == "panel" && st.Phase == panel.PhaseSuccess {
			if st.Data != "fresh" {
				t.Errorf("Expected fresh data, got %v", st.Data)
			}
			return
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := buffer.New[*types.Reading](2, zap.NewNop())
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	history.Add(&types.Reading{Type: types.ReadingTypeHealth, Health: &types.HealthReading{Timestamp: at, Status: "good"}})
	history.Add(&types.Reading{Type: types.ReadingTypeRoom, Room: &types.RoomReading{Timestamp: at.Add(time.Minute), RoomID: "F2"}})
	history.Add(&types.Reading{Type: types.ReadingTypeRoom, Room: &types.RoomReading{Timestamp: at.Add(2 * time.Minute), RoomID: "G5"}})

	srv := New(Options{
		Panels:  panel.NewScheduler(zap.NewNop()),
		Backend: &fakeBackend{},
		History: history,
		Logger:  zap.NewNop(),
	})

	out := decode(t, do(t, srv, http.MethodGet, "/api/history?type=room", ""))
	items, _ := out["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("Expected 2 room readings, got %v", out)
	}
	first := items[0].(map[string]any)["room"].(map[string]any)
	if first["room_id"] != "F2" {
		t.Errorf("Expected oldest reading first, got %v", first)
	}

	out = decode(t, do(t, srv, http.MethodGet, "/api/history?type=health", ""))
	if items, _ := out["items"].([]any); len(items) != 0 {
		t.Errorf("Expected overwritten health reading gone, got %v", items)
	}

	if rec := do(t, srv, http.MethodGet, "/api/history?type=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	health := decode(t, do(t, srv, http.MethodGet, "/health", ""))
	stats := health["history"].(map[string]any)
	if stats["size"] != 2.0 || stats["capacity"] != 2.0 || stats["dropped"] != 1.0 {
		t.Errorf("Unexpected history stats: %v", stats)
	}
	if stats["last_reading"] != "2025-03-01T08:02:00Z" {
		t.Errorf("Expected last reading timestamp, got %v", stats["last_reading"])
	}
}

func TestHistoryRouteDisabled(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{})
	if rec := do(t, srv, http.MethodGet, "/api/history", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without history, got %d", rec.Code)
	}
}

func TestResponsesCompressed(t *testing.T) {
	big := strings.Repeat("suhu ", 1000)
	p := panel.New(panel.Options{Name: "a", Fetch: func(context.Context) (any, error) { return big, nil }}, zap.NewNop())
	p.Refresh(context.Background())
	srv, _ := newTestServer(t, &fakeBackend{}, p)

	req := httptest.NewRequest(http.MethodGet, "/api/panels/a", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Expected gzip encoding, got %q", got)
	}
}

func TestMLRoutes(t *testing.T) {
	backend := &fakeBackend{}
	srv, _ := newTestServer(t, backend)

	out := decode(t, do(t, srv, http.MethodGet, "/api/ml/predict?model_name=random_forest&hours_ahead=6&location=F2", ""))
	prediction := out["prediction"].(map[string]any)
	if prediction["temperature"] != 24.2 || prediction["hours_ahead"] != 6.0 {
		t.Errorf("Unexpected prediction: %v", prediction)
	}
	if backend.predictQ.Location != "F2" || backend.predictQ.ModelName != "random_forest" {
		t.Errorf("Expected query forwarded, got %+v", backend.predictQ)
	}

	decode(t, do(t, srv, http.MethodGet, "/api/ml/predict?model_name=lstm", ""))
	if backend.predictQ.HoursAhead != 1 {
		t.Errorf("Expected default of 1 hour ahead, got %d", backend.predictQ.HoursAhead)
	}

	if rec := do(t, srv, http.MethodGet, "/api/ml/predict", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without model name, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/ml/predict?model_name=x&hours_ahead=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero hours, got %d", rec.Code)
	}

	out = decode(t, do(t, srv, http.MethodGet, "/api/ml/training-stats", ""))
	if out["stats"].(map[string]any)["total_records"] != 1200.0 || backend.daysBack != 30 {
		t.Errorf("Unexpected training stats %v (days %d)", out, backend.daysBack)
	}

	out = decode(t, do(t, srv, http.MethodGet, "/api/predictions", ""))
	labels := out["chart"].(map[string]any)["labels"].([]any)
	if labels[0] != "random_forest" || labels[1] != "24h" {
		t.Errorf("Expected default prediction query, got %v", labels)
	}
}

func TestMLRoutesUpstreamFailure(t *testing.T) {
	srv, _ := newTestServer(t, &fakeBackend{mlErr: errors.New("down")})
	if rec := do(t, srv, http.MethodGet, "/api/ml/training-stats?days_back=7", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}

	srv, _ = newTestServer(t, &fakeBackend{mlErr: &api.Error{Kind: api.KindStatus, StatusCode: http.StatusUnauthorized}})
	if rec := do(t, srv, http.MethodGet, "/api/ml/predict?model_name=x", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestSettingsBodyLimit(t *testing.T) {
	backend := &fakeBackend{}
	srv, _ := newTestServer(t, backend)

	body := `{"mode":"` + strings.Repeat("a", maxSettingsBody) + `"}`
	if rec := do(t, srv, http.MethodPut, "/api/settings", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
	if backend.saved != nil {
		t.Error("Expected oversized settings not forwarded")
	}
}
