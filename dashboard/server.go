// Package dashboard serves the panels as an HTML overview, a JSON API and a
// WebSocket update stream.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/api"
	"github.com/mjasion/balena-home/climatetwin/classify"
	"github.com/mjasion/balena-home/climatetwin/config"
	"github.com/mjasion/balena-home/climatetwin/panel"
	"github.com/mjasion/balena-home/climatetwin/pkg/telemetry"
	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

const (
	requestTimeout  = 20 * time.Second
	maxSettingsBody = 64 << 10
)

// Panels is the panel registry the server reads from
type Panels interface {
	States() []panel.State
	Panel(name string) (*panel.Panel, bool)
	Trigger(name string) bool
	Subscribe(fn func(panel.State))
}

// Backend is the part of the API client used on demand
type Backend interface {
	Room(ctx context.Context, id string) (api.RoomSnapshot, error)
	AutomationSettings(ctx context.Context) (api.AutomationSettings, error)
	UpdateAutomationSettings(ctx context.Context, s api.AutomationSettings) (api.AutomationSettings, error)
	Predictions(ctx context.Context, q api.PredictionQuery) (api.Chart, error)
	MLPredict(ctx context.Context, q api.MLPredictQuery) (api.MLPrediction, error)
	MLTrainingStats(ctx context.Context, daysBack int) (api.TrainingStats, error)
	Ping(ctx context.Context) error
}

// Options wires the server
type Options struct {
	Panels     Panels
	Backend    Backend
	Thresholds classify.Thresholds
	Grafana    config.GrafanaConfig
	// Forecast serves the BMKG forecast page. Nil disables the route.
	Forecast http.Handler
	// Exporter reports the metrics export status. Optional.
	Exporter Exporter
	// History holds recent readings. Nil disables /api/history.
	History History
	Logger  *zap.Logger
}

// History is the in-memory buffer of recent readings
type History interface {
	Snapshot() []*types.Reading
	Latest() (*types.Reading, bool)
	Stats() (size, capacity int, dropped uint64)
}

// Exporter is the readings exporter
type Exporter interface {
	LastPushTime() time.Time
}

// Server is the dashboard HTTP server
type Server struct {
	opts   Options
	hub    *Hub
	logger *zap.Logger
	now    func() time.Time
}

// New creates a server and subscribes its WebSocket hub to every panel
func New(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}
	s.hub = NewHub(opts.Panels.States, opts.Logger)
	opts.Panels.Subscribe(s.hub.Publish)
	return s
}

// Handler builds the routing tree
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverJSON(s.logger))
	r.Use(requestLogger(s.logger))

	r.Get("/ws", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(gziphandler.GzipHandler)

		r.Get("/", s.overview)
		r.Get("/health", s.health)
		r.Get("/grafana", s.grafana)
		if s.opts.Forecast != nil {
			r.Method(http.MethodGet, "/forecast", s.opts.Forecast)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/panels", s.listPanels)
			r.Get("/panels/{name}", s.getPanel)
			r.Post("/panels/{name}/refresh", s.refreshPanel)
			r.Get("/rooms/{id}", s.getRoom)
			r.Get("/settings", s.getSettings)
			r.Put("/settings", s.putSettings)
			r.Get("/predictions", s.getPredictions)
			r.Get("/ml/predict", s.mlPredict)
			r.Get("/ml/training-stats", s.mlTrainingStats)
			if s.opts.History != nil {
				r.Get("/history", s.getHistory)
			}
		})
	})

	return otelhttp.NewHandler(r, "dashboard")
}

// Run serves on addr until ctx is done, then shuts down within shutdownTimeout
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard server failed: %w", err)
		}
		return nil
	}
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	o := newOverview(s.opts.Panels.States(), s.opts.Grafana.EmbedURL("", r.URL.Query().Get("theme")), s.now())

	var buf bytes.Buffer
	if err := renderOverview(&buf, o); err != nil {
		telemetry.ErrorWithTrace(r.Context(), s.logger, "failed to render overview", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render_failed", "Failed to render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	backend := "ok"
	if err := s.opts.Backend.Ping(ctx); err != nil {
		telemetry.WarnWithTrace(ctx, s.logger, "backend health check failed", zap.Error(err))
		backend = "unreachable"
	}

	panels := make(map[string]panel.Phase)
	for _, st := range s.opts.Panels.States() {
		panels[st.Name] = st.Phase
	}

	out := map[string]any{
		"status":            "ok",
		"backend":           backend,
		"panels":            panels,
		"websocket_clients": s.hub.Clients(),
	}
	if s.opts.Exporter != nil {
		if last := s.opts.Exporter.LastPushTime(); !last.IsZero() {
			out["last_metrics_push"] = last.UTC().Format(time.RFC3339)
		}
	}
	if s.opts.History != nil {
		size, capacity, dropped := s.opts.History.Stats()
		history := map[string]any{"size": size, "capacity": capacity, "dropped": dropped}
		if latest, ok := s.opts.History.Latest(); ok {
			history["last_reading"] = latest.GetTimestamp().UTC().Format(time.RFC3339)
		}
		out["history"] = history
	}
	writeJSON(w, http.StatusOK, out)
}

// getHistory lists buffered readings oldest first, optionally of one type
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	kind := types.ReadingType(r.URL.Query().Get("type"))
	switch kind {
	case "", types.ReadingTypeEnvironment, types.ReadingTypeHealth, types.ReadingTypeRoom:
	default:
		writeError(w, http.StatusBadRequest, "invalid_type", "Unknown reading type")
		return
	}

	items := make([]*types.Reading, 0)
	for _, reading := range s.opts.History.Snapshot() {
		if kind == "" || reading.Type == kind {
			items = append(items, reading)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) grafana(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	embed := s.opts.Grafana.EmbedURL(q.Get("room"), q.Get("theme"))
	if embed == "" {
		writeError(w, http.StatusNotFound, "grafana_not_configured", "Grafana dashboard is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": embed})
}

func (s *Server) listPanels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.opts.Panels.States()})
}

func (s *Server) getPanel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.opts.Panels.Panel(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Panel not found")
		return
	}
	writeJSON(w, http.StatusOK, p.State())
}

func (s *Server) refreshPanel(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Panels.Trigger(chi.URLParam(r, "name")) {
		writeError(w, http.StatusNotFound, "not_found", "Panel not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// getRoom loads a room on demand. A failed load answers with the fallback
// room so the detail view always has something to show.
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_room", "Room id is required")
		return
	}

	room, err := s.opts.Backend.Room(r.Context(), id)
	if err != nil {
		telemetry.WarnWithTrace(r.Context(), s.logger, "room fetch failed, using fallback",
			zap.String("room", id), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"room":  panel.ClassifyRoom(api.FallbackRoom(id), s.opts.Thresholds, true),
			"error": "Gagal memuat data ruangan. Menampilkan data cadangan.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room": panel.ClassifyRoom(room, s.opts.Thresholds, false),
	})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.opts.Backend.AutomationSettings(r.Context())
	if err != nil {
		telemetry.WarnWithTrace(r.Context(), s.logger, "automation settings unavailable, using defaults", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"settings": api.DefaultAutomationSettings(),
			"fallback": true,
			"error":    "Gagal memuat pengaturan otomasi. Menampilkan pengaturan bawaan.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings, "fallback": false})
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings api.AutomationSettings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody)).Decode(&settings); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}

	saved, err := s.opts.Backend.UpdateAutomationSettings(r.Context(), settings)
	if err != nil {
		telemetry.ErrorWithTrace(r.Context(), s.logger, "failed to save automation settings", zap.Error(err))
		status := http.StatusBadGateway
		if api.IsUnauthorized(err) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, "save_failed", "Gagal menyimpan pengaturan otomasi.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": saved})
}

func (s *Server) getPredictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := api.PredictionQuery{Model: q.Get("model"), Timeframe: q.Get("timeframe")}
	if query.Model == "" {
		query.Model = "random_forest"
	}
	if query.Timeframe == "" {
		query.Timeframe = "24h"
	}

	chart, err := s.opts.Backend.Predictions(r.Context(), query)
	if err != nil {
		s.upstreamError(w, r, err, "failed to load predictions", "Gagal memuat prediksi.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chart": chart})
}

func (s *Server) mlPredict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := api.MLPredictQuery{
		ModelName: strings.TrimSpace(q.Get("model_name")),
		Location:  q.Get("location"),
		Device:    q.Get("device"),
	}
	if query.ModelName == "" {
		writeError(w, http.StatusBadRequest, "invalid_model", "model_name is required")
		return
	}
	hours, ok := positiveInt(q.Get("hours_ahead"), 1)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_hours", "hours_ahead must be a positive integer")
		return
	}
	query.HoursAhead = hours

	prediction, err := s.opts.Backend.MLPredict(r.Context(), query)
	if err != nil {
		s.upstreamError(w, r, err, "ml prediction failed", "Gagal menjalankan prediksi model.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prediction": prediction})
}

func (s *Server) mlTrainingStats(w http.ResponseWriter, r *http.Request) {
	days, ok := positiveInt(r.URL.Query().Get("days_back"), 30)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_days", "days_back must be a positive integer")
		return
	}

	stats, err := s.opts.Backend.MLTrainingStats(r.Context(), days)
	if err != nil {
		s.upstreamError(w, r, err, "failed to load training stats", "Gagal memuat statistik data latih.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// upstreamError answers a failed backend call: 401 passes through, the rest is a 502
func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, err error, logMsg, userMsg string) {
	telemetry.WarnWithTrace(r.Context(), s.logger, logMsg, zap.Error(err))
	status := http.StatusBadGateway
	if api.IsUnauthorized(err) {
		status = http.StatusUnauthorized
	}
	writeError(w, status, "upstream_failed", userMsg)
}

// positiveInt parses raw, falling back to def when it is empty
func positiveInt(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
