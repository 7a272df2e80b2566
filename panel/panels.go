package panel

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/api"
	"github.com/mjasion/balena-home/climatetwin/classify"
	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

// Panel names
const (
	Environmental      = "environmental"
	Alerts             = "alerts"
	ClimateTwin        = "climate-twin"
	SystemHealth       = "system-health"
	MLModels           = "ml-models"
	Recommendations    = "recommendations"
	PredictiveAnalysis = "predictive-analysis"
	Trends             = "trends"
)

// Backend is the subset of the API client the panels poll
type Backend interface {
	EnvironmentalStatus(ctx context.Context) (api.EnvironmentalStatus, error)
	ExternalWeather(ctx context.Context) (api.ExternalWeather, error)
	SystemHealth(ctx context.Context) (api.SystemHealth, error)
	Room(ctx context.Context, id string) (api.RoomSnapshot, error)
	Alerts(ctx context.Context, filter string) ([]api.Alert, error)
	MLModels(ctx context.Context) ([]api.MLModel, error)
	Recommendations(ctx context.Context) (api.Recommendations, error)
	PredictiveAnalysis(ctx context.Context, q api.PredictionQuery) (api.PredictiveAnalysis, error)
	Trends(ctx context.Context, q api.TrendQuery) (api.TrendSeries, error)
}

// Recorder receives readings for metrics export
type Recorder interface {
	Add(item *types.Reading)
}

// Recorders fans a reading out to every non-nil recorder
type Recorders []Recorder

// Add implements Recorder
func (rs Recorders) Add(item *types.Reading) {
	for _, r := range rs {
		if r != nil {
			r.Add(item)
		}
	}
}

// Intervals holds the refresh cadence of the periodic panels
type Intervals struct {
	Environmental time.Duration
	Alerts        time.Duration
	ClimateTwin   time.Duration
	SystemHealth  time.Duration
	RetryDelay    time.Duration
}

// EnvironmentView is the environmental panel payload
type EnvironmentView struct {
	Status          api.EnvironmentalStatus `json:"status"`
	Weather         api.ExternalWeather     `json:"weather"`
	WeatherFallback bool                    `json:"weather_fallback"`
}

// RoomView is a room snapshot with its classification
type RoomView struct {
	api.RoomSnapshot
	Status     classify.RoomStatus `json:"status"`
	Color      string              `json:"color"`
	CO2Level   classify.Level      `json:"co2_level"`
	LightLevel classify.Level      `json:"light_level"`
	Fallback   bool                `json:"fallback"`
}

// ClassifyRoom classifies a snapshot. Fallback snapshots carry no real data
// and are always unknown.
func ClassifyRoom(room api.RoomSnapshot, t classify.Thresholds, fallback bool) RoomView {
	c := room.CurrentConditions
	status := classify.RoomUnknown
	if !fallback {
		status = t.Room(c.Temperature, c.Humidity)
	}
	return RoomView{
		RoomSnapshot: room,
		Status:       status,
		Color:        classify.RoomColor(status).Hex(),
		CO2Level:     classify.CO2Level(c.CO2),
		LightLevel:   classify.LightLevel(c.Light),
		Fallback:     fallback,
	}
}

// ClimateTwinView is the per-room building overview
type ClimateTwinView struct {
	Rooms  []RoomView                  `json:"rooms"`
	Counts map[classify.RoomStatus]int `json:"counts"`
}

// retryIn spells a retry delay in Indonesian: whole minutes as "N menit",
// anything else as seconds rounded up
func retryIn(d time.Duration) string {
	if d <= 0 {
		d = DefaultRetryDelay
	}
	if d >= time.Minute && d%time.Minute == 0 {
		return strconv.Itoa(int(d/time.Minute)) + " menit"
	}
	return strconv.Itoa(int((d+time.Second-1)/time.Second)) + " detik"
}

// Build creates every dashboard panel polling backend
func Build(backend Backend, thresholds classify.Thresholds, intervals Intervals, recorder Recorder, logger *zap.Logger) []*Panel {
	record := func(r *types.Reading) {
		if recorder != nil {
			recorder.Add(r)
		}
	}

	return []*Panel{
		New(Options{
			Name:         Environmental,
			Interval:     intervals.Environmental,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat data lingkungan. Mencoba lagi dalam " + retryIn(intervals.RetryDelay) + ".",
			Fetch: func(ctx context.Context) (any, error) {
				return fetchEnvironment(ctx, backend, logger)
			},
			Fallback: func() any {
				return EnvironmentView{
					Status:          api.FallbackEnvironmentalStatus(),
					Weather:         api.FallbackExternalWeather(),
					WeatherFallback: true,
				}
			},
			OnSuccess: func(data any) {
				s := data.(EnvironmentView).Status
				record(&types.Reading{
					Type: types.ReadingTypeEnvironment,
					Environment: &types.EnvironmentReading{
						Timestamp:      time.Now(),
						TemperatureAvg: s.Temperature.Average,
						TemperatureMin: s.Temperature.Min,
						TemperatureMax: s.Temperature.Max,
						HumidityAvg:    s.Humidity.Average,
						HumidityMin:    s.Humidity.Min,
						HumidityMax:    s.Humidity.Max,
					},
				})
			},
		}, logger),

		New(Options{
			Name:         Alerts,
			Interval:     intervals.Alerts,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat peringatan terbaru",
			Fetch: func(ctx context.Context) (any, error) {
				return backend.Alerts(ctx, "")
			},
			Fallback: func() any { return api.FallbackAlerts(time.Now()) },
		}, logger),

		New(Options{
			Name:         ClimateTwin,
			Interval:     intervals.ClimateTwin,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat data iklim ruangan. Menampilkan data cadangan.",
			Fetch: func(ctx context.Context) (any, error) {
				return fetchClimateTwin(ctx, backend, thresholds, logger)
			},
			Fallback: func() any { return fallbackClimateTwin(thresholds) },
			OnSuccess: func(data any) {
				now := time.Now()
				for _, room := range data.(ClimateTwinView).Rooms {
					if room.Fallback {
						continue
					}
					c := room.CurrentConditions
					record(&types.Reading{
						Type: types.ReadingTypeRoom,
						Room: &types.RoomReading{
							Timestamp:   now,
							RoomID:      room.ID,
							Status:      string(room.Status),
							Temperature: c.Temperature,
							Humidity:    c.Humidity,
							CO2:         c.CO2,
							Light:       c.Light,
						},
					})
				}
			},
		}, logger),

		New(Options{
			Name:         SystemHealth,
			Interval:     intervals.SystemHealth,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat status sistem.",
			Fetch: func(ctx context.Context) (any, error) {
				return backend.SystemHealth(ctx)
			},
			Fallback: func() any { return api.FallbackSystemHealth() },
			OnSuccess: func(data any) {
				h := data.(api.SystemHealth)
				record(&types.Reading{
					Type: types.ReadingTypeHealth,
					Health: &types.HealthReading{
						Timestamp:         time.Now(),
						Status:            string(h.Status),
						ActiveDevices:     h.ActiveDevices,
						TotalDevices:      h.TotalDevices,
						Ratio:             h.Ratio,
						InfluxDBConnected: h.InfluxDB == api.ConnectionConnected,
					},
				})
			},
		}, logger),

		New(Options{
			Name:         MLModels,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat daftar model ML.",
			Fetch: func(ctx context.Context) (any, error) {
				return backend.MLModels(ctx)
			},
			Fallback: func() any { return api.FallbackMLModels() },
		}, logger),

		New(Options{
			Name:         Recommendations,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat rekomendasi. Silakan coba lagi.",
			Fetch: func(ctx context.Context) (any, error) {
				return backend.Recommendations(ctx)
			},
			Fallback: func() any { return api.FallbackRecommendations() },
		}, logger),

		New(Options{
			Name:         PredictiveAnalysis,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat analisis prediktif ML. Menggunakan data fallback.",
			Fetch: func(ctx context.Context) (any, error) {
				return backend.PredictiveAnalysis(ctx, defaultPrediction)
			},
			Fallback: func() any { return api.FallbackPredictiveAnalysis(defaultPrediction, time.Now()) },
		}, logger),

		New(Options{
			Name:         Trends,
			RetryDelay:   intervals.RetryDelay,
			ErrorMessage: "Gagal memuat data tren. Silakan coba lagi.",
			Fetch: func(ctx context.Context) (any, error) {
				return backend.Trends(ctx, defaultTrend)
			},
			Fallback: func() any { return api.FallbackTrend(defaultTrend, time.Now()) },
		}, logger),
	}
}

var (
	defaultPrediction = api.PredictionQuery{Model: "random_forest", Timeframe: "24h"}
	defaultTrend      = api.TrendQuery{Period: "day", Location: "all", Parameter: "temperature"}
)

// fetchEnvironment fails only when the sensor statistics fail. A weather
// failure substitutes the fallback observation.
func fetchEnvironment(ctx context.Context, backend Backend, logger *zap.Logger) (EnvironmentView, error) {
	status, err := backend.EnvironmentalStatus(ctx)
	if err != nil {
		return EnvironmentView{}, err
	}
	if len(status.Defaulted) > 0 {
		logger.Debug("environmental fields defaulted", zap.Strings("fields", status.Defaulted))
	}

	view := EnvironmentView{Status: status}
	view.Weather, err = backend.ExternalWeather(ctx)
	if err != nil {
		logger.Warn("external weather unavailable, using fallback", zap.Error(err))
		view.Weather = api.FallbackExternalWeather()
		view.WeatherFallback = true
	}
	return view, nil
}

// fetchClimateTwin loads every room concurrently. Rooms that fail are shown
// from fallback data as unknown; the panel fails only when every room fails.
func fetchClimateTwin(ctx context.Context, backend Backend, t classify.Thresholds, logger *zap.Logger) (ClimateTwinView, error) {
	rooms := make([]RoomView, len(api.Rooms))
	errs := make([]error, len(api.Rooms))

	var wg sync.WaitGroup
	for i, id := range api.Rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := backend.Room(ctx, id)
			if err != nil {
				errs[i] = err
				rooms[i] = ClassifyRoom(api.FallbackRoom(id), t, true)
				return
			}
			rooms[i] = ClassifyRoom(room, t, false)
		}()
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			logger.Debug("room fetch failed", zap.String("room", api.Rooms[i]), zap.Error(err))
		}
	}
	if failed == len(api.Rooms) {
		return ClimateTwinView{}, errors.Join(errs...)
	}
	if failed > 0 {
		logger.Warn("some rooms unavailable", zap.Int("failed", failed), zap.Int("total", len(api.Rooms)))
	}

	return newClimateTwinView(rooms), nil
}

func fallbackClimateTwin(t classify.Thresholds) ClimateTwinView {
	rooms := make([]RoomView, len(api.Rooms))
	for i, id := range api.Rooms {
		rooms[i] = ClassifyRoom(api.FallbackRoom(id), t, true)
	}
	return newClimateTwinView(rooms)
}

func newClimateTwinView(rooms []RoomView) ClimateTwinView {
	counts := make(map[classify.RoomStatus]int)
	for _, r := range rooms {
		counts[r.Status]++
	}
	return ClimateTwinView{Rooms: rooms, Counts: counts}
}
