package panel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/api"
	"github.com/mjasion/balena-home/climatetwin/classify"
	"github.com/mjasion/balena-home/climatetwin/pkg/buffer"
	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

// stubBackend answers every call from its fields
type stubBackend struct {
	env        api.EnvironmentalStatus
	envErr     error
	weatherErr error
	health     api.SystemHealth
	roomErr    map[string]error
}

func (s *stubBackend) EnvironmentalStatus(context.Context) (api.EnvironmentalStatus, error) {
	return s.env, s.envErr
}

func (s *stubBackend) ExternalWeather(context.Context) (api.ExternalWeather, error) {
	if s.weatherErr != nil {
		return api.ExternalWeather{}, s.weatherErr
	}
	return api.ExternalWeather{Condition: "Hujan Ringan", Temperature: 27}, nil
}

func (s *stubBackend) SystemHealth(context.Context) (api.SystemHealth, error) {
	return s.health, nil
}

func (s *stubBackend) Room(_ context.Context, id string) (api.RoomSnapshot, error) {
	if err := s.roomErr[id]; err != nil {
		return api.RoomSnapshot{}, err
	}
	return api.RoomSnapshot{ID: id, CurrentConditions: api.Conditions{Temperature: 25, Humidity: 45, CO2: 500, Light: 400}}, nil
}

func (s *stubBackend) Alerts(context.Context, string) ([]api.Alert, error) {
	return nil, nil
}

func (s *stubBackend) MLModels(context.Context) ([]api.MLModel, error) {
	return nil, nil
}

func (s *stubBackend) Recommendations(context.Context) (api.Recommendations, error) {
	return api.Recommendations{}, nil
}

func (s *stubBackend) PredictiveAnalysis(context.Context, api.PredictionQuery) (api.PredictiveAnalysis, error) {
	return api.PredictiveAnalysis{}, nil
}

func (s *stubBackend) Trends(context.Context, api.TrendQuery) (api.TrendSeries, error) {
	return api.TrendSeries{}, nil
}

func findPanel(t *testing.T, panels []*Panel, name string) *Panel {
	t.Helper()
	for _, p := range panels {
		if p.Name() == name {
			return p
		}
	}
	t.Fatalf("Expected panel %s to be built", name)
	return nil
}

func defaultIntervals() Intervals {
	return Intervals{
		Environmental: 5 * time.Minute,
		Alerts:        3 * time.Minute,
		ClimateTwin:   30 * time.Second,
		SystemHealth:  time.Minute,
		RetryDelay:    30 * time.Second,
	}
}

func TestBuildIntervals(t *testing.T) {
	panels := Build(&stubBackend{}, classify.DefaultThresholds, defaultIntervals(), nil, zap.NewNop())

	want := map[string]time.Duration{
		Environmental: 5 * time.Minute,
		Alerts:        3 * time.Minute,
		ClimateTwin:   30 * time.Second,
		SystemHealth:  time.Minute,
		MLModels:      0,
	}
	for name, interval := range want {
		if got := findPanel(t, panels, name).Interval(); got != interval {
			t.Errorf("Panel %s: expected interval %s, got %s", name, interval, got)
		}
	}
}

func TestEnvironmentalPanelRecordsReading(t *testing.T) {
	backend := &stubBackend{env: api.EnvironmentalStatus{
		Temperature: api.Stats{Average: 23.1, Min: 21, Max: 25},
		Humidity:    api.Stats{Average: 55, Min: 50, Max: 60},
	}}
	buf := buffer.New[*types.Reading](10, zap.NewNop())

	p := findPanel(t, Build(backend, classify.DefaultThresholds, defaultIntervals(), buf, zap.NewNop()), Environmental)
	p.Refresh(context.Background())

	view, ok := p.State().Data.(EnvironmentView)
	if !ok {
		t.Fatalf("Expected EnvironmentView, got %T", p.State().Data)
	}
	if view.Status.Temperature.Average != 23.1 || view.Weather.Condition != "Hujan Ringan" {
		t.Errorf("Unexpected view: %+v", view)
	}

	readings := buf.GetAllAndClear()
	if len(readings) != 1 || readings[0].Environment == nil || readings[0].Environment.TemperatureAvg != 23.1 {
		t.Errorf("Expected one environment reading, got %v", readings)
	}
}

func TestEnvironmentalPanelWeatherFallback(t *testing.T) {
	backend := &stubBackend{weatherErr: errors.New("bmkg down")}

	p := findPanel(t, Build(backend, classify.DefaultThresholds, defaultIntervals(), nil, zap.NewNop()), Environmental)
	p.afterFunc = (&timers{}).after
	p.Refresh(context.Background())

	s := p.State()
	if s.Phase != PhaseSuccess {
		t.Fatalf("Expected success despite weather failure, got %s", s.Phase)
	}
	view := s.Data.(EnvironmentView)
	if !view.WeatherFallback || view.Weather.Condition != api.FallbackWeatherCondition {
		t.Errorf("Expected fallback weather, got %+v", view.Weather)
	}
}

func TestEnvironmentalPanelFailure(t *testing.T) {
	backend := &stubBackend{envErr: errors.New("stats down")}
	ts := &timers{}

	p := findPanel(t, Build(backend, classify.DefaultThresholds, defaultIntervals(), nil, zap.NewNop()), Environmental)
	p.afterFunc = ts.after
	p.Refresh(context.Background())

	s := p.State()
	if s.Phase != PhaseError || s.Error != "Gagal memuat data lingkungan. Mencoba lagi dalam 30 detik." {
		t.Errorf("Unexpected state: %+v", s)
	}
	view := s.Data.(EnvironmentView)
	if view.Status.Temperature.Average != api.FallbackTemperatureAverage {
		t.Errorf("Expected fallback status, got %+v", view.Status)
	}
	if ts.count() != 1 {
		t.Errorf("Expected one retry, got %d", ts.count())
	}
}

func TestClimateTwinPartialFailure(t *testing.T) {
	backend := &stubBackend{roomErr: map[string]error{"G5": errors.New("sensor offline")}}
	buf := buffer.New[*types.Reading](50, zap.NewNop())

	p := findPanel(t, Build(backend, classify.DefaultThresholds, defaultIntervals(), buf, zap.NewNop()), ClimateTwin)
	p.Refresh(context.Background())

	s := p.State()
	if s.Phase != PhaseSuccess {
		t.Fatalf("Expected success with one room failing, got %s", s.Phase)
	}
	view := s.Data.(ClimateTwinView)
	if len(view.Rooms) != len(api.Rooms) {
		t.Fatalf("Expected %d rooms, got %d", len(api.Rooms), len(view.Rooms))
	}
	if view.Counts[classify.RoomWarning] != len(api.Rooms)-1 || view.Counts[classify.RoomUnknown] != 1 {
		t.Errorf("Unexpected counts: %v", view.Counts)
	}

	if got := len(buf.GetAllAndClear()); got != len(api.Rooms)-1 {
		t.Errorf("Expected %d room readings, got %d", len(api.Rooms)-1, got)
	}
}

func TestClimateTwinAllRoomsFail(t *testing.T) {
	errs := make(map[string]error)
	for _, id := range api.Rooms {
		errs[id] = errors.New("down")
	}
	p := findPanel(t, Build(&stubBackend{roomErr: errs}, classify.DefaultThresholds, defaultIntervals(), nil, zap.NewNop()), ClimateTwin)
	p.afterFunc = (&timers{}).after
	p.Refresh(context.Background())

	if p.State().Phase != PhaseError {
		t.Errorf("Expected error when every room fails, got %s", p.State().Phase)
	}
}

func TestClassifyRoom(t *testing.T) {
	room := api.RoomSnapshot{ID: "F2", CurrentConditions: api.Conditions{Temperature: 21, Humidity: 50, CO2: 700, Light: 400}}

	v := ClassifyRoom(room, classify.DefaultThresholds, false)
	if v.Status != classify.RoomOptimal || v.Color != "#4caf50" {
		t.Errorf("Expected optimal green, got %s %s", v.Status, v.Color)
	}
	if v.CO2Level != classify.LevelWarning || v.LightLevel != classify.LevelOptimal {
		t.Errorf("Unexpected levels: co2=%s light=%s", v.CO2Level, v.LightLevel)
	}

	if ClassifyRoom(room, classify.DefaultThresholds, true).Status != classify.RoomUnknown {
		t.Error("Expected fallback room to be unknown")
	}
}

func TestSchedulerStartLoadsEveryPanel(t *testing.T) {
	var mu sync.Mutex
	loaded := make(map[string]int)
	fetch := func(name string) FetchFunc {
		return func(context.Context) (any, error) {
			mu.Lock()
			loaded[name]++
			mu.Unlock()
			return name, nil
		}
	}

	s := NewScheduler(zap.NewNop())
	for _, name := range []string{"a", "b"} {
		if err := s.Add(New(Options{Name: name, Interval: time.Hour, Fetch: fetch(name)}, zap.NewNop())); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if err := s.Add(New(Options{Name: "a", Fetch: fetch("a")}, zap.NewNop())); err == nil {
		t.Error("Expected duplicate panel name to be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if loaded["a"] != 1 || loaded["b"] != 1 {
		t.Errorf("Expected each panel loaded once, got %v", loaded)
	}

	states := s.States()
	if len(states) != 2 || states[0].Name != "a" || states[1].Phase != PhaseSuccess {
		t.Errorf("Unexpected states: %+v", states)
	}
	if _, ok := s.Panel("b"); !ok {
		t.Error("Expected panel b to be registered")
	}
}

func TestSchedulerTriggerAndSubscribe(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	p := New(Options{Name: "a", Fetch: func(context.Context) (any, error) { return "ok", nil }}, zap.NewNop())
	if err := s.Add(p); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	updates := make(chan State, 4)
	s.Subscribe(func(st State) { updates <- st })

	if s.Trigger("missing") {
		t.Error("Expected unknown panel to be rejected")
	}
	if !s.Trigger("a") {
		t.Fatal("Expected trigger to start a refresh")
	}

	timeout := time.After(time.Second)
	for {
		select {
		case st := <-updates:
			if st.Phase == PhaseSuccess {
				return
			}
		case <-timeout:
			t.Fatal("Expected a success update after trigger")
		}
	}
}

func TestRecordersFanOut(t *testing.T) {
	a := buffer.New[*types.Reading](4, zap.NewNop())
	b := buffer.New[*types.Reading](4, zap.NewNop())
	rs := Recorders{a, nil, b}

	rs.Add(&types.Reading{Type: types.ReadingTypeHealth, Health: &types.HealthReading{Status: "good"}})

	if a.Size() != 1 || b.Size() != 1 {
		t.Errorf("Expected reading in both buffers, got %d and %d", a.Size(), b.Size())
	}
}

func TestEnvironmentalMessageFollowsRetryDelay(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  string
	}{
		{0, "Gagal memuat data lingkungan. Mencoba lagi dalam 30 detik."},
		{45 * time.Second, "Gagal memuat data lingkungan. Mencoba lagi dalam 45 detik."},
		{1500 * time.Millisecond, "Gagal memuat data lingkungan. Mencoba lagi dalam 2 detik."},
		{2 * time.Minute, "Gagal memuat data lingkungan. Mencoba lagi dalam 2 menit."},
	}
	for _, tt := range tests {
		t.Run(tt.delay.String(), func(t *testing.T) {
			intervals := defaultIntervals()
			intervals.RetryDelay = tt.delay
			backend := &stubBackend{envErr: errors.New("stats down")}

			p := findPanel(t, Build(backend, classify.DefaultThresholds, intervals, nil, zap.NewNop()), Environmental)
			p.afterFunc = (&timers{}).after
			p.Refresh(context.Background())

			if got := p.State().Error; got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
