package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

// series accumulates samples per metric name and label set
type series struct {
	order []string
	byKey map[string]*prompb.TimeSeries
}

func newSeries() *series {
	return &series{byKey: make(map[string]*prompb.TimeSeries)}
}

func (s *series) add(name string, labels map[string]string, value float64, ts time.Time) {
	key := name + "{" + serializeLabels(labels) + "}"
	entry, ok := s.byKey[key]
	if !ok {
		entry = &prompb.TimeSeries{Labels: buildLabels(name, labels)}
		s.byKey[key] = entry
		s.order = append(s.order, key)
	}
	entry.Samples = append(entry.Samples, prompb.Sample{Value: value, Timestamp: ts.UnixMilli()})
}

func (s *series) result() []prompb.TimeSeries {
	out := make([]prompb.TimeSeries, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.byKey[key])
	}
	return out
}

// BuildEnvironmentTimeSeries builds temperature and humidity series (avg, min, max)
func BuildEnvironmentTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildEnvironmentTimeSeries")
	defer span.End()

	s := newSeries()
	for _, r := range readings {
		if r.Type != types.ReadingTypeEnvironment || r.Environment == nil {
			continue
		}
		e := r.Environment
		ts := roundToTenSeconds(e.Timestamp)
		s.add("climate_twin_temperature_celsius", map[string]string{"stat": "avg"}, e.TemperatureAvg, ts)
		s.add("climate_twin_temperature_celsius", map[string]string{"stat": "min"}, e.TemperatureMin, ts)
		s.add("climate_twin_temperature_celsius", map[string]string{"stat": "max"}, e.TemperatureMax, ts)
		s.add("climate_twin_humidity_percent", map[string]string{"stat": "avg"}, e.HumidityAvg, ts)
		s.add("climate_twin_humidity_percent", map[string]string{"stat": "min"}, e.HumidityMin, ts)
		s.add("climate_twin_humidity_percent", map[string]string{"stat": "max"}, e.HumidityMax, ts)
	}

	out := s.result()
	span.SetAttributes(attribute.Int("metrics.environment_time_series_count", len(out)))
	span.SetStatus(codes.Ok, "environment time series built")
	return out, nil
}

// BuildHealthTimeSeries builds device count, ratio and InfluxDB connectivity series
func BuildHealthTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildHealthTimeSeries")
	defer span.End()

	s := newSeries()
	for _, r := range readings {
		if r.Type != types.ReadingTypeHealth || r.Health == nil {
			continue
		}
		h := r.Health
		ts := roundToTenSeconds(h.Timestamp)
		labels := map[string]string{"status": h.Status}
		s.add("climate_twin_active_devices", labels, float64(h.ActiveDevices), ts)
		s.add("climate_twin_total_devices", labels, float64(h.TotalDevices), ts)
		s.add("climate_twin_active_device_ratio", labels, h.Ratio, ts)
		s.add("climate_twin_influxdb_up", nil, boolToFloat(h.InfluxDBConnected), ts)
	}

	out := s.result()
	span.SetAttributes(attribute.Int("metrics.health_time_series_count", len(out)))
	span.SetStatus(codes.Ok, "health time series built")
	return out, nil
}

// BuildRoomTimeSeries builds per-room condition series
func BuildRoomTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildRoomTimeSeries")
	defer span.End()

	s := newSeries()
	for _, r := range readings {
		if r.Type != types.ReadingTypeRoom || r.Room == nil {
			continue
		}
		room := r.Room
		ts := roundToTenSeconds(room.Timestamp)
		labels := map[string]string{"room": room.RoomID}
		s.add("climate_twin_room_temperature_celsius", labels, room.Temperature, ts)
		s.add("climate_twin_room_humidity_percent", labels, room.Humidity, ts)
		s.add("climate_twin_room_co2_ppm", labels, room.CO2, ts)
		s.add("climate_twin_room_light_lux", labels, room.Light, ts)
	}

	out := s.result()
	span.SetAttributes(attribute.Int("metrics.room_time_series_count", len(out)))
	span.SetStatus(codes.Ok, "room time series built")
	return out, nil
}

// CombineBuilders combines multiple time series builders into one
func CombineBuilders(builders ...TimeSeriesBuilder) TimeSeriesBuilder {
	return func(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
		var all []prompb.TimeSeries
		for _, builder := range builders {
			if builder == nil {
				continue
			}
			ts, err := builder(ctx, readings)
			if err != nil {
				return nil, err
			}
			all = append(all, ts...)
		}
		return all, nil
	}
}

func buildLabels(name string, labels map[string]string) []prompb.Label {
	out := []prompb.Label{{Name: "__name__", Value: name}}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, prompb.Label{Name: k, Value: labels[k]})
	}
	return out
}

func roundToTenSeconds(t time.Time) time.Time {
	return t.Round(10 * time.Second)
}

func serializeLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := ""
	for _, k := range keys {
		result += k + "=" + labels[k] + ","
	}
	return result
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
