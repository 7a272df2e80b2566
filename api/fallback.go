package api

import (
	"fmt"
	"math"
	"time"

	"github.com/mjasion/balena-home/climatetwin/classify"
)

// Fallback constants substituted for missing or non-numeric upstream fields
const (
	FallbackTemperatureAverage = 22.5
	FallbackTemperatureMin     = 19.2
	FallbackTemperatureMax     = 24.8
	FallbackHumidityAverage    = 48.0
	FallbackHumidityMin        = 42.0
	FallbackHumidityMax        = 53.0

	FallbackWeatherCondition    = "Cerah Berawan"
	FallbackExternalTemperature = 29.8
	FallbackExternalHumidity    = 75.0

	FallbackCO2   = 450.0
	FallbackLight = 400.0
)

// Rooms lists the monitored rooms
var Rooms = []string{"F2", "F3", "F4", "F5", "F6", "G2", "G3", "G4", "G5", "G6", "G7", "G8"}

// FallbackEnvironmentalStatus is shown when the stats endpoints are unreachable
func FallbackEnvironmentalStatus() EnvironmentalStatus {
	return EnvironmentalStatus{
		Temperature: Stats{FallbackTemperatureAverage, FallbackTemperatureMin, FallbackTemperatureMax},
		Humidity:    Stats{FallbackHumidityAverage, FallbackHumidityMin, FallbackHumidityMax},
		Defaulted:   []string{"all"},
	}
}

// FallbackSystemHealth is shown when /system/health/ is unreachable
func FallbackSystemHealth() SystemHealth {
	return SystemHealth{
		Status:        classify.HealthUnknown,
		ActiveDevices: 8,
		TotalDevices:  12,
		Ratio:         8.0 / 12,
		InfluxDB:      ConnectionUnknown,
	}
}

// FallbackExternalWeather is shown when the BMKG relay is unreachable
func FallbackExternalWeather() ExternalWeather {
	return ExternalWeather{
		Condition:   FallbackWeatherCondition,
		Temperature: FallbackExternalTemperature,
		Humidity:    FallbackExternalHumidity,
		DataSource:  "fallback",
	}
}

// FallbackRoom builds a deterministic placeholder snapshot for room id.
// Values vary per room but stay within plausible indoor ranges.
func FallbackRoom(id string) RoomSnapshot {
	seed := 0
	for _, r := range id {
		seed = seed*31 + int(r)
	}
	phase := float64(seed%360) * math.Pi / 180

	round := func(v float64) float64 { return math.Round(v*10) / 10 }

	return RoomSnapshot{
		ID: id,
		CurrentConditions: Conditions{
			Temperature: round(22 + 2.5*math.Sin(phase)),
			Humidity:    round(50 + 8*math.Cos(phase)),
			CO2:         math.Round(500 + 150*math.Sin(phase*2)),
			Light:       math.Round(400 + 120*math.Cos(phase*2)),
		},
		Devices: []Device{
			{ID: "ac-" + id, Name: "AC " + id, Status: DeviceActive, SetPoint: 24},
			{ID: "dh-" + id, Name: "Dehumidifier " + id, Status: DeviceInactive, SetPoint: 55},
		},
		SensorStatus: SensorOffline,
	}
}

// FallbackAlerts is shown when /alerts is unreachable
func FallbackAlerts(now time.Time) []Alert {
	ts := func(ago time.Duration) string { return now.Add(-ago).UTC().Format(time.RFC3339) }
	return []Alert{
		{
			ID:             "fallback-1",
			Type:           AlertCritical,
			Message:        "Suhu di Ruang G5 meningkat drastis (+4.5°C dalam 30 menit)",
			Timestamp:      ts(15 * time.Minute),
			Recommendation: "Periksa AC di ruang G5, kemungkinan tidak berfungsi",
		},
		{
			ID:             "fallback-2",
			Type:           AlertWarning,
			Message:        "Kelembapan di Ruang F3 di luar batas optimal (62%)",
			Timestamp:      ts(48 * time.Minute),
			Recommendation: "Sesuaikan pengaturan dehumidifier",
		},
		{
			ID:             "fallback-3",
			Type:           AlertInfo,
			Message:        "Jadwal pemeliharaan AC dalam 3 hari",
			Timestamp:      ts(2 * time.Hour),
			Recommendation: "Siapkan jadwal teknisi",
		},
	}
}

// FallbackRecommendations is shown when /recommendations/proactive is unreachable
func FallbackRecommendations() Recommendations {
	return Recommendations{
		Priority: []Recommendation{{
			ID:          "fallback-temp",
			Title:       "Periksa pengaturan suhu",
			Description: "Data sensor tidak tersedia. Pastikan AC bekerja pada setpoint 24°C.",
			Priority:    PriorityMedium,
			Category:    "temperature",
		}},
		General: []Recommendation{{
			ID:          "fallback-maintenance",
			Title:       "Jadwalkan pemeliharaan rutin",
			Description: "Bersihkan filter AC dan kalibrasi sensor setiap bulan.",
			Priority:    PriorityLow,
			Category:    "maintenance",
			Timeframe:   "monthly",
		}},
		Total: 2,
	}
}

// FallbackTrend builds a flat placeholder series for a trend query
func FallbackTrend(q TrendQuery, now time.Time) TrendSeries {
	points, step := 24, time.Hour
	switch q.Period {
	case "week":
		points, step = 7, 24*time.Hour
	case "month":
		points, step = 30, 24*time.Hour
	}

	base := FallbackTemperatureAverage
	if q.Parameter == "humidity" {
		base = FallbackHumidityAverage
	}

	s := TrendSeries{Period: q.Period, Location: q.Location, Parameter: q.Parameter}
	start := now.Add(-time.Duration(points-1) * step)
	for i := 0; i < points; i++ {
		s.Timestamps = append(s.Timestamps, start.Add(time.Duration(i)*step).Format("2006-01-02 15:04"))
		s.Values = append(s.Values, base)
	}
	return s
}

// FallbackPredictiveAnalysis builds a placeholder forecast with a gentle upward trend
func FallbackPredictiveAnalysis(q PredictionQuery, now time.Time) PredictiveAnalysis {
	hours, step := 24, 2
	switch q.Timeframe {
	case "6h":
		hours, step = 6, 1
	case "7d":
		hours, step = 168, 12
	}

	points := (hours + step - 1) / step
	labels := make([]string, points)
	temp := make([]float64, points)
	hum := make([]float64, points)
	for i := 0; i < points; i++ {
		labels[i] = fmt.Sprintf("%02d:00", (now.Hour()+i*step)%24)
		progress := 0.0
		if points > 1 {
			progress = float64(i) / float64(points-1)
		}
		temp[i] = math.Round((22+2*progress)*10) / 10
		hum[i] = math.Round((50+5*progress)*10) / 10
	}

	model := q.Model
	if model == "" {
		model = "fallback"
	}

	return PredictiveAnalysis{
		Temperature: Chart{Labels: labels, Datasets: []Dataset{{Label: "Prediksi Suhu (°C)", Data: temp}}},
		Humidity:    Chart{Labels: labels, Datasets: []Dataset{{Label: "Prediksi Kelembapan (%)", Data: hum}}},
		Model: ModelInfo{
			Name:        model,
			Version:     "1.0.0",
			Accuracy:    0.75,
			GeneratedAt: now.UTC().Format(time.RFC3339),
			Status:      "fallback",
		},
	}
}

// FallbackMLModels lists the model families assumed when the ML service is down
func FallbackMLModels() []MLModel {
	return []MLModel{
		{Name: "random_forest"},
		{Name: "linear_regression"},
		{Name: "gradient_boosting"},
	}
}
