package api

import (
	"strconv"
	"strings"

	"github.com/mjasion/balena-home/climatetwin/classify"
)

type temperatureStatsWire struct {
	Avg Number[float64] `json:"avg_temperature"`
	Min Number[float64] `json:"min_temperature"`
	Max Number[float64] `json:"max_temperature"`
}

type humidityStatsWire struct {
	Avg Number[float64] `json:"avg_humidity"`
	Min Number[float64] `json:"min_humidity"`
	Max Number[float64] `json:"max_humidity"`
}

// fieldResolver resolves numeric fields, recording names that fell back
type fieldResolver struct {
	defaulted []string
}

func (r *fieldResolver) float(name string, n Number[float64], fallback float64) float64 {
	if _, err := n.Result(); err != nil {
		r.defaulted = append(r.defaulted, name)
		return fallback
	}
	return n.Value
}

func normalizeEnvironment(t temperatureStatsWire, h humidityStatsWire) EnvironmentalStatus {
	var r fieldResolver
	status := EnvironmentalStatus{
		Temperature: Stats{
			Average: r.float("temperature.average", t.Avg, FallbackTemperatureAverage),
			Min:     r.float("temperature.min", t.Min, FallbackTemperatureMin),
			Max:     r.float("temperature.max", t.Max, FallbackTemperatureMax),
		},
		Humidity: Stats{
			Average: r.float("humidity.average", h.Avg, FallbackHumidityAverage),
			Min:     r.float("humidity.min", h.Min, FallbackHumidityMin),
			Max:     r.float("humidity.max", h.Max, FallbackHumidityMax),
		},
	}
	status.Defaulted = r.defaulted
	return status
}

type healthWire struct {
	Status        Text            `json:"status"`
	ActiveDevices Number[int]     `json:"active_devices"`
	TotalDevices  Number[int]     `json:"total_devices"`
	Ratio         Number[float64] `json:"ratio_active_to_total"`
	InfluxDB      Text            `json:"influxdb_connection"`
}

func normalizeHealth(w healthWire) SystemHealth {
	active := max(0, w.ActiveDevices.Or(0))
	total := max(0, w.TotalDevices.Or(0))

	ratio := 0.0
	switch {
	case w.Ratio.Valid:
		ratio = w.Ratio.Value
	case total > 0:
		ratio = float64(active) / float64(total)
	}

	return SystemHealth{
		Status:        classify.ParseHealthStatus(w.Status.Value),
		ActiveDevices: active,
		TotalDevices:  total,
		Ratio:         clamp01(ratio),
		InfluxDB:      parseConnection(w.InfluxDB.Value),
	}
}

func parseConnection(s string) ConnectionState {
	switch ConnectionState(strings.ToLower(strings.TrimSpace(s))) {
	case ConnectionConnected:
		return ConnectionConnected
	case ConnectionDisconnected:
		return ConnectionDisconnected
	}
	return ConnectionUnknown
}

type weatherWire struct {
	WeatherData struct {
		Temperature   Number[float64] `json:"temperature"`
		Humidity      Number[float64] `json:"humidity"`
		WindSpeed     Number[float64] `json:"wind_speed"`
		WindDirection Text            `json:"wind_direction"`
		Pressure      Number[float64] `json:"pressure"`
		Visibility    ID              `json:"visibility"`
		Condition     Text            `json:"weather_condition"`
	} `json:"weather_data"`
	Location struct {
		Region  Text `json:"region"`
		Station Text `json:"station"`
	} `json:"location"`
	Timestamp  Text `json:"timestamp"`
	DataSource Text `json:"data_source"`
}

func normalizeWeather(w weatherWire) ExternalWeather {
	d := w.WeatherData
	return ExternalWeather{
		Condition:     d.Condition.Or(FallbackWeatherCondition),
		Temperature:   d.Temperature.Or(FallbackExternalTemperature),
		Humidity:      d.Humidity.Or(FallbackExternalHumidity),
		WindSpeed:     d.WindSpeed.Or(0),
		WindDirection: d.WindDirection.Value,
		Pressure:      d.Pressure.Or(0),
		Visibility:    string(d.Visibility),
		Region:        w.Location.Region.Value,
		Station:       w.Location.Station.Value,
		DataSource:    w.DataSource.Value,
		Timestamp:     w.Timestamp.Value,
	}
}

type roomWire struct {
	ID                ID `json:"id"`
	CurrentConditions struct {
		Temperature Number[float64] `json:"temperature"`
		Humidity    Number[float64] `json:"humidity"`
		CO2         Number[float64] `json:"co2"`
		Light       Number[float64] `json:"light"`
	} `json:"currentConditions"`
	Devices []struct {
		ID       ID              `json:"id"`
		Name     Text            `json:"name"`
		Status   Text            `json:"status"`
		SetPoint Number[float64] `json:"setPoint"`
	} `json:"devices"`
	SensorStatus Text `json:"sensorStatus"`
}

func normalizeRoom(requested string, w roomWire) RoomSnapshot {
	c := w.CurrentConditions
	room := RoomSnapshot{
		ID: string(w.ID),
		CurrentConditions: Conditions{
			Temperature: c.Temperature.Or(FallbackTemperatureAverage),
			Humidity:    c.Humidity.Or(FallbackHumidityAverage),
			CO2:         c.CO2.Or(FallbackCO2),
			Light:       c.Light.Or(FallbackLight),
		},
		Devices:      make([]Device, 0, len(w.Devices)),
		SensorStatus: SensorOffline,
	}
	if room.ID == "" {
		room.ID = requested
	}
	if strings.EqualFold(w.SensorStatus.Value, string(SensorActive)) {
		room.SensorStatus = SensorActive
	}

	for _, d := range w.Devices {
		status := DeviceInactive
		if strings.EqualFold(d.Status.Value, string(DeviceActive)) {
			status = DeviceActive
		}
		room.Devices = append(room.Devices, Device{
			ID:       string(d.ID),
			Name:     d.Name.Or(string(d.ID)),
			Status:   status,
			SetPoint: d.SetPoint.Or(0),
		})
	}
	return room
}

type recommendationWire struct {
	ID              ID   `json:"id"`
	Title           Text `json:"title"`
	Description     Text `json:"description"`
	Priority        Text `json:"priority"`
	Timeframe       Text `json:"timeframe"`
	Category        Text `json:"category"`
	Room            Text `json:"room"`
	Action          Text `json:"action"`
	EstimatedImpact Text `json:"estimated_impact"`
	EnergySaving    Text `json:"energy_saving"`
}

type recommendationsWire struct {
	Priority       []recommendationWire `json:"priority_recommendations"`
	General        []recommendationWire `json:"general_recommendations"`
	Flat           []recommendationWire `json:"recommendations"`
	Total          Number[int]          `json:"total_recommendations"`
	LastUpdated    Text                 `json:"last_updated"`
	AnalysisPeriod Text                 `json:"analysis_period"`
}

func normalizeRecommendations(w recommendationsWire) Recommendations {
	out := Recommendations{
		Priority:       normalizeRecommendationList(w.Priority, "priority"),
		General:        normalizeRecommendationList(append(w.General, w.Flat...), "general"),
		LastUpdated:    w.LastUpdated.Value,
		AnalysisPeriod: w.AnalysisPeriod.Value,
	}
	out.Total = w.Total.Or(len(out.Priority) + len(out.General))
	return out
}

func normalizeRecommendationList(items []recommendationWire, prefix string) []Recommendation {
	out := make([]Recommendation, 0, len(items))
	for i, item := range items {
		id := string(item.ID)
		if id == "" {
			id = prefix + "-" + strconv.Itoa(i+1)
		}
		out = append(out, Recommendation{
			ID:              id,
			Title:           item.Title.Value,
			Description:     item.Description.Value,
			Priority:        parsePriority(item.Priority.Value),
			Timeframe:       item.Timeframe.Value,
			Category:        item.Category.Value,
			Room:            item.Room.Value,
			Action:          item.Action.Value,
			EstimatedImpact: item.EstimatedImpact.Value,
			EnergySaving:    item.EnergySaving.Value,
		})
	}
	return out
}

// parsePriority lower-cases p. Unknown priorities rank lowest.
func parsePriority(p string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(p))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	}
	return PriorityLow
}

type alertWire struct {
	ID             ID              `json:"id"`
	Type           Text            `json:"type"`
	Title          Text            `json:"title"`
	Message        Text            `json:"message"`
	Room           Text            `json:"room"`
	Parameter      Text            `json:"parameter"`
	Value          Number[float64] `json:"value"`
	Threshold      Number[float64] `json:"threshold"`
	Timestamp      Text            `json:"timestamp"`
	Status         Text            `json:"status"`
	Recommendation Text            `json:"recommendation"`
}

type alertsWire struct {
	Alerts []alertWire `json:"alerts"`
}

func normalizeAlerts(w alertsWire) []Alert {
	out := make([]Alert, 0, len(w.Alerts))
	for i, a := range w.Alerts {
		alert := Alert{
			ID:             string(a.ID),
			Type:           parseAlertType(a.Type.Value),
			Title:          a.Title.Value,
			Message:        a.Message.Value,
			Room:           a.Room.Value,
			Parameter:      a.Parameter.Value,
			Timestamp:      a.Timestamp.Value,
			Status:         a.Status.Value,
			Recommendation: a.Recommendation.Value,
		}
		if alert.ID == "" {
			alert.ID = "alert-" + strconv.Itoa(i+1)
		}
		if v, err := a.Value.Result(); err == nil {
			alert.Value = &v
		}
		if v, err := a.Threshold.Result(); err == nil {
			alert.Threshold = &v
		}
		out = append(out, alert)
	}
	return out
}

func parseAlertType(t string) AlertType {
	switch AlertType(strings.ToLower(strings.TrimSpace(t))) {
	case AlertCritical:
		return AlertCritical
	case AlertWarning:
		return AlertWarning
	}
	return AlertInfo
}

type chartWire struct {
	Labels   []ID `json:"labels"`
	Datasets []struct {
		Label Text              `json:"label"`
		Data  []Number[float64] `json:"data"`
	} `json:"datasets"`
}

func normalizeChart(w chartWire) Chart {
	chart := Chart{Labels: ids(w.Labels), Datasets: make([]Dataset, 0, len(w.Datasets))}
	for _, d := range w.Datasets {
		chart.Datasets = append(chart.Datasets, Dataset{Label: d.Label.Value, Data: floats(d.Data)})
	}
	return chart
}

// floats keeps alignment with labels: an unusable point repeats the previous
// valid value, or 0 at the start of the series.
func floats(in []Number[float64]) []float64 {
	out := make([]float64, len(in))
	last := 0.0
	for i, n := range in {
		if n.Valid {
			last = n.Value
		}
		out[i] = last
	}
	return out
}

func ids(in []ID) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
