package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/mjasion/balena-home/climatetwin/api"
	"github.com/mjasion/balena-home/climatetwin/classify"
	"github.com/mjasion/balena-home/climatetwin/panel"
)

// HealthCard is the system health block of the overview
type HealthCard struct {
	Status   classify.HealthStatus
	Active   int
	Total    int
	InfluxDB api.ConnectionState
	Percent  string
	Color    string
	Fallback bool
	Error    string
}

// BarStyle is the inline style of the device ratio bar
func (h HealthCard) BarStyle() template.CSS {
	return template.CSS(fmt.Sprintf("width: %s%%; background-color: %s", h.Percent, h.Color))
}

// NewHealthCard builds the card for h. The bar width is the active share of
// all devices. The color follows the reported status, or the ratio tier when
// the status is unknown.
func NewHealthCard(h api.SystemHealth) HealthCard {
	ratio := 0.0
	if h.TotalDevices > 0 {
		ratio = float64(h.ActiveDevices) / float64(h.TotalDevices)
	}
	ratio = math.Max(0, math.Min(1, ratio))

	color := classify.StatusColor(h.Status)
	if h.Status == classify.HealthUnknown || h.Status == "" {
		color = classify.HealthColor(ratio)
	}

	return HealthCard{
		Status:   h.Status,
		Active:   h.ActiveDevices,
		Total:    h.TotalDevices,
		InfluxDB: h.InfluxDB,
		Percent:  strconv.FormatFloat(math.Round(ratio*1000)/10, 'f', -1, 64),
		Color:    color.Hex(),
	}
}

type overview struct {
	Environment    panel.EnvironmentView
	EnvironmentErr string
	Health         HealthCard
	Rooms          []panel.RoomView
	Counts         map[classify.RoomStatus]int
	RoomsErr       string
	Alerts         []api.Alert
	AlertsErr      string
	GrafanaURL     string
	GeneratedAt    string
}

// newOverview assembles the page from panel snapshots. Panels that have not
// produced their expected data type are left empty.
func newOverview(states []panel.State, grafanaURL string, now time.Time) overview {
	o := overview{GrafanaURL: grafanaURL, GeneratedAt: now.Format("2006-01-02 15:04:05")}

	for _, s := range states {
		switch s.Name {
		case panel.Environmental:
			if v, ok := s.Data.(panel.EnvironmentView); ok {
				o.Environment = v
			}
			o.EnvironmentErr = s.Error
		case panel.SystemHealth:
			if v, ok := s.Data.(api.SystemHealth); ok {
				o.Health = NewHealthCard(v)
				o.Health.Fallback = s.Fallback
			}
			o.Health.Error = s.Error
		case panel.ClimateTwin:
			if v, ok := s.Data.(panel.ClimateTwinView); ok {
				o.Rooms = v.Rooms
				o.Counts = v.Counts
			}
			o.RoomsErr = s.Error
		case panel.Alerts:
			if v, ok := s.Data.([]api.Alert); ok {
				o.Alerts = v
			}
			o.AlertsErr = s.Error
		}
	}
	return o
}

func renderOverview(w io.Writer, o overview) error {
	return overviewPage.Execute(w, o)
}

var overviewPage = template.Must(template.New("overview").Funcs(template.FuncMap{
	"one": func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
}).Parse(`<!DOCTYPE html>
<html lang="id">
<head>
<meta charset="utf-8">
<title>Climate Digital Twin</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.card { border: 1px solid #ddd; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
.banner { background: #fdecea; color: #b71c1c; padding: .5rem 1rem; border-radius: 4px; }
.bar { background: #eee; border-radius: 4px; height: 12px; }
.bar > div { height: 12px; border-radius: 4px; }
.rooms { display: grid; grid-template-columns: repeat(6, 1fr); gap: .5rem; }
.room { color: #fff; padding: .5rem; border-radius: 4px; }
</style>
</head>
<body>
<h1>Climate Digital Twin</h1>

<section class="card" id="environmental">
<h2>Kondisi Lingkungan</h2>
{{with .EnvironmentErr}}<p class="banner">{{.}}</p>{{end}}
{{with .Environment}}
<p>Suhu rata-rata: {{one .Status.Temperature.Average}}°C (min {{one .Status.Temperature.Min}}, maks {{one .Status.Temperature.Max}})</p>
<p>Kelembapan rata-rata: {{one .Status.Humidity.Average}}% (min {{one .Status.Humidity.Min}}, maks {{one .Status.Humidity.Max}})</p>
<p>Cuaca luar: {{.Weather.Condition}}, {{one .Weather.Temperature}}°C{{if .WeatherFallback}} (data cadangan){{end}}</p>
{{end}}
<p><a href="forecast">Prakiraan cuaca BMKG</a></p>
</section>

<section class="card" id="system-health">
<h2>Status Sistem</h2>
{{with .Health}}
{{with .Error}}<p class="banner">{{.}}</p>{{end}}
<p>Status: <strong>{{.Status}}</strong>{{if .Fallback}} (data cadangan){{end}}</p>
<p>Perangkat aktif: {{.Active}}/{{.Total}}</p>
<div class="bar"><div style="{{.BarStyle}}"></div></div>
<p>InfluxDB: {{.InfluxDB}}</p>
{{end}}
</section>

<section class="card" id="climate-twin">
<h2>Ruangan</h2>
{{with .RoomsErr}}<p class="banner">{{.}}</p>{{end}}
<div class="rooms">
{{range .Rooms}}<div class="room" style="background-color: {{.Color}}"><strong>{{.ID}}</strong><br>{{one .CurrentConditions.Temperature}}°C / {{one .CurrentConditions.Humidity}}%</div>
{{end}}
</div>
{{if .GrafanaURL}}<p><a href="{{.GrafanaURL}}">Grafana</a></p>{{end}}
</section>

<section class="card" id="alerts">
<h2>Peringatan</h2>
{{with .AlertsErr}}<p class="banner">{{.}}</p>{{end}}
<ul>
{{range .Alerts}}<li>[{{.Type}}] {{if .Title}}{{.Title}}: {{end}}{{.Message}}{{with .Room}} ({{.}}){{end}}</li>
{{else}}<li>Tidak ada peringatan.</li>
{{end}}
</ul>
</section>

<footer>Diperbarui {{.GeneratedAt}}</footer>
</body>
</html>
`))
