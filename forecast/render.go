package forecast

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const pageSource = `<!DOCTYPE html>
<html lang="id">
<head>
<meta charset="utf-8">
<title>Prakiraan Cuaca BMKG</title>
</head>
<body>
<h1>Prakiraan Cuaca BMKG</h1>
{{with .Location -}}
<h2>{{.Desa.Or}}</h2>
<p>Kecamatan: {{.Kecamatan.Or}}</p>
<p>Kota/Kabupaten: {{.Kotkab.Or}}</p>
<p>Provinsi: {{.Provinsi.Or}}</p>
<p>Koordinat: {{.Lat.Or}}, {{.Lon.Or}}</p>
<p>Zona Waktu: {{.Timezone.Or}}</p>
{{- else -}}
<h2>Lokasi Tidak Ditemukan</h2>
{{- end}}
<hr>
<h3>Detail Prakiraan Cuaca:</h3>
{{if .Days -}}
{{range $i, $day := .Days -}}
<h4>Hari ke-{{inc $i}}</h4>
{{if $day.Valid -}}
<ul>
{{range $day.Entries -}}
<li>
<p>Jam: {{.LocalDatetime.Or}}</p>
<p>Cuaca: {{.WeatherDesc.Or}}</p>
{{with .ImageURL}}<img src="{{.}}" alt="ikon cuaca">{{end}}
<p>Suhu: {{.Temperature.Or}}°C</p>
<p>Kelembapan: {{.Humidity.Or}}%</p>
<p>Kec. Angin: {{.WindSpeed.Or}} km/j</p>
<p>Arah Angin: {{.WindDirection.Or}}</p>
<p>Jarak Pandang: {{.Visibility.Or}}</p>
</li>
{{end -}}
</ul>
{{- else -}}
<p>Data tidak valid.</p>
{{- end}}
{{end -}}
{{- else -}}
<p>Struktur data prakiraan cuaca tidak ditemukan.</p>
{{- end}}
</body>
</html>
`

var page = template.Must(template.New("forecast").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(pageSource))

// Source loads a forecast
type Source interface {
	Fetch(ctx context.Context) (*Forecast, error)
}

// Render writes fc as the forecast HTML page
func Render(w io.Writer, fc *Forecast) error {
	return page.Execute(w, fc)
}

// Handler serves the forecast page. Failures are reported as a single
// plain-text ERROR line.
func Handler(src Source, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc, err := src.Fetch(r.Context())
		if err != nil {
			logger.Warn("forecast unavailable", zap.Error(err))
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(Message(err)))
			return
		}

		var buf bytes.Buffer
		if err := Render(&buf, fc); err != nil {
			logger.Error("failed to render forecast", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	})
}
