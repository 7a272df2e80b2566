package forecast

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const sampleForecast = `{
  "lokasi": {
    "desa": "Gambir",
    "kecamatan": "Gambir",
    "kotkab": "Kota Adm. Jakarta Pusat",
    "provinsi": "DKI Jakarta",
    "lat": -6.1707,
    "lon": 106.8128,
    "timezone": "Asia/Jakarta"
  },
  "data": [{
    "cuaca": [
      [{
        "local_datetime": "2025-06-03 13:00:00",
        "weather_desc": "Cerah Berawan",
        "image": "https://api-apps.bmkg.go.id/storage/icon/cuaca/cerah berawan-am.svg",
        "t": 31,
        "hu": 66,
        "ws": 9.4,
        "wd": "N",
        "vs_text": "> 10 km"
      }],
      "bukan daftar"
    ]
  }]
}`

func serve(t *testing.T, status int, body string) *Fetcher {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return NewFetcher(server.URL, 5*time.Second, zap.NewNop())
}

func get(t *testing.T, f *Fetcher) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(f, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast", nil))
	return rec
}

func TestHandlerRendersForecast(t *testing.T) {
	rec := get(t, serve(t, http.StatusOK, sampleForecast))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"Prakiraan Cuaca BMKG",
		"<h2>Gambir</h2>",
		"Kota Adm. Jakarta Pusat",
		"-6.1707, 106.8128",
		"Asia/Jakarta",
		"Detail Prakiraan Cuaca:",
		"Hari ke-1",
		"Jam: 2025-06-03 13:00:00",
		"Cuaca: Cerah Berawan",
		"cerah%20berawan-am.svg",
		"Suhu: 31°C",
		"Kelembapan: 66%",
		"Kec. Angin: 9.4 km/j",
		"Arah Angin: N",
		"Jarak Pandang: &gt; 10 km",
		"Hari ke-2",
		"Data tidak valid.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q", want)
		}
	}
}

func TestHandlerFetchFailure(t *testing.T) {
	rec := get(t, serve(t, http.StatusServiceUnavailable, "down"))

	if got := rec.Body.String(); got != "ERROR: Gagal mengambil data." {
		t.Errorf("Expected fetch error line, got %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected plain text, got %s", ct)
	}
}

func TestHandlerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	f := NewFetcher(server.URL, time.Second, zap.NewNop())
	server.Close()

	if got := get(t, f).Body.String(); got != "ERROR: Gagal mengambil data." {
		t.Errorf("Expected fetch error line, got %q", got)
	}
}

func TestHandlerInvalidJSON(t *testing.T) {
	rec := get(t, serve(t, http.StatusOK, "<html>maintenance</html>"))

	got := rec.Body.String()
	if !strings.HasPrefix(got, "ERROR: Data bukan format JSON yang valid. invalid character '<'") {
		t.Errorf("Expected invalid JSON line with decoder detail, got %q", got)
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	_, err := Decode([]byte("{bad"))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
	if errors.Is(err, ErrFetch) {
		t.Error("Expected decode error not to match ErrFetch")
	}
	if got := Message(errors.Wrap(ErrFetch, "status 503")); got != "ERROR: Gagal mengambil data." {
		t.Errorf("Expected fetch error line, got %q", got)
	}
}

func TestFetchHonoursContext(t *testing.T) {
	f := serve(t, http.StatusOK, sampleForecast)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Fetch(ctx); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestMissingStructure(t *testing.T) {
	fc, err := Decode([]byte(`{"lokasi": {"desa": "Gambir"}, "data": []}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var buf bytes.Buffer
	if err := Render(&buf, fc); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	body := buf.String()
	if !strings.Contains(body, "Lokasi Tidak Ditemukan") {
		t.Error("Expected missing location notice")
	}
	if !strings.Contains(body, "Struktur data prakiraan cuaca tidak ditemukan.") {
		t.Error("Expected missing structure notice")
	}
	if !strings.Contains(body, "Detail Prakiraan Cuaca:") {
		t.Error("Expected forecast heading even without days")
	}
}

func TestLocationDefaults(t *testing.T) {
	fc, err := Decode([]byte(`{"lokasi": {"desa": "Gambir", "kecamatan": "Gambir", "lat": null}}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fc.Location == nil {
		t.Fatal("Expected location")
	}
	if fc.Location.Provinsi.Or() != "N/A" || fc.Location.Lat.Or() != "N/A" {
		t.Errorf("Expected N/A defaults, got %q %q", fc.Location.Provinsi.Or(), fc.Location.Lat.Or())
	}
}

func TestImageURL(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"https://x.id/a b.svg", "https://x.id/a%20b.svg"},
		{"icon.svg", ""},
		{"ftp://x.id/a.svg", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := (Entry{Image: Value(tt.image)}).ImageURL(); got != tt.want {
			t.Errorf("ImageURL(%q): expected %q, got %q", tt.image, tt.want, got)
		}
	}
}
