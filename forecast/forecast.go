// Package forecast renders the public BMKG village weather forecast.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// DefaultURL is the BMKG forecast for Gambir, Jakarta Pusat (adm4 31.71.01.1001)
const DefaultURL = "https://api.bmkg.go.id/publik/prakiraan-cuaca?adm4=31.71.01.1001"

const maxBodySize = 4 << 20

var (
	// ErrFetch means the forecast could not be downloaded
	ErrFetch = errors.New("forecast fetch failed")
	// ErrInvalidJSON means the forecast body was not JSON
	ErrInvalidJSON = errors.New("forecast body is not valid JSON")
)

// jsonError keeps the decoder message of a body that is not JSON
type jsonError struct {
	cause error
}

func (e *jsonError) Error() string {
	return ErrInvalidJSON.Error() + ": " + e.cause.Error()
}

func (e *jsonError) Unwrap() error {
	return e.cause
}

// Is matches ErrInvalidJSON
func (e *jsonError) Is(target error) bool {
	return target == ErrInvalidJSON
}

// Value is a loosely typed scalar kept in its text form. BMKG sends some
// fields as numbers and others as strings.
type Value string

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(b []byte) error {
	*v = ""
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*v = Value(n.String())
	}
	return nil
}

// Or returns the text or "N/A" when absent
func (v Value) Or() string {
	if v == "" {
		return "N/A"
	}
	return string(v)
}

// Location is the "lokasi" block
type Location struct {
	Desa      Value `json:"desa"`
	Kecamatan Value `json:"kecamatan"`
	Kotkab    Value `json:"kotkab"`
	Provinsi  Value `json:"provinsi"`
	Lat       Value `json:"lat"`
	Lon       Value `json:"lon"`
	Timezone  Value `json:"timezone"`
}

// Entry is one forecast slot
type Entry struct {
	LocalDatetime Value `json:"local_datetime"`
	WeatherDesc   Value `json:"weather_desc"`
	Image         Value `json:"image"`
	Temperature   Value `json:"t"`
	Humidity      Value `json:"hu"`
	WindSpeed     Value `json:"ws"`
	WindDirection Value `json:"wd"`
	Visibility    Value `json:"vs_text"`
}

// ImageURL returns the icon URL with spaces escaped, or "" when it is not a
// usable absolute URL
func (e Entry) ImageURL() string {
	raw := strings.ReplaceAll(string(e.Image), " ", "%20")
	if raw == "" {
		return ""
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return raw
}

// Day is the forecast of one day. Valid is false when BMKG sent something
// other than a list of entries.
type Day struct {
	Entries []Entry
	Valid   bool
}

// Forecast is the decoded BMKG response
type Forecast struct {
	Location *Location
	// Days is nil when data[0].cuaca is missing
	Days []Day
}

type forecastWire struct {
	Lokasi *Location `json:"lokasi"`
	Data   []struct {
		Cuaca json.RawMessage `json:"cuaca"`
	} `json:"data"`
}

// Fetcher downloads and decodes the forecast
type Fetcher struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewFetcher creates a Fetcher for url. An empty url means DefaultURL.
func NewFetcher(forecastURL string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if forecastURL == "" {
		forecastURL = DefaultURL
	}
	return &Fetcher{
		url: forecastURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Fetch downloads the forecast. Errors wrap ErrFetch or ErrInvalidJSON.
func (f *Fetcher) Fetch(ctx context.Context) (*Forecast, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.Wrap(ErrFetch, "could not create the forecast request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("forecast request failed", zap.String("url", f.url), zap.Error(err))
		return nil, errors.Wrap(ErrFetch, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("forecast request rejected", zap.String("url", f.url), zap.Int("status", resp.StatusCode))
		return nil, errors.Wrapf(ErrFetch, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(ErrFetch, "could not read the forecast body")
	}

	return Decode(body)
}

// Decode parses a BMKG forecast body
func Decode(body []byte) (*Forecast, error) {
	var w forecastWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &jsonError{cause: err}
	}

	fc := &Forecast{Location: w.Lokasi}
	if fc.Location != nil && (fc.Location.Desa == "" || fc.Location.Kecamatan == "") {
		fc.Location = nil
	}

	if len(w.Data) == 0 || len(w.Data[0].Cuaca) == 0 {
		return fc, nil
	}

	var days []json.RawMessage
	if err := json.Unmarshal(w.Data[0].Cuaca, &days); err != nil {
		return fc, nil
	}

	fc.Days = make([]Day, 0, len(days))
	for _, raw := range days {
		var entries []Entry
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) && json.Unmarshal(raw, &entries) == nil {
			fc.Days = append(fc.Days, Day{Entries: entries, Valid: true})
			continue
		}
		fc.Days = append(fc.Days, Day{})
	}
	return fc, nil
}

// Message returns the plain-text error line shown for err. Invalid JSON
// carries the decoder message.
func Message(err error) string {
	var je *jsonError
	if errors.As(err, &je) {
		return "ERROR: Data bukan format JSON yang valid. " + je.cause.Error()
	}
	if errors.Is(err, ErrInvalidJSON) {
		return "ERROR: Data bukan format JSON yang valid."
	}
	return "ERROR: Gagal mengambil data."
}
