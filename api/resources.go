package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRejected marks a 2xx response whose payload reports a failed operation
var ErrRejected = errors.New("backend reported failure")

// TrendQuery selects a trend series. Empty fields are not sent.
type TrendQuery struct {
	Period    string
	Location  string
	Parameter string
}

// PredictionQuery selects a prediction model and horizon. Empty fields are not sent.
type PredictionQuery struct {
	Model     string
	Timeframe string
}

// MLPredictQuery parameterizes a single model prediction
type MLPredictQuery struct {
	ModelName  string
	HoursAhead int
	Location   string
	Device     string
}

// SystemHealth fetches device health from GET /system/health/
func (c *Client) SystemHealth(ctx context.Context) (SystemHealth, error) {
	var w healthWire
	if err := c.get(ctx, "/system/health/", nil, &w); err != nil {
		return SystemHealth{}, err
	}
	return normalizeHealth(w), nil
}

// EnvironmentalStatus merges the last-hour temperature and humidity statistics.
// Both requests run concurrently; the call fails if either fails.
func (c *Client) EnvironmentalStatus(ctx context.Context) (EnvironmentalStatus, error) {
	var (
		temp temperatureStatsWire
		hum  humidityStatsWire
	)

	humErr := make(chan error, 1)
	go func() {
		humErr <- c.get(ctx, "/stats/humidity/last-hour/stats/", nil, &hum)
	}()

	tempErr := c.get(ctx, "/stats/temperature/last-hour/stats/", nil, &temp)
	if err := errors.Join(tempErr, <-humErr); err != nil {
		return EnvironmentalStatus{}, err
	}

	return normalizeEnvironment(temp, hum), nil
}

// ExternalWeather fetches the latest BMKG observation from GET /external/bmkg/latest
func (c *Client) ExternalWeather(ctx context.Context) (ExternalWeather, error) {
	var w weatherWire
	if err := c.get(ctx, "/external/bmkg/latest", nil, &w); err != nil {
		return ExternalWeather{}, err
	}
	return normalizeWeather(w), nil
}

// Room fetches one room from GET /rooms/{id}
func (c *Client) Room(ctx context.Context, id string) (RoomSnapshot, error) {
	if strings.TrimSpace(id) == "" {
		return RoomSnapshot{}, fmt.Errorf("room id is required")
	}
	var w roomWire
	if err := c.get(ctx, "/rooms/"+url.PathEscape(id), nil, &w); err != nil {
		return RoomSnapshot{}, err
	}
	return normalizeRoom(id, w), nil
}

// Alerts fetches alerts from GET /alerts, optionally filtered by type
func (c *Client) Alerts(ctx context.Context, filter string) ([]Alert, error) {
	var w alertsWire
	if err := c.get(ctx, "/alerts", url.Values{"filter": {filter}}, &w); err != nil {
		return nil, err
	}
	return normalizeAlerts(w), nil
}

// Trends fetches a series from GET /data/trends
func (c *Client) Trends(ctx context.Context, q TrendQuery) (TrendSeries, error) {
	const path = "/data/trends"
	var w struct {
		Timestamps []ID              `json:"timestamps"`
		Values     []Number[float64] `json:"values"`
	}
	query := url.Values{"period": {q.Period}, "location": {q.Location}, "parameter": {q.Parameter}}
	if err := c.get(ctx, path, query, &w); err != nil {
		return TrendSeries{}, err
	}
	if w.Timestamps == nil || w.Values == nil || len(w.Timestamps) != len(w.Values) {
		return TrendSeries{}, &Error{Kind: KindDecode, Method: http.MethodGet, Path: path,
			Message: fmt.Sprintf("invalid trend payload: %d timestamps, %d values", len(w.Timestamps), len(w.Values))}
	}

	return TrendSeries{
		Period:     q.Period,
		Location:   q.Location,
		Parameter:  q.Parameter,
		Timestamps: ids(w.Timestamps),
		Values:     floats(w.Values),
	}, nil
}

// Predictions fetches a prediction chart from GET /predictions
func (c *Client) Predictions(ctx context.Context, q PredictionQuery) (Chart, error) {
	var w chartWire
	query := url.Values{"model": {q.Model}, "timeframe": {q.Timeframe}}
	if err := c.get(ctx, "/predictions", query, &w); err != nil {
		return Chart{}, err
	}
	return normalizeChart(w), nil
}

// PredictiveAnalysis fetches forecast charts from GET /analysis/predictive
func (c *Client) PredictiveAnalysis(ctx context.Context, q PredictionQuery) (PredictiveAnalysis, error) {
	var w struct {
		Temperature chartWire `json:"temperature"`
		Humidity    chartWire `json:"humidity"`
		ModelInfo   struct {
			Name             Text            `json:"model_name"`
			Version          Text            `json:"version"`
			Accuracy         Number[float64] `json:"accuracy"`
			PredictionsCount Number[int]     `json:"predictions_count"`
			GeneratedAt      Text            `json:"generated_at"`
			Status           Text            `json:"status"`
		} `json:"model_info"`
	}
	query := url.Values{"model": {q.Model}, "timeframe": {q.Timeframe}}
	if err := c.get(ctx, "/analysis/predictive", query, &w); err != nil {
		return PredictiveAnalysis{}, err
	}

	m := w.ModelInfo
	return PredictiveAnalysis{
		Temperature: normalizeChart(w.Temperature),
		Humidity:    normalizeChart(w.Humidity),
		Model: ModelInfo{
			Name:             m.Name.Or(q.Model),
			Version:          m.Version.Value,
			Accuracy:         m.Accuracy.Or(0),
			PredictionsCount: m.PredictionsCount.Or(0),
			GeneratedAt:      m.GeneratedAt.Value,
			Status:           m.Status.Value,
		},
	}, nil
}

// Recommendations fetches proactive suggestions from GET /recommendations/proactive
func (c *Client) Recommendations(ctx context.Context) (Recommendations, error) {
	var w recommendationsWire
	if err := c.get(ctx, "/recommendations/proactive", nil, &w); err != nil {
		return Recommendations{}, err
	}
	return normalizeRecommendations(w), nil
}

// AutomationSettings fetches the current settings from GET /automation/settings
func (c *Client) AutomationSettings(ctx context.Context) (AutomationSettings, error) {
	var s AutomationSettings
	if err := c.get(ctx, "/automation/settings", nil, &s); err != nil {
		return AutomationSettings{}, err
	}
	return s, nil
}

// UpdateAutomationSettings re-sends the full settings object with PUT /automation/settings
// and returns the settings echoed back by the backend. Repeating the call is not
// guaranteed to be idempotent.
func (c *Client) UpdateAutomationSettings(ctx context.Context, s AutomationSettings) (AutomationSettings, error) {
	var w struct {
		Message  string              `json:"message"`
		Settings *AutomationSettings `json:"settings"`
	}
	if err := c.doRequest(ctx, http.MethodPut, "/automation/settings", nil, s, &w); err != nil {
		return AutomationSettings{}, err
	}
	if w.Settings == nil {
		return s, nil
	}
	return *w.Settings, nil
}

// MLModels lists trained models from GET /ml/model/list
func (c *Client) MLModels(ctx context.Context) ([]MLModel, error) {
	const path = "/ml/model/list"
	var w struct {
		Status Text      `json:"status"`
		Models []MLModel `json:"models"`
	}
	if err := c.get(ctx, path, nil, &w); err != nil {
		return nil, err
	}
	if err := checkStatus(http.MethodGet, path, w.Status); err != nil {
		return nil, err
	}

	for i := range w.Models {
		if w.Models[i].Name == "" {
			w.Models[i].Name = modelName(w.Models[i].Filename)
		}
	}
	return w.Models, nil
}

// modelName strips the extension and a trailing numeric timestamp from a
// model file name: "random_forest_20250603.joblib" is "random_forest".
func modelName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if i := strings.LastIndexByte(name, '_'); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	return name
}

// MLPredict asks a trained model for a forecast with POST /ml/model/predict
func (c *Client) MLPredict(ctx context.Context, q MLPredictQuery) (MLPrediction, error) {
	const path = "/ml/model/predict"
	var w struct {
		Status         Text        `json:"status"`
		Message        Text        `json:"message"`
		ModelName      Text        `json:"model_name"`
		PredictionTime Text        `json:"prediction_time"`
		HoursAhead     Number[int] `json:"hours_ahead"`
		Predictions    struct {
			Temperature Number[float64] `json:"temperature"`
			Humidity    Number[float64] `json:"humidity"`
		} `json:"predictions"`
	}

	query := url.Values{
		"model_name": {q.ModelName},
		"location":   {q.Location},
		"device":     {q.Device},
	}
	if q.HoursAhead > 0 {
		query.Set("hours_ahead", strconv.Itoa(q.HoursAhead))
	}

	if err := c.doRequest(ctx, http.MethodPost, path, query, nil, &w); err != nil {
		return MLPrediction{}, err
	}
	if err := checkStatus(http.MethodPost, path, w.Status); err != nil {
		return MLPrediction{}, err
	}

	temp, tempErr := w.Predictions.Temperature.Result()
	hum, humErr := w.Predictions.Humidity.Result()
	if err := errors.Join(tempErr, humErr); err != nil {
		return MLPrediction{}, &Error{Kind: KindDecode, Method: http.MethodPost, Path: path, Message: "incomplete prediction", Err: err}
	}

	return MLPrediction{
		ModelName:      w.ModelName.Or(q.ModelName),
		PredictionTime: w.PredictionTime.Value,
		HoursAhead:     w.HoursAhead.Or(q.HoursAhead),
		Temperature:    temp,
		Humidity:       hum,
	}, nil
}

// MLTrainingStats summarizes training data from GET /ml/training-data/stats
func (c *Client) MLTrainingStats(ctx context.Context, daysBack int) (TrainingStats, error) {
	const path = "/ml/training-data/stats"
	var w struct {
		Status Text `json:"status"`
		Stats  struct {
			TotalRecords Number[int] `json:"total_records"`
			Locations    []ID        `json:"locations"`
			Devices      []ID        `json:"devices"`
			Temperature  summaryWire `json:"temperature_stats"`
			Humidity     summaryWire `json:"humidity_stats"`
		} `json:"stats"`
	}

	query := url.Values{}
	if daysBack > 0 {
		query.Set("days_back", strconv.Itoa(daysBack))
	}
	if err := c.get(ctx, path, query, &w); err != nil {
		return TrainingStats{}, err
	}
	if err := checkStatus(http.MethodGet, path, w.Status); err != nil {
		return TrainingStats{}, err
	}

	return TrainingStats{
		TotalRecords: w.Stats.TotalRecords.Or(0),
		Locations:    ids(w.Stats.Locations),
		Devices:      ids(w.Stats.Devices),
		Temperature:  w.Stats.Temperature.normalize(),
		Humidity:     w.Stats.Humidity.normalize(),
	}, nil
}

// Ping checks backend reachability with GET /health
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/health", nil, nil)
}

type summaryWire struct {
	Mean Number[float64] `json:"mean"`
	Min  Number[float64] `json:"min"`
	Max  Number[float64] `json:"max"`
	Std  Number[float64] `json:"std"`
}

func (w summaryWire) normalize() Summary {
	return Summary{Mean: w.Mean.Or(0), Min: w.Min.Or(0), Max: w.Max.Or(0), Std: w.Std.Or(0)}
}

// checkStatus rejects ML payloads whose status is present and not "success".
// "no_data" is treated as an empty success.
func checkStatus(method, path string, status Text) error {
	switch status.Value {
	case "", "success", "no_data":
		return nil
	}
	return &Error{Kind: KindDecode, Method: method, Path: path, Message: "status " + strconv.Quote(status.Value), Err: ErrRejected}
}
