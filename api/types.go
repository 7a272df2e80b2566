package api

import "github.com/mjasion/balena-home/climatetwin/classify"

// Stats is an average/min/max triple
type Stats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// EnvironmentalStatus is the merged last-hour temperature and humidity view
type EnvironmentalStatus struct {
	Temperature Stats `json:"temperature"`
	Humidity    Stats `json:"humidity"`
	// Defaulted names the fields that were replaced by fallback constants
	Defaulted []string `json:"defaulted,omitempty"`
}

// ConnectionState is the backend's InfluxDB connectivity
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionUnknown      ConnectionState = "unknown"
)

// SystemHealth is the normalized device health view
type SystemHealth struct {
	Status        classify.HealthStatus `json:"status"`
	ActiveDevices int                   `json:"active_devices"`
	TotalDevices  int                   `json:"total_devices"`
	Ratio         float64               `json:"ratio_active_to_total"`
	InfluxDB      ConnectionState       `json:"influxdb_connection"`
}

// ExternalWeather is the latest BMKG observation relayed by the backend
type ExternalWeather struct {
	Condition     string  `json:"condition"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection string  `json:"wind_direction,omitempty"`
	Pressure      float64 `json:"pressure,omitempty"`
	Visibility    string  `json:"visibility,omitempty"`
	Region        string  `json:"region,omitempty"`
	Station       string  `json:"station,omitempty"`
	DataSource    string  `json:"data_source,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
}

// Conditions are the current readings of a room
type Conditions struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	CO2         float64 `json:"co2"`
	Light       float64 `json:"light"`
}

// DeviceStatus is the state of a room device
type DeviceStatus string

const (
	DeviceActive   DeviceStatus = "active"
	DeviceInactive DeviceStatus = "inactive"
)

// SensorStatus is the state of a room's sensor
type SensorStatus string

const (
	SensorActive  SensorStatus = "active"
	SensorOffline SensorStatus = "offline"
)

// Device is an actuator in a room (AC unit, dehumidifier)
type Device struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   DeviceStatus `json:"status"`
	SetPoint float64      `json:"setPoint"`
}

// RoomSnapshot is the current state of one room
type RoomSnapshot struct {
	ID                string       `json:"id"`
	CurrentConditions Conditions   `json:"currentConditions"`
	Devices           []Device     `json:"devices"`
	SensorStatus      SensorStatus `json:"sensorStatus"`
}

// Priority ranks a recommendation
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Recommendation is one proactive suggestion. Optional fields are omitted when absent.
type Recommendation struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        Priority `json:"priority"`
	Timeframe       string   `json:"timeframe,omitempty"`
	Category        string   `json:"category,omitempty"`
	Room            string   `json:"room,omitempty"`
	Action          string   `json:"action,omitempty"`
	EstimatedImpact string   `json:"estimated_impact,omitempty"`
	EnergySaving    string   `json:"energy_saving,omitempty"`
}

// Recommendations groups urgent and general suggestions
type Recommendations struct {
	Priority       []Recommendation `json:"priority_recommendations"`
	General        []Recommendation `json:"general_recommendations"`
	Total          int              `json:"total_recommendations"`
	LastUpdated    string           `json:"last_updated,omitempty"`
	AnalysisPeriod string           `json:"analysis_period,omitempty"`
}

// AlertType is the severity bucket of an alert
type AlertType string

const (
	AlertCritical AlertType = "critical"
	AlertWarning  AlertType = "warning"
	AlertInfo     AlertType = "info"
)

// Alert is a system alert
type Alert struct {
	ID             string    `json:"id"`
	Type           AlertType `json:"type"`
	Title          string    `json:"title,omitempty"`
	Message        string    `json:"message"`
	Room           string    `json:"room,omitempty"`
	Parameter      string    `json:"parameter,omitempty"`
	Value          *float64  `json:"value,omitempty"`
	Threshold      *float64  `json:"threshold,omitempty"`
	Timestamp      string    `json:"timestamp"`
	Status         string    `json:"status,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
}

// TrendSeries is one parameter over time
type TrendSeries struct {
	Period     string    `json:"period"`
	Location   string    `json:"location"`
	Parameter  string    `json:"parameter"`
	Timestamps []string  `json:"timestamps"`
	Values     []float64 `json:"values"`
}

// Dataset is one labelled line of a chart
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// Chart is a labelled set of series
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// ModelInfo describes the model behind a prediction
type ModelInfo struct {
	Name             string  `json:"model_name"`
	Version          string  `json:"version,omitempty"`
	Accuracy         float64 `json:"accuracy"`
	PredictionsCount int     `json:"predictions_count"`
	GeneratedAt      string  `json:"generated_at,omitempty"`
	Status           string  `json:"status,omitempty"`
}

// PredictiveAnalysis holds forecast temperature and humidity charts
type PredictiveAnalysis struct {
	Temperature Chart     `json:"temperature"`
	Humidity    Chart     `json:"humidity"`
	Model       ModelInfo `json:"model_info"`
}

// AutomationSchedule is one schedule window
type AutomationSchedule struct {
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	TargetTemp float64 `json:"target_temp"`
}

// AutomationSettings controls the building's climate automation
type AutomationSettings struct {
	TemperatureControl     bool    `json:"temperature_control"`
	HumidityControl        bool    `json:"humidity_control"`
	TargetTemperature      float64 `json:"target_temperature"`
	TemperatureTolerance   float64 `json:"temperature_tolerance"`
	TargetHumidity         float64 `json:"target_humidity"`
	HumidityTolerance      float64 `json:"humidity_tolerance"`
	AutoAlerts             bool    `json:"auto_alerts"`
	AlertThresholdTemp     float64 `json:"alert_threshold_temp"`
	AlertThresholdHumidity float64 `json:"alert_threshold_humidity"`
	ScheduleEnabled        bool    `json:"schedule_enabled"`
	Schedule               struct {
		Weekdays AutomationSchedule `json:"weekdays"`
		Weekends AutomationSchedule `json:"weekends"`
	} `json:"schedule"`
	LastUpdated string `json:"last_updated,omitempty"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

// MLModel is a trained model file known to the ML service
type MLModel struct {
	Name       string `json:"model_name"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	CreatedAt  string `json:"created_at,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// MLPrediction is a single point forecast
type MLPrediction struct {
	ModelName      string  `json:"model_name"`
	PredictionTime string  `json:"prediction_time"`
	HoursAhead     int     `json:"hours_ahead"`
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
}

// Summary holds descriptive statistics of a training column
type Summary struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Std  float64 `json:"std"`
}

// TrainingStats summarizes the data available for model training
type TrainingStats struct {
	TotalRecords int      `json:"total_records"`
	Locations    []string `json:"locations"`
	Devices      []string `json:"devices"`
	Temperature  Summary  `json:"temperature_stats"`
	Humidity     Summary  `json:"humidity_stats"`
}

// DefaultAutomationSettings returns the settings the dashboard assumes before
// the backend answers
func DefaultAutomationSettings() AutomationSettings {
	s := AutomationSettings{
		TemperatureControl:     true,
		HumidityControl:        true,
		TargetTemperature:      24,
		TemperatureTolerance:   2,
		TargetHumidity:         60,
		HumidityTolerance:      10,
		AutoAlerts:             true,
		AlertThresholdTemp:     27,
		AlertThresholdHumidity: 75,
	}
	s.Schedule.Weekdays = AutomationSchedule{StartTime: "07:00", EndTime: "18:00", TargetTemp: 24}
	s.Schedule.Weekends = AutomationSchedule{StartTime: "09:00", EndTime: "15:00", TargetTemp: 25}
	return s
}
