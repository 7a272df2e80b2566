package types

import "time"

// ReadingType identifies the kind of reading held by a Reading
type ReadingType string

const (
	ReadingTypeEnvironment ReadingType = "environment"
	ReadingTypeHealth      ReadingType = "health"
	ReadingTypeRoom        ReadingType = "room"
)

// Reading is a union of the readings exported to Prometheus
type Reading struct {
	Type        ReadingType         `json:"type"`
	Environment *EnvironmentReading `json:"environment,omitempty"`
	Health      *HealthReading      `json:"health,omitempty"`
	Room        *RoomReading        `json:"room,omitempty"`
}

// EnvironmentReading is one building-wide last-hour statistics sample
type EnvironmentReading struct {
	Timestamp      time.Time `json:"timestamp"`
	TemperatureAvg float64   `json:"temperature_avg"`
	TemperatureMin float64   `json:"temperature_min"`
	TemperatureMax float64   `json:"temperature_max"`
	HumidityAvg    float64   `json:"humidity_avg"`
	HumidityMin    float64   `json:"humidity_min"`
	HumidityMax    float64   `json:"humidity_max"`
}

// HealthReading is one system health sample
type HealthReading struct {
	Timestamp         time.Time `json:"timestamp"`
	Status            string    `json:"status"`
	ActiveDevices     int       `json:"active_devices"`
	TotalDevices      int       `json:"total_devices"`
	Ratio             float64   `json:"ratio"`
	InfluxDBConnected bool      `json:"influxdb_connected"`
}

// RoomReading is one per-room conditions sample
type RoomReading struct {
	Timestamp   time.Time `json:"timestamp"`
	RoomID      string    `json:"room_id"`
	Status      string    `json:"status"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CO2         float64   `json:"co2"`
	Light       float64   `json:"light"`
}

// GetTimestamp returns the timestamp of the reading regardless of type
func (r *Reading) GetTimestamp() time.Time {
	switch {
	case r.Type == ReadingTypeEnvironment && r.Environment != nil:
		return r.Environment.Timestamp
	case r.Type == ReadingTypeHealth && r.Health != nil:
		return r.Health.Timestamp
	case r.Type == ReadingTypeRoom && r.Room != nil:
		return r.Room.Timestamp
	default:
		return time.Time{}
	}
}
