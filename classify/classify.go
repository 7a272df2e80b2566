// Package classify holds the fixed threshold tables that turn normalized
// readings into status buckets and colors.
package classify

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HealthStatus is the system health tier reported by the backend
type HealthStatus string

const (
	HealthOptimal  HealthStatus = "Optimal"
	HealthGood     HealthStatus = "Good"
	HealthWarning  HealthStatus = "Warning"
	HealthCritical HealthStatus = "Critical"
	HealthUnknown  HealthStatus = "Unknown"
)

// RoomStatus is the comfort bucket of a room
type RoomStatus string

const (
	RoomOptimal  RoomStatus = "optimal"
	RoomWarning  RoomStatus = "warning"
	RoomCritical RoomStatus = "critical"
	RoomUnknown  RoomStatus = "unknown"
)

// Color is an RGB color
type Color struct {
	R, G, B uint8
}

// Hex renders the color as #rrggbb
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Palette
var (
	Green      = Color{0x4C, 0xAF, 0x50}
	LightGreen = Color{0x8B, 0xC3, 0x4A}
	Orange     = Color{0xFF, 0x98, 0x00}
	Red        = Color{0xF4, 0x43, 0x36}
	Grey       = Color{0x9E, 0x9E, 0x9E}
	Blue       = Color{0x21, 0x96, 0xF3}
)

// healthTiers is the single device-ratio table, checked top to bottom.
var healthTiers = []struct {
	status HealthStatus
	above  float64
	strict bool
	color  Color
}{
	{HealthOptimal, 0.9, true, Green},
	{HealthGood, 0.75, false, LightGreen},
	{HealthWarning, 0.5, false, Orange},
	{HealthCritical, math.Inf(-1), false, Red},
}

// HealthTier maps an active/total device ratio to a health tier:
// above 0.9 Optimal, from 0.75 Good, from 0.5 Warning, otherwise Critical.
func HealthTier(ratio float64) HealthStatus {
	if math.IsNaN(ratio) {
		return HealthUnknown
	}
	for _, tier := range healthTiers {
		if ratio > tier.above || (!tier.strict && ratio == tier.above) {
			return tier.status
		}
	}
	return HealthCritical
}

// HealthColor returns the color of the tier for ratio
func HealthColor(ratio float64) Color {
	return StatusColor(HealthTier(ratio))
}

// StatusColor returns the color of a health status
func StatusColor(status HealthStatus) Color {
	for _, tier := range healthTiers {
		if tier.status == status {
			return tier.color
		}
	}
	return Grey
}

// ParseHealthStatus case-normalizes s (first letter upper, rest lower).
// Values outside the known tiers become HealthUnknown.
func ParseHealthStatus(s string) HealthStatus {
	s = strings.TrimSpace(s)
	if s == "" {
		return HealthUnknown
	}
	normalized := HealthStatus(strings.ToUpper(s[:1]) + strings.ToLower(s[1:]))
	switch normalized {
	case HealthOptimal, HealthGood, HealthWarning, HealthCritical:
		return normalized
	}
	return HealthUnknown
}

// ExtractRatio parses an "active/total" string such as "7/12".
// Anything unparseable, or a non-positive total, yields 0.
func ExtractRatio(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0
	}
	active, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0
	}
	total, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil || total <= 0 || active < 0 {
		return 0
	}
	return active / total
}

// Range is a closed interval
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies within the range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Thresholds holds the comfort bands used for room classification
type Thresholds struct {
	OptimalTemperature Range `yaml:"optimalTemperature"`
	OptimalHumidity    Range `yaml:"optimalHumidity"`
	WarningTemperature Range `yaml:"warningTemperature"`
	WarningHumidity    Range `yaml:"warningHumidity"`
}

// DefaultThresholds: optimal 18-24 °C and 40-60 %RH, warning 16-26 °C and 35-65 %RH.
var DefaultThresholds = Thresholds{
	OptimalTemperature: Range{18, 24},
	OptimalHumidity:    Range{40, 60},
	WarningTemperature: Range{16, 26},
	WarningHumidity:    Range{35, 65},
}

// Validate checks that every band is ordered and warning bands enclose optimal ones
func (t Thresholds) Validate() error {
	pairs := []struct {
		name             string
		optimal, warning Range
	}{
		{"temperature", t.OptimalTemperature, t.WarningTemperature},
		{"humidity", t.OptimalHumidity, t.WarningHumidity},
	}
	for _, p := range pairs {
		if p.optimal.Min > p.optimal.Max || p.warning.Min > p.warning.Max {
			return fmt.Errorf("%s thresholds must have min <= max", p.name)
		}
		if p.warning.Min > p.optimal.Min || p.warning.Max < p.optimal.Max {
			return fmt.Errorf("%s warning band must enclose the optimal band", p.name)
		}
	}
	return nil
}

// Room classifies temperature and humidity. Both must be inside the optimal
// bands for optimal, and inside the warning bands for warning.
func (t Thresholds) Room(temperature, humidity float64) RoomStatus {
	if math.IsNaN(temperature) || math.IsNaN(humidity) {
		return RoomUnknown
	}
	switch {
	case t.OptimalTemperature.Contains(temperature) && t.OptimalHumidity.Contains(humidity):
		return RoomOptimal
	case t.WarningTemperature.Contains(temperature) && t.WarningHumidity.Contains(humidity):
		return RoomWarning
	default:
		return RoomCritical
	}
}

// RoomColor returns the display color of a room status
func RoomColor(status RoomStatus) Color {
	switch status {
	case RoomOptimal:
		return Green
	case RoomWarning:
		return Orange
	case RoomCritical:
		return Red
	default:
		return Grey
	}
}

// Interpolate maps v linearly from [lo, hi] onto the colors from..to,
// clamping outside the interval.
func Interpolate(v, lo, hi float64, from, to Color) Color {
	if hi <= lo || math.IsNaN(v) {
		return from
	}
	f := (v - lo) / (hi - lo)
	f = math.Max(0, math.Min(1, f))
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
	}
	return Color{mix(from.R, to.R), mix(from.G, to.G), mix(from.B, to.B)}
}

// TemperatureColor colors a temperature from blue at the optimal minimum to
// red at the optimal maximum.
func (t Thresholds) TemperatureColor(temperature float64) Color {
	return Interpolate(temperature, t.OptimalTemperature.Min, t.OptimalTemperature.Max, Blue, Red)
}

// Level is the state of a single room detail metric
type Level string

const (
	LevelOptimal Level = "optimal"
	LevelWarning Level = "warning"
)

// CO2Level is optimal below 600 ppm
func CO2Level(ppm float64) Level {
	if ppm < 600 {
		return LevelOptimal
	}
	return LevelWarning
}

// LightLevel is optimal strictly between 300 and 500 lux
func LightLevel(lux float64) Level {
	if lux > 300 && lux < 500 {
		return LevelOptimal
	}
	return LevelWarning
}
