package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/classify"
	pkgconfig "github.com/mjasion/balena-home/climatetwin/pkg/config"
)

const (
	// DefaultAPIURL is used when nothing else resolves the backend address
	DefaultAPIURL = "http://localhost:8002"
	// ProductionAPIURL is the in-cluster backend address guessed in production
	ProductionAPIURL = "http://api:8002"
	// ProductionGrafanaURL is the reverse-proxied Grafana path used in production
	ProductionGrafanaURL = "/grafana"
)

// Config holds all configuration parameters for the climate twin dashboard
type Config struct {
	// Environment selects production defaults when set to "production"
	Environment string `yaml:"environment" env:"APP_ENV" env-default:"development"`

	API       APIConfig       `yaml:"api"`
	Grafana   GrafanaConfig   `yaml:"grafana"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Panels    PanelsConfig    `yaml:"panels"`

	// Thresholds classify rooms. Zero value means the built-in comfort bands.
	Thresholds classify.Thresholds `yaml:"thresholds"`

	Prometheus PrometheusConfig `yaml:"prometheus"`

	// Logging configuration
	Logging pkgconfig.LoggingConfig `yaml:"logging"`

	// OpenTelemetry configuration
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`

	// Profiling configuration
	Profiling pkgconfig.ProfilingConfig `yaml:"profiling"`
}

// APIConfig locates the climate backend
type APIConfig struct {
	URL            string  `yaml:"url" env:"API_URL"`
	Key            string  `yaml:"key" env:"API_KEY"`
	TimeoutSeconds float64 `yaml:"timeoutSeconds" env:"API_TIMEOUT_SECONDS" env-default:"10"`
}

// Timeout returns the request timeout as a duration
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds * float64(time.Second))
}

// GrafanaConfig locates the embedded room charts
type GrafanaConfig struct {
	URL         string `yaml:"url" env:"GRAFANA_URL"`
	DashboardID string `yaml:"dashboardId" env:"GRAFANA_DASHBOARD_ID"`
	PanelID     string `yaml:"panelId" env:"GRAFANA_PANEL_ID"`
}

// EmbedURL builds the kiosk-mode dashboard URL for a room over the last 6 hours
func (g GrafanaConfig) EmbedURL(room, theme string) string {
	if !isSet(g.URL) || !isSet(g.DashboardID) {
		return ""
	}
	if theme == "" {
		theme = "light"
	}

	q := url.Values{}
	q.Set("orgId", "1")
	q.Set("from", "now-6h")
	q.Set("to", "now")
	q.Set("theme", theme)
	if room != "" {
		q.Set("var-location", room)
	}
	if isSet(g.PanelID) {
		q.Set("viewPanel", g.PanelID)
	}

	return strings.TrimRight(g.URL, "/") + "/d/" + url.PathEscape(g.DashboardID) + "?" + q.Encode() + "&kiosk"
}

// DashboardConfig controls the HTTP server
type DashboardConfig struct {
	Port                   int `yaml:"port" env:"DASHBOARD_PORT" env-default:"8080"`
	ShutdownTimeoutSeconds int `yaml:"shutdownTimeoutSeconds" env:"DASHBOARD_SHUTDOWN_TIMEOUT_SECONDS" env-default:"10"`
	// HistorySize is how many recent readings are kept for /api/history
	HistorySize int `yaml:"historySize" env:"DASHBOARD_HISTORY_SIZE" env-default:"720"`
}

// PanelsConfig holds the refresh interval of every polled panel
type PanelsConfig struct {
	Environmental time.Duration `yaml:"environmental" env:"PANEL_ENVIRONMENTAL_INTERVAL" env-default:"5m"`
	Alerts        time.Duration `yaml:"alerts" env:"PANEL_ALERTS_INTERVAL" env-default:"3m"`
	ClimateTwin   time.Duration `yaml:"climateTwin" env:"PANEL_CLIMATE_TWIN_INTERVAL" env-default:"30s"`
	SystemHealth  time.Duration `yaml:"systemHealth" env:"PANEL_SYSTEM_HEALTH_INTERVAL" env-default:"60s"`
	// RetryDelay is how long a failed panel waits before its one-shot retry
	RetryDelay time.Duration `yaml:"retryDelay" env:"PANEL_RETRY_DELAY" env-default:"30s"`
}

// PrometheusConfig contains optional remote write export of polled readings
type PrometheusConfig struct {
	Enabled             bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"false"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"60"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
}

// Load reads configuration from the specified file path and applies environment
// variable overrides. A missing file is not an error: everything can come from
// the environment.
func Load(configPath string) (*Config, error) {
	var cfg Config

	read := cleanenv.ReadEnv
	if fileExists(configPath) {
		read = func(cfg interface{}) error { return cleanenv.ReadConfig(configPath, cfg) }
	}
	if err := read(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	if cfg.Thresholds == (classify.Thresholds{}) {
		cfg.Thresholds = classify.DefaultThresholds
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// IsProduction reports whether production defaults apply
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Resolve fills the backend and Grafana addresses. The API URL is taken from
// override, then the configured value, then the production host guess, then
// DefaultAPIURL. The result is validated.
func (c *Config) Resolve(override string) error {
	switch {
	case override != "":
		c.API.URL = override
	case c.API.URL != "":
	case c.IsProduction():
		c.API.URL = ProductionAPIURL
	default:
		c.API.URL = DefaultAPIURL
	}
	c.API.URL = strings.TrimRight(c.API.URL, "/")

	if u, err := url.ParseRequestURI(c.API.URL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid api url %q: must be absolute", c.API.URL)
	}

	if c.Grafana.URL == "" && c.IsProduction() {
		c.Grafana.URL = ProductionGrafanaURL
	}
	return nil
}

// Validate checks that all configuration parameters are valid
func (c *Config) Validate() error {
	if c.API.URL != "" {
		if _, err := url.ParseRequestURI(c.API.URL); err != nil {
			return fmt.Errorf("invalid api url: %w", err)
		}
	}

	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api timeoutSeconds must be positive, got %v", c.API.TimeoutSeconds)
	}

	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard port must be between 1 and 65535, got %d", c.Dashboard.Port)
	}

	if c.Dashboard.HistorySize <= 0 {
		return fmt.Errorf("dashboard historySize must be positive, got %d", c.Dashboard.HistorySize)
	}
	if c.Dashboard.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("dashboard shutdownTimeoutSeconds must be positive, got %d", c.Dashboard.ShutdownTimeoutSeconds)
	}

	intervals := map[string]time.Duration{
		"environmental": c.Panels.Environmental,
		"alerts":        c.Panels.Alerts,
		"climateTwin":   c.Panels.ClimateTwin,
		"systemHealth":  c.Panels.SystemHealth,
		"retryDelay":    c.Panels.RetryDelay,
	}
	for name, d := range intervals {
		if d < time.Second {
			return fmt.Errorf("panels %s must be at least 1s, got %s", name, d)
		}
	}

	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds validation failed: %w", err)
	}

	if c.Prometheus.Enabled {
		if _, err := url.ParseRequestURI(c.Prometheus.URL); err != nil {
			return fmt.Errorf("invalid prometheusUrl: %w", err)
		}
		if c.Prometheus.PushIntervalSeconds <= 0 {
			return fmt.Errorf("pushIntervalSeconds must be positive, got %d", c.Prometheus.PushIntervalSeconds)
		}
		if c.Prometheus.BufferSize <= 0 {
			return fmt.Errorf("bufferSize must be positive, got %d", c.Prometheus.BufferSize)
		}
		if c.Prometheus.BatchSize <= 0 {
			return fmt.Errorf("batchSize must be positive, got %d", c.Prometheus.BatchSize)
		}
	}

	// Validate logging configuration
	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	// Validate OpenTelemetry configuration
	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return fmt.Errorf("opentelemetry validation failed: %w", err)
	}

	// Validate Profiling configuration
	if err := pkgconfig.ValidateProfiling(&c.Profiling); err != nil {
		return fmt.Errorf("profiling validation failed: %w", err)
	}

	return nil
}

// Redacted returns a copy of the config with sensitive fields redacted for logging
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"environment": c.Environment,
		"api": map[string]interface{}{
			"url":            c.API.URL,
			"keySet":         c.API.Key != "",
			"timeoutSeconds": c.API.TimeoutSeconds,
		},
		"grafana": map[string]interface{}{
			"url":         c.Grafana.URL,
			"dashboardId": c.Grafana.DashboardID,
			"panelId":     c.Grafana.PanelID,
		},
		"dashboard": map[string]interface{}{
			"port":        c.Dashboard.Port,
			"historySize": c.Dashboard.HistorySize,
		},
		"panels": map[string]interface{}{
			"environmental": c.Panels.Environmental.String(),
			"alerts":        c.Panels.Alerts.String(),
			"climateTwin":   c.Panels.ClimateTwin.String(),
			"systemHealth":  c.Panels.SystemHealth.String(),
			"retryDelay":    c.Panels.RetryDelay.String(),
		},
		"prometheus": map[string]interface{}{
			"enabled":             c.Prometheus.Enabled,
			"prometheusUrl":       redactURL(c.Prometheus.URL),
			"prometheusUsername":  c.Prometheus.Username,
			"prometheusPassword":  "***",
			"pushIntervalSeconds": c.Prometheus.PushIntervalSeconds,
		},
		"logging": map[string]interface{}{
			"logFormat":   c.Logging.Format,
			"logLevel":    c.Logging.Level,
			"logRequests": c.Logging.Requests,
		},
		"opentelemetry": map[string]interface{}{
			"enabled":     c.OpenTelemetry.Enabled,
			"serviceName": c.OpenTelemetry.ServiceName,
			"environment": c.OpenTelemetry.Environment,
		},
		"profiling": map[string]interface{}{
			"enabled":         c.Profiling.Enabled,
			"applicationName": c.Profiling.ApplicationName,
		},
	}
}

// NewLogger creates a zap logger based on the configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// PrintConfig prints the configuration (masking sensitive fields)
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("environment", c.Environment),
		zap.String("api_url", c.API.URL),
		zap.Bool("api_key_set", c.API.Key != ""),
		zap.Duration("api_timeout", c.API.Timeout()),
		zap.String("grafana_url", c.Grafana.URL),
		zap.String("grafana_dashboard_id", c.Grafana.DashboardID),
		zap.String("grafana_panel_id", c.Grafana.PanelID),
		zap.Int("dashboard_port", c.Dashboard.Port),
		zap.Int("dashboard_history_size", c.Dashboard.HistorySize),
		zap.Duration("panel_environmental_interval", c.Panels.Environmental),
		zap.Duration("panel_alerts_interval", c.Panels.Alerts),
		zap.Duration("panel_climate_twin_interval", c.Panels.ClimateTwin),
		zap.Duration("panel_system_health_interval", c.Panels.SystemHealth),
		zap.Duration("panel_retry_delay", c.Panels.RetryDelay),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.String("prometheus_url", redactURL(c.Prometheus.URL)),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.String("otel_service_name", c.OpenTelemetry.ServiceName),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
		zap.Bool("log_requests", c.Logging.Requests),
	)
}

// redactURL removes credentials from URLs for logging
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}

// fileExists reports whether path names an existing file
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
