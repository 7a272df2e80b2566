package config

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestValidateLogging(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr bool
	}{
		{"console info", LoggingConfig{Format: "console", Level: "info"}, false},
		{"uppercase is normalized", LoggingConfig{Format: "JSON", Level: "DEBUG"}, false},
		{"logfmt", LoggingConfig{Format: "logfmt", Level: "warn"}, false},
		{"bad format", LoggingConfig{Format: "xml", Level: "info"}, true},
		{"bad level", LoggingConfig{Format: "json", Level: "trace"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := ValidateLogging(&cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewLogger_RequestsForcesDebug(t *testing.T) {
	logger, err := NewLogger(&LoggingConfig{Format: "logfmt", Level: "error", Requests: true})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ce := logger.Check(zapcore.DebugLevel, "probe"); ce == nil {
		t.Error("Expected debug level to be enabled when request logging is on")
	}
}

func TestValidateOpenTelemetry(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	disabled := OpenTelemetryConfig{}
	if err := ValidateOpenTelemetry(&disabled); err != nil {
		t.Errorf("Expected disabled config to validate, got %v", err)
	}

	missing := OpenTelemetryConfig{
		Enabled:     true,
		ServiceName: "climate-twin",
		Traces:      OTelTracesConfig{Enabled: true, SamplingRatio: 1},
	}
	if err := ValidateOpenTelemetry(&missing); err == nil {
		t.Error("Expected error for missing traces endpoint")
	}

	missing.Endpoint = "localhost:4318"
	if err := ValidateOpenTelemetry(&missing); err != nil {
		t.Errorf("Expected general endpoint to satisfy traces, got %v", err)
	}
	if got := missing.TracesEndpoint(); got != "localhost:4318" {
		t.Errorf("Expected traces endpoint localhost:4318, got %s", got)
	}
}

func TestValidateProfiling(t *testing.T) {
	cfg := ProfilingConfig{Enabled: true, ApplicationName: "climate-twin"}
	if err := ValidateProfiling(&cfg); err == nil {
		t.Error("Expected error for missing server address")
	}

	cfg.ServerAddress = "http://pyroscope:4040"
	if err := ValidateProfiling(&cfg); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
