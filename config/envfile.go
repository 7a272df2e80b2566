package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// DefaultEnvFile is the defaults file written when required variables are missing
const DefaultEnvFile = ".env.local"

// placeholderPrefix marks template values that still need to be filled in
const placeholderPrefix = "YOUR_"

// envDefaults are written, commented out, to the defaults file. Loading the
// file back therefore never overrides the host based API URL guess.
var envDefaults = map[string]string{
	"API_URL":              DefaultAPIURL,
	"API_KEY":              "",
	"GRAFANA_URL":          "http://localhost:3000",
	"GRAFANA_DASHBOARD_ID": "YOUR_DASHBOARD_ID",
	"GRAFANA_PANEL_ID":     "YOUR_PANEL_ID",
}

// LoadEnvFile loads variables from path into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Missing returns the required variables that resolved to an empty value
func (c *Config) Missing() []string {
	required := []struct {
		name  string
		value string
	}{
		{"API_URL", c.API.URL},
		{"API_KEY", c.API.Key},
		{"GRAFANA_URL", c.Grafana.URL},
		{"GRAFANA_DASHBOARD_ID", c.Grafana.DashboardID},
		{"GRAFANA_PANEL_ID", c.Grafana.PanelID},
	}

	var missing []string
	for _, r := range required {
		if !isSet(r.value) {
			missing = append(missing, r.name)
		}
	}
	return missing
}

// isSet reports whether v holds a real value rather than nothing or a template placeholder
func isSet(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.HasPrefix(v, placeholderPrefix)
}

// CheckEnvironment warns about missing required variables and writes a
// defaults file to path so they can be filled in. It never fails startup and
// never overwrites an existing file. It reports whether a file was created.
func (c *Config) CheckEnvironment(path string, logger *zap.Logger) bool {
	missing := c.Missing()
	if len(missing) == 0 {
		logger.Info("all required environment variables are set")
		return false
	}

	logger.Warn("missing environment variables", zap.Strings("variables", missing))
	if c.API.Key == "" {
		logger.Warn("API key is empty, backend requests may be rejected")
	}

	created, err := writeEnvDefaults(path)
	switch {
	case err != nil:
		logger.Warn("failed to write environment defaults file", zap.String("path", path), zap.Error(err))
	case created:
		logger.Info("created environment defaults file", zap.String("path", path))
	default:
		logger.Info("environment defaults file already exists, leaving it untouched", zap.String("path", path))
	}

	for _, name := range missing {
		if name == "GRAFANA_URL" || name == "GRAFANA_DASHBOARD_ID" || name == "GRAFANA_PANEL_ID" {
			logger.Info("grafana setup: dashboard id is in the dashboard URL /d/{DASHBOARD_ID}/..., panel id in editPanel={PANEL_ID}")
			break
		}
	}
	return created
}

// writeEnvDefaults creates path with envDefaults as commented assignments.
// An existing file is left alone.
func writeEnvDefaults(path string) (bool, error) {
	marshalled, err := godotenv.Marshal(envDefaults)
	if err != nil {
		return false, err
	}

	var b strings.Builder
	b.WriteString("# Required climate twin variables. Uncomment and fill in the ones you need.\n")
	for line := range strings.SplitSeq(marshalled, "\n") {
		if line != "" {
			b.WriteString("# " + line + "\n")
		}
	}
	content := b.String()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}
