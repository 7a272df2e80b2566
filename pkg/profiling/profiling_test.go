package profiling

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/pkg/config"
)

func TestStart_Disabled(t *testing.T) {
	p, err := Start(&config.ProfilingConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p != nil {
		t.Error("Expected nil profiler when disabled")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Expected nil-safe stop, got %v", err)
	}
}

func TestProfileTypes(t *testing.T) {
	base := ProfileTypes(&config.ProfilingConfig{})
	if len(base) != 5 {
		t.Errorf("Expected 5 base profile types, got %d", len(base))
	}

	all := ProfileTypes(&config.ProfilingConfig{GoroutineProfile: true, MutexProfile: true})
	if len(all) != 8 {
		t.Errorf("Expected 8 profile types, got %d", len(all))
	}
	if all[5] != pyroscope.ProfileGoroutines {
		t.Errorf("Expected goroutine profile after base types, got %v", all[5])
	}
}
