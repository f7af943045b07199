package exitcode

import (
	"fmt"
	"testing"

	"github.com/felixgeelhaar/caretaker/internal/errors"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"GeneralError", GeneralError, 1},
		{"ConfigError", ConfigError, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("Exit code %s = %d, want %d", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"plain error", fmt.Errorf("boom"), GeneralError},
		{"config error", errors.NewConfigError("max_workers must be positive", nil), ConfigError},
		{"wrapped config error", fmt.Errorf("load: %w", errors.New(errors.ErrCodeConfigParse, "bad yaml")), ConfigError},
		{"snapshot error", errors.NewSnapshotError("acme/api", fmt.Errorf("404")), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.want {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	if GetExitCodeDescription(ConfigError) != "Configuration error" {
		t.Errorf("unexpected description for ConfigError")
	}
	if GetExitCodeDescription(42) != "Unknown error" {
		t.Errorf("unexpected description for unknown code")
	}
}
