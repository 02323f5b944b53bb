package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConfigureSetsLevel(t *testing.T) {
	Configure("error", "text")
	if Get().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info to be disabled at error level")
	}

	Configure("debug", "json")
	if !Get().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug to be enabled at debug level")
	}
}
