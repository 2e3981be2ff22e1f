package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"empty config falls back to defaults", config.LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if log := New(tt.cfg, "1.0.0"); log == nil {
				t.Fatal("New() returned nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWith(t *testing.T) {
	log := Default()

	child := log.With("component", "bridge")
	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == log {
		t.Error("With() should return a distinct logger")
	}
}

func TestDefaultEntryShape(t *testing.T) {
	// Build the same handler stack New uses, over a buffer, and check
	// one entry end to end.
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", "0.0.1"),
		})
	log := &Logger{Logger: slog.New(handler)}

	log.Info("sensor decoded", "gpio", 4)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}

	if entry["service"] != "graypi" {
		t.Errorf("service = %v, want graypi", entry["service"])
	}
	if entry["version"] != "0.0.1" {
		t.Errorf("version = %v, want 0.0.1", entry["version"])
	}
	if entry["msg"] != "sensor decoded" {
		t.Errorf("msg = %v, want 'sensor decoded'", entry["msg"])
	}
	if entry["gpio"] != float64(4) {
		t.Errorf("gpio = %v, want 4", entry["gpio"])
	}
}
