package main

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/yoyo3287258/command-gateway/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(&out, slog.LevelInfo, config.LogFormatJSON)
	logger.Info("json log test", slog.String("key", "value"))

	line := out.String()
	if !strings.Contains(line, "\"msg\":\"json log test\"") {
		t.Fatalf("expected json message field, got: %s", line)
	}
	if !strings.Contains(line, "\"key\":\"value\"") {
		t.Fatalf("expected json key field, got: %s", line)
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(&out, slog.LevelInfo, config.LogFormatText)
	logger.Info("text log test", slog.String("key", "value"), slog.Any("error", errors.New("bad")))

	line := out.String()
	if !strings.Contains(line, "text log test") {
		t.Fatalf("expected text message, got: %s", line)
	}
	if !strings.Contains(line, "key=") || !strings.Contains(line, "bad") {
		t.Fatalf("expected text fields, got: %s", line)
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(&out, slog.LevelWarn, config.LogFormatJSON)
	logger.Info("hidden")

	if out.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got: %s", out.String())
	}
}
