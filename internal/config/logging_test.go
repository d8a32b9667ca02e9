package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupLoggerWithWriters_FanoutFormats(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("model resolved", "namespace", "ollama")

	if !strings.Contains(stderr.String(), `msg="model resolved"`) {
		t.Errorf("stderr output not in text format: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "namespace=ollama") {
		t.Errorf("stderr output missing attribute: %q", stderr.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("file output not JSON: %v (%q)", err, file.String())
	}
	if entry["msg"] != "model resolved" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["namespace"] != "ollama" {
		t.Errorf("namespace = %v", entry["namespace"])
	}
}

func TestSetupLoggerWithWriters_LevelFilter(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)

	logger.Info("below threshold")
	if stderr.Len() != 0 || file.Len() != 0 {
		t.Errorf("info record passed a warn-level logger: %q / %q", stderr.String(), file.String())
	}

	logger.Warn("at threshold")
	if stderr.Len() == 0 || file.Len() == 0 {
		t.Error("warn record missing from one of the outputs")
	}
}
