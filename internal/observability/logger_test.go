package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"warn", false, false},
		{"", false, true},
		{"chatty", false, true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := newLogger(&buf, tt.level, false)
		logger.Debug().Msg("debug line")
		logger.Info().Msg("info line")

		out := buf.String()
		if got := strings.Contains(out, "debug line"); got != tt.debugSeen {
			t.Errorf("level %q: expected debug logged=%v, got %v", tt.level, tt.debugSeen, got)
		}
		if got := strings.Contains(out, "info line"); got != tt.infoSeen {
			t.Errorf("level %q: expected info logged=%v, got %v", tt.level, tt.infoSeen, got)
		}
	}
}

func TestNewLogger_JSONWithTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", false)
	logger.Info().Str("component", "test").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected a JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "hello" || line["component"] != "test" {
		t.Errorf("Unexpected fields %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("Expected a timestamp field")
	}
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := WithCorrelationID("").Output(&buf)
	logger.Info().Msg("x")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected a JSON line, got %v", err)
	}
	if id, _ := line["correlation_id"].(string); len(id) != 36 {
		t.Errorf("Expected a generated uuid, got %v", line["correlation_id"])
	}
}

func TestSessionLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := SessionLogger("sess-1", "live").Output(&buf)
	logger.Info().Msg("started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected a JSON line, got %v", err)
	}
	if line["session_id"] != "sess-1" || line["correlation_id"] != "sess-1" || line["mode"] != "live" {
		t.Errorf("Unexpected fields %v", line)
	}
}
