// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Output is not valid JSON: %v (%s)", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = sync.Once{}

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	Init(&buf2, LevelDebug)
	if Get() != first {
		t.Error("Second Init() should be ignored, different logger returned")
	}

	Info("hello")
	if buf1.Len() == 0 {
		t.Error("first writer should receive output")
	}
	if buf2.Len() != 0 {
		t.Error("second writer should receive nothing")
	}
}

// TestParseLevel verifies config strings map to levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestLogger_levelFiltering verifies entries below the minimum level are dropped.
func TestLogger_levelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "warn" {
		t.Errorf("message = %v, want 'warn'", entries[0]["message"])
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("now visible")
	if got := len(decodeLines(t, &buf)); got != 2 {
		t.Errorf("got %d entries after SetLevel, want 2", got)
	}
}

// TestLogger_Info verifies message, level and context fields.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("sync run completed", map[string]interface{}{"processed": 3}, map[string]interface{}{"run_id": "r1"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry["level"] != "info" {
		t.Errorf("level = %v, want 'info'", entry["level"])
	}
	if entry["message"] != "sync run completed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["processed"] != float64(3) {
		t.Errorf("processed = %v, want 3", entry["processed"])
	}
	if entry["run_id"] != "r1" {
		t.Errorf("run_id = %v, want r1", entry["run_id"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp field missing")
	}
}

// TestLogger_Error verifies error details are attached.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("upsert failed", io.ErrUnexpectedEOF, map[string]interface{}{"record_id": "abc"})

	entry := decodeLines(t, &buf)[0]
	if entry["level"] != "error" {
		t.Errorf("level = %v, want 'error'", entry["level"])
	}
	if !strings.Contains(entry["error"].(string), io.ErrUnexpectedEOF.Error()) {
		t.Errorf("error = %v", entry["error"])
	}
	if entry["record_id"] != "abc" {
		t.Errorf("record_id = %v", entry["record_id"])
	}
}

// TestLogger_ErrorWithCode verifies the error code field.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	ctx := map[string]interface{}{"field": "email"}
	logger.ErrorWithCode("read queue", "STORAGE_UNAVAILABLE", io.ErrUnexpectedEOF, ctx)
	logger.ErrorWithCode("no context", "ERR001", nil)

	entries := decodeLines(t, &buf)
	if entries[0]["error_code"] != "STORAGE_UNAVAILABLE" {
		t.Errorf("error_code = %v", entries[0]["error_code"])
	}
	if entries[0]["field"] != "email" {
		t.Errorf("field = %v", entries[0]["field"])
	}
	if entries[1]["error_code"] != "ERR001" {
		t.Errorf("error_code = %v", entries[1]["error_code"])
	}
	if _, mutated := ctx["error_code"]; mutated {
		t.Error("ErrorWithCode must not mutate the caller's context map")
	}
}
