package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{" INFO ", INFO},
		{"warning", WARN},
		{"WARN", WARN},
		{"error", ERROR},
		{"", INFO},
		{"loud", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG)

	logger.Info("arc %s abandoned", "night-shift")

	out := buf.String()
	if !strings.Contains(out, "[INFO] arc night-shift abandoned") {
		t.Errorf("unexpected output: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("New() loggers should not emit color codes")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	// Must not panic or write anywhere
	logger.Error("dropped")
	logger.WithField("k", "v").Warn("dropped")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored")
	logger.WithField("k", "v").Warn("still ignored")
}

func TestWithField(t *testing.T) {
	logger := WithField("key", "value")

	if logger == nil {
		t.Fatal("WithField returned nil")
	}
	if logger.fields["key"] != "value" {
		t.Error("field not set correctly")
	}
	// Should be a new logger
	if len(defaultLogger.fields) > 0 {
		t.Error("should not modify default logger")
	}
}

func TestLogger_WithFields(t *testing.T) {
	base := New(&bytes.Buffer{}, INFO).WithField("existing", "value")

	logger := base.WithFields(map[string]interface{}{
		"new1": "value1",
		"new2": "value2",
	})

	if len(logger.fields) != 3 {
		t.Errorf("got %d fields, want 3", len(logger.fields))
	}
	if logger.fields["existing"] != "value" {
		t.Error("existing field not preserved")
	}
	if _, ok := base.fields["new1"]; ok {
		t.Error("original logger was modified")
	}
}

func TestLogger_log_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Error("DEBUG and INFO should be filtered when level is WARN")
	}

	logger.Warn("warn message")
	if buf.Len() == 0 {
		t.Error("WARN should not be filtered")
	}

	buf.Reset()
	logger.Error("error message")
	if buf.Len() == 0 {
		t.Error("ERROR should not be filtered")
	}
}

func TestLogger_log_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG).WithFields(map[string]interface{}{
		"user": "u1",
		"day":  3,
		"arc":  "gym",
	})

	logger.Info("test")

	if !strings.Contains(buf.String(), "| arc=gym day=3 user=u1") {
		t.Errorf("fields not rendered in key order: %q", buf.String())
	}
}

func TestLogger_DerivedSharesLock(t *testing.T) {
	base := New(&bytes.Buffer{}, INFO)
	derived := base.WithField("k", "v")
	if base.sink != derived.sink {
		t.Error("derived logger should share the sink")
	}
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			logger.WithField("n", n).Info("message %d", n)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 log lines, got %d", len(lines))
	}
}

func TestDebug(t *testing.T) {
	var buf bytes.Buffer
	orig := Default()
	defer SetDefault(orig)

	SetDefault(New(&buf, DEBUG))

	Debug("test debug")

	if !strings.Contains(buf.String(), "[DEBUG]") {
		t.Error("Debug should output DEBUG level")
	}
	if !strings.Contains(buf.String(), "test debug") {
		t.Error("Debug should output message")
	}
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	orig := Default()
	SetDefault(nil)
	if Default() != orig {
		t.Error("SetDefault(nil) replaced the default logger")
	}
}

func TestDefaultLoggerInitialization(t *testing.T) {
	if Default() != defaultLogger {
		t.Fatal("Default() should return the package logger")
	}
	if defaultLogger.level != INFO {
		t.Error("default level should be INFO")
	}
	if defaultLogger.sink.out != os.Stdout {
		t.Error("default output should be os.Stdout")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"json", FormatJSON},
		{" JSON ", FormatJSON},
		{"text", FormatText},
		{"", FormatText},
		{"logfmt", FormatText},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.in); got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(&buf, Options{Level: INFO, Format: FormatJSON}).
		WithFields(map[string]interface{}{"user_id": "u1", "day": 4})

	logger.Debug("filtered")
	logger.Warn("content selection failed: %s", "timeout")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var got map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if got["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", got["level"])
	}
	if got["msg"] != "content selection failed: timeout" {
		t.Errorf("msg = %v", got["msg"])
	}
	if got["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", got["user_id"])
	}
	if got["day"] != float64(4) {
		t.Errorf("day = %v, want 4", got["day"])
	}
	if _, ok := got["time"]; !ok {
		t.Error("missing time attribute")
	}
}

func TestColorText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(&buf, Options{Level: DEBUG, Color: true})
	logger.sink.now = func() time.Time { return time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC) }

	logger.Error("boom")

	want := "08:30:00 \033[31m[ERROR]\033[0m boom\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
