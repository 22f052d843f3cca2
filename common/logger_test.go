package common

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppLogger_SetLevel(t *testing.T) {
	logger := &AppLogger{
		level: LevelInfo,
	}

	logger.SetLevel(LevelDebug)
	if logger.level != LevelDebug {
		t.Errorf("SetLevel did not update level, got %v, want %v", logger.level, LevelDebug)
	}
}

func TestAppLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelWarn,
		output: &buf,
		logger: log.New(&buf, "", 0),
	}

	// Debug and Info should be filtered.
	logger.Debug("debug message")
	logger.Info("info message")

	if buf.Len() > 0 {
		t.Error("Debug/Info messages should be filtered when level is Warn")
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("Warn message should be logged when level is Warn")
	}
}

func TestAppLogger_Format(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelInfo,
		output: &buf,
		logger: log.New(&buf, "", 0),
	}

	logger.Info("connected to %s", "relay1")

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("log line missing level tag: %q", out)
	}
	if !strings.Contains(out, "connected to relay1") {
		t.Errorf("log line missing formatted message: %q", out)
	}
}

func TestAppLogger_FatalExits(t *testing.T) {
	var buf bytes.Buffer

	exitCode := -1
	logger := &AppLogger{
		level:  LevelInfo,
		output: &buf,
		logger: log.New(&buf, "", 0),
	}
	logger.SetExitFunc(func(code int) { exitCode = code })

	logger.Fatal("tunnel process pid %d would not die", 42)

	if exitCode != 1 {
		t.Errorf("Fatal exit code = %d, want 1", exitCode)
	}
	if !strings.Contains(buf.String(), "[FATAL]") {
		t.Errorf("Fatal message not logged at FATAL: %q", buf.String())
	}
}

func TestAppLogger_FatalBelowLevelStillExits(t *testing.T) {
	var buf bytes.Buffer

	exited := false
	logger := &AppLogger{
		level:  LevelFatal,
		output: &buf,
		logger: log.New(&buf, "", 0),
	}
	logger.SetExitFunc(func(int) { exited = true })

	logger.Fatal("fatal condition")

	if !exited {
		t.Error("Fatal should always exit")
	}
}
