package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter("info", "json", &buf)
		log.Info("hello", "key", "value")

		if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
			t.Errorf("expected JSON msg field, got: %s", buf.String())
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter("info", "", &buf)
		log.Info("hello", "key", "value")

		if !strings.Contains(buf.String(), "msg=hello") {
			t.Errorf("expected text msg field, got: %s", buf.String())
		}
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter("warn", "json", &buf)
		log.Info("dropped")

		if buf.Len() != 0 {
			t.Errorf("expected no output below warn, got: %s", buf.String())
		}
	})
}

func TestLDLoggers(t *testing.T) {
	var buf bytes.Buffer
	loggers := LDLoggers(NewWithWriter("info", "json", &buf))

	loggers.Debug("debug from sdk")
	loggers.Warn("stream interrupted")

	out := buf.String()
	if strings.Contains(out, "debug from sdk") {
		t.Errorf("expected debug output to be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "stream interrupted") {
		t.Fatalf("expected warn output, got: %s", out)
	}
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("expected WARN level, got: %s", out)
	}
}
