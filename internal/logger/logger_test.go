package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatLevels(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("warn", "text", &buf)
	defer InitWithWriter("info", "text", &bytes.Buffer{})

	Info("hidden %d", 1)
	Warn("shown %d", 2)
	With("NYC").Error("city failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 2") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] [NYC] city failed") {
		t.Errorf("missing scoped error line: %q", out)
	}
	if !strings.Contains(out, "logger_test.go") {
		t.Errorf("text format should carry the caller file: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("debug", "json", &buf)
	defer InitWithWriter("info", "text", &bytes.Buffer{})

	With("CHI").Debug("points %s", "cached")

	var line map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["level"] != "debug" || line["scope"] != "CHI" || line["msg"] != "points cached" {
		t.Errorf("unexpected JSON line: %v", line)
	}
	if line["ts"] == "" {
		t.Error("missing ts field")
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	saved := defaultLogger
	defaultLogger = nil
	defer func() { defaultLogger = saved }()

	Info("no logger configured")
	With("x").Warn("still fine")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
		"bogus": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
