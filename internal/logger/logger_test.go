package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewSloggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := Config{Format: FormatJSON, Level: "warn"}.NewSlogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("dropped")
	l.Warn("kept", "service", "stt")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if m["msg"] != "kept" || m["service"] != "stt" {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := Config{Color: true}.NewSlogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	l.With("service", "llm").Error("restart failed")
	out := buf.String()
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "restart failed") {
		t.Fatalf("expected level-prefixed message, got %q", out)
	}
	if !strings.Contains(out, "service=llm") {
		t.Fatalf("expected attrs preserved through WithAttrs, got %q", out)
	}
}

func TestNewSloggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicewatch.log")
	l, closer, err := Config{File: path}.NewSlogger(nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "msg=hello") {
		t.Fatalf("unexpected file content %q", b)
	}
}

func TestTintFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := Config{Format: FormatTint, Level: "debug"}.NewSlogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("probing", "service", "tts")
	out := buf.String()
	if !strings.Contains(out, "probing") || !strings.Contains(out, "service=tts") {
		t.Fatalf("unexpected tint output %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("color must be off unless requested: %q", out)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, _, err := (Config{Format: "xml"}).NewSlogger(&bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRotationDefaults(t *testing.T) {
	w := Rotation{}.Writer("/tmp/x.log")
	if w.MaxSize != DefaultMaxSizeMB || w.MaxBackups != DefaultMaxBackups || w.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", w)
	}
	w = Rotation{MaxSizeMB: 1, Compress: true}.Writer("/tmp/x.log")
	if w.MaxSize != 1 || !w.Compress {
		t.Fatalf("overrides not applied: %+v", w)
	}
}
