// ABOUTME: Tests for the zap-backed logger wrapper
// ABOUTME: Verifies level parsing, redaction, and child loggers via an observer core
package logging

import (
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		l, err := New(mode, "debug")
		if err != nil {
			t.Fatalf("New(%q) error = %v", mode, err)
		}
		if l.SugaredLogger == nil {
			t.Errorf("New(%q) returned a logger without a core", mode)
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("dev", "chatty"); err == nil {
		t.Error("New() with an unknown level should fail")
	}
}

func TestLogger_RedactsCredentials(t *testing.T) {
	l, logs := observed()

	l.Info("provider configured", "openai_api_key", "sk-live-123", "model", "text-embedding-3-small")

	if logs.Len() != 1 {
		t.Fatalf("logged %d entries, want 1", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["openai_api_key"] != "[REDACTED]" {
		t.Errorf("openai_api_key = %v, want [REDACTED]", fields["openai_api_key"])
	}
	if fields["model"] != "text-embedding-3-small" {
		t.Errorf("model = %v, want text-embedding-3-small", fields["model"])
	}
}

func TestLogger_WithCarriesFields(t *testing.T) {
	l, logs := observed()

	child := l.With("component", "ingest")
	child.Warn("artifact failed", "artifact_id", "a1")

	if logs.Len() != 1 {
		t.Fatalf("logged %d entries, want 1", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Errorf("Level = %v, want warn", entry.Level)
	}
	if got := entry.ContextMap()["component"]; got != "ingest" {
		t.Errorf("component = %v, want ingest", got)
	}
	if got := entry.ContextMap()["artifact_id"]; got != "a1" {
		t.Errorf("artifact_id = %v, want a1", got)
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	want := []interface{}{"a", 1, "dangling"}
	if out := sanitizeKVs([]interface{}{"a", 1, "dangling"}); !reflect.DeepEqual(out, want) {
		t.Errorf("sanitizeKVs() = %v, want %v", out, want)
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded", "k", "v")
	l.Sync()
}
