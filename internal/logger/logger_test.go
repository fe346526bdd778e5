package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		ok   bool
	}{
		{"debug", zapcore.DebugLevel, true},
		{"info", zapcore.InfoLevel, true},
		{"warn", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"verbose", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got := parseLevel(tt.in)
		if (got != nil) != tt.ok {
			t.Errorf("parseLevel(%q) = %v, want ok=%v", tt.in, got, tt.ok)
			continue
		}
		if got != nil && *got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, *got, tt.want)
		}
		if ValidLevel(tt.in) != tt.ok {
			t.Errorf("ValidLevel(%q) = %v", tt.in, !tt.ok)
		}
	}
}

func TestWithAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := wrap(zap.New(core)).With(String("entry", "client.class"))
	l.Debug("hidden")
	l.Info("patched", Int("domains", 2), Bool("raw", false))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["entry"] != "client.class" || ctx["domains"] != int64(2) || ctx["raw"] != false {
		t.Errorf("context = %v", ctx)
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("ignored")
	l.Warnf("ignored %d", 1)
	if err := l.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
}
