package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		l := New("warn", format)
		if l == nil {
			t.Fatalf("New(%q) returned nil", format)
		}
		if l.Desugar().Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("format %s: info enabled at warn level", format)
		}
		if !l.Desugar().Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("format %s: error disabled at warn level", format)
		}
	}
}
