package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"  info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger reports non-zero")
	}
	// Must not panic.
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("also dropped")
}

func TestServiceApplySwapsLevel(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Level: "error", Console: false})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatal("debug enabled at error level")
	}
	svc.Apply(Config{Level: "debug", Console: false})
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug still disabled after Apply")
	}
}

func TestWithAccumulatesFields(t *testing.T) {
	t.Parallel()
	base := Nop().With(String("a", "1"))
	derived := base.With(String("b", "2"))
	if len(derived.fields) != 2 {
		t.Fatalf("derived has %d fields, want 2", len(derived.fields))
	}
	if len(base.fields) != 1 {
		t.Fatalf("base mutated: %d fields, want 1", len(base.fields))
	}
}
