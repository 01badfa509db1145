package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{raw: "trace", want: zerolog.TraceLevel},
		{raw: "DEBUG", want: zerolog.DebugLevel},
		{raw: " info ", want: zerolog.InfoLevel},
		{raw: "warning", want: zerolog.WarnLevel},
		{raw: "error", want: zerolog.ErrorLevel},
		{raw: "nonsense", want: zerolog.InfoLevel},
		{raw: "", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	l.Info("ignored", String("k", "v"))
	l.With(Int("n", 1)).Error("ignored too")
}

func TestNopLoggerDiscards(t *testing.T) {
	t.Parallel()

	l := Nop()
	if l.IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
	if l.Enabled(LevelError) {
		t.Fatal("Nop logger should be disabled at every level")
	}
	l.Error("ignored", Err(nil))
}

func TestServiceApplySwapsLevel(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{Level: "error", Console: true})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatal("debug enabled at error level")
	}
	svc.Apply(Config{Level: "debug", Console: true})
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug disabled after Apply(debug)")
	}
}

func TestWithAddsFields(t *testing.T) {
	t.Parallel()

	base := Nop()
	derived := base.With(String("svc", "test"))
	if len(derived.fields) != 1 {
		t.Fatalf("derived fields = %d, want 1", len(derived.fields))
	}
	if len(base.fields) != 0 {
		t.Fatal("With mutated the receiver")
	}
}
