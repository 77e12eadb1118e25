package logx

import (
	"strings"
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
		{" Debug ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := ParseLevel(tt.in); got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatRecordSortsFields(t *testing.T) {
	t.Parallel()

	got := formatRecord([]byte(`{"level":"warn","time":"x","message":"check failed","sub":"42","comp":"watch"}`))
	want := "[WARN] check failed\n- comp=watch\n- sub=42"
	if got != want {
		t.Fatalf("formatRecord = %q, want %q", got, want)
	}
}

func TestFormatRecordRawFallback(t *testing.T) {
	t.Parallel()

	if got := formatRecord([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("formatRecord = %q", got)
	}
	long := strings.Repeat("a", 5000)
	if got := formatRecord([]byte(long)); len(got) != 3500 || !strings.HasSuffix(got, "...") {
		t.Fatalf("formatRecord did not truncate: len=%d", len(got))
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger should report IsZero")
	}
	l.With(String("k", "v")).Info("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}
