package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Fatalf("CorrelationID on bare context = %q, want empty", got)
	}

	id := GenerateCorrelationID()
	if id == "" {
		t.Fatal("GenerateCorrelationID returned empty ID")
	}
	ctx = WithCorrelationID(ctx, id)
	if got := CorrelationID(ctx); got != id {
		t.Fatalf("CorrelationID = %q, want %q", got, id)
	}

	if other := GenerateCorrelationID(); other == id {
		t.Errorf("consecutive correlation IDs collided: %q", id)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
