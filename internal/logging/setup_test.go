package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWithConfigJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithConfig("info", "json", &buf)
	logger.Info().Str("sandbox_id", "abc").Msg("sandbox created")

	out := buf.String()
	if !strings.Contains(out, `"sandbox_id":"abc"`) {
		t.Fatalf("expected json field in output, got: %s", out)
	}
	if !strings.Contains(out, "sandbox created") {
		t.Fatalf("expected message in output, got: %s", out)
	}
}

func TestSetupWithConfigFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithConfig("error", "json", &buf)
	logger.Info().Msg("should be filtered")
	logger.Error().Msg("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Fatalf("expected info log to be filtered out, got: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("expected error log to appear, got: %s", out)
	}
}
