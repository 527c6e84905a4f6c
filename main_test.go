package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMainShutdownSourceContract(t *testing.T) {
	path := filepath.Join("main.go")
	contentBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	content := string(contentBytes)

	for _, needle := range []string{
		"signal.NotifyContext",
		"srv.Stop(shutdownCtx)",
		"g.Wait()",
	} {
		if !strings.Contains(content, needle) {
			t.Fatalf("expected %q in %s", needle, path)
		}
	}
}

func TestErrorSinkPathDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("CMUX_ERROR_SINK_PATH")
	if got := errorSinkPath(); got == "" {
		t.Fatal("expected a non-empty default error sink path")
	}
}

func TestErrorSinkPathHonorsEnv(t *testing.T) {
	t.Setenv("CMUX_ERROR_SINK_PATH", "/tmp/custom-sink.jsonl")
	if got := errorSinkPath(); got != "/tmp/custom-sink.jsonl" {
		t.Fatalf("expected env override, got %q", got)
	}
}
