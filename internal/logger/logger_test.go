package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf)
	defer Init(nil)
	if err := SetLevelString("info"); err != nil {
		t.Fatalf("SetLevelString: %v", err)
	}

	Named("aggregator").Info(context.Background(), "session analyzed",
		String("hash", "abc"), Int("frames", 12), Float64("duration_s", 1.5), Error(errors.New("boom")))

	out := buf.String()
	for _, want := range []string{"session analyzed", "component=aggregator", "hash=abc", "frames=12", "duration_s=1.5", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf)
	defer Init(nil)
	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("SetLevelString: %v", err)
	}
	defer SetLevelString("info")

	l := Get()
	l.Debug(context.Background(), "hidden debug")
	l.Info(context.Background(), "hidden info")
	l.Warn(context.Background(), "shown warn")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be filtered: %s", out)
	}
	if !strings.Contains(out, "shown warn") {
		t.Errorf("expected warn line: %s", out)
	}
}

func TestSetLevelStringRejectsUnknown(t *testing.T) {
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
