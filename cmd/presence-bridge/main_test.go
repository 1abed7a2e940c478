package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewLogger_LogfmtWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "info", "auto")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	l.Debug("hidden")
	l.Info("hello", "target", "10.0.0.5")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written: %q", out)
	}
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "target=10.0.0.5") {
		t.Fatalf("out=%q", out)
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud", "auto"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExitErrorCarriesCode(t *testing.T) {
	base := errors.New("no discord")
	err := fmt.Errorf("run: %w", withCode(exitServiceInit, base))

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != exitServiceInit {
		t.Fatalf("err=%v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("base error lost")
	}
}
