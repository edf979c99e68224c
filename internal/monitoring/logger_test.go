package monitoring

import (
	"fmt"
	"testing"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)

	Logf("tick %d", 1)
	if len(*lines) != 1 || (*lines)[0] != "tick 1" {
		t.Fatalf("custom logger got %v, want [tick 1]", *lines)
	}

	SetLogger(nil)
	// should not panic
	Logf("dropped")
	if len(*lines) != 1 {
		t.Errorf("no-op logger should not reach the previous logger, got %v", *lines)
	}
}

func TestDebugf(t *testing.T) {
	lines := captureLogs(t)
	t.Cleanup(func() { SetVerbose(false) })

	SetVerbose(false)
	Debugf("quiet %s", "tick")
	if len(*lines) != 0 {
		t.Errorf("Debugf logged while verbose is off: %v", *lines)
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Debugf("loud %s", "tick")
	if len(*lines) != 1 || (*lines)[0] != "loud tick" {
		t.Errorf("Debugf got %v, want [loud tick]", *lines)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}
