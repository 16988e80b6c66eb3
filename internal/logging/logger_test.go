package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(&buf, level)
	l.sink.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }
	return l, &buf
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{" warning ", WARN, false},
		{"error", ERROR, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newTestLogger(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG/INFO should be filtered at WARN, got %q", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "[WARN]") {
		t.Error("WARN should not be filtered")
	}
}

func TestLogger_TextFieldsSorted(t *testing.T) {
	logger, buf := newTestLogger(DEBUG)

	logger.WithFields(map[string]interface{}{"zeta": 1, "alpha": "a"}).Info("value: %d", 42)

	out := buf.String()
	if !strings.Contains(out, "value: 42") {
		t.Errorf("missing formatted message: %q", out)
	}
	if !strings.Contains(out, "| alpha=a zeta=1") {
		t.Errorf("fields should be sorted: %q", out)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	logger, buf := newTestLogger(DEBUG)
	logger.sink.format = FormatJSON

	logger.WithField("component", "hub").WithError(errors.New("slow client")).Warn("evicted")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("line is not JSON: %v (%q)", err, buf.String())
	}
	if line["level"] != "WARN" || line["msg"] != "evicted" {
		t.Errorf("unexpected line: %v", line)
	}
	if line["component"] != "hub" || line["error"] != "slow client" {
		t.Errorf("fields missing: %v", line)
	}
	if line["ts"] != "2026-10-16T09:30:00Z" {
		t.Errorf("ts = %v", line["ts"])
	}
}

func TestLogger_DerivedSharesSink(t *testing.T) {
	root, buf := newTestLogger(ERROR)
	child := root.WithField("component", "scheduler")

	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatal("child should honour root level")
	}

	root.sink.level = DEBUG
	child.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("level change on root should reach derived loggers")
	}
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	base, _ := newTestLogger(INFO)
	base = base.WithField("existing", "value")

	child := base.WithField("new", "field")

	if child.fields["existing"] != "value" || child.fields["new"] != "field" {
		t.Errorf("child fields = %v", child.fields)
	}
	if _, ok := base.fields["new"]; ok {
		t.Error("original logger was modified")
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	base, _ := newTestLogger(INFO)
	if base.WithError(nil) != base {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestPackageFunctions(t *testing.T) {
	var buf bytes.Buffer
	orig := defaultLogger
	defer func() { defaultLogger = orig }()
	defaultLogger = New(&buf, DEBUG)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	For("projection").Info("tagged")

	out := buf.String()
	for _, want := range []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]", "component=projection"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	logger, buf := newTestLogger(DEBUG)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			logger.WithField("n", n).Info("message %d", n)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 log lines, got %d", len(lines))
	}
}
