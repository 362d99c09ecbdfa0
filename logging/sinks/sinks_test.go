package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/normalocity/pedestrians/logging"
)

func TestJSONSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)

	event := logging.Event{
		Type:     "pedestrian.arrived",
		Tick:     7,
		Time:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Actor:    logging.PedestrianRef("p-1"),
		Severity: logging.SeverityWarn,
		Payload:  map[string]float64{"x": 1.5},
	}
	if err := sink.Write(event); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := sink.Write(event); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("failed to decode line: %v", err)
	}
	if decoded["type"] != "pedestrian.arrived" || decoded["severity"] != "warn" {
		t.Fatalf("unexpected encoding %v", decoded)
	}
	actor, _ := decoded["actor"].(map[string]any)
	if actor["id"] != "p-1" || actor["kind"] != "pedestrian" {
		t.Fatalf("unexpected actor %v", decoded["actor"])
	}
}

func TestConsoleSinkFormatsEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{})

	err := sink.Write(logging.Event{
		Type:     "pedestrian.spawned",
		Tick:     3,
		Actor:    logging.PedestrianRef("abc"),
		Severity: logging.SeverityInfo,
		Payload:  map[string]int{"x": 4},
		Extra:    map[string]any{"b": 2, "a": 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"[pedestrian.spawned]", "tick=3", "actor=pedestrian:abc", "severity=info", `payload={"x":4}`, "a=1 b=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestConsoleSinkColorsSeverity(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{UseColor: true})
	if err := sink.Write(logging.Event{Type: "x", Severity: logging.SeverityError}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected ANSI escape in %q", buf.String())
	}
}

func TestMemorySinkFiltersByType(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(logging.Event{Type: "a"})
	sink.Write(logging.Event{Type: "b"})
	sink.Write(logging.Event{Type: "a"})

	if got := len(sink.OfType("a")); got != 2 {
		t.Fatalf("expected 2 events of type a, got %d", got)
	}
	sink.Reset()
	if got := len(sink.Events()); got != 0 {
		t.Fatalf("expected reset to clear events, got %d", got)
	}
}

func TestFromConfigOpensJSONFile(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = []string{logging.SinkConsole, logging.SinkJSON, "unknown"}
	cfg.JSON.FilePath = filepath.Join(t.TempDir(), "logs", "events.jsonl")
	cfg.JSON.FlushInterval = 0

	named, err := FromConfig(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(named) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(named))
	}
	if err := named[1].Sink.Write(logging.Event{Type: "file.event"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := named[1].Sink.Close(context.Background()); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	data, err := os.ReadFile(cfg.JSON.FilePath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "file.event") {
		t.Fatalf("expected event in file, got %q", data)
	}
}

func TestFromConfigRequiresJSONPath(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = []string{logging.SinkJSON}
	if _, err := FromConfig(cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without json path")
	}
}
