package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"
)

func writeSchedules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing schedules file: %v", err)
	}
	return path
}

func TestLoadSchedules(t *testing.T) {
	path := writeSchedules(t, `[
		{"spec": "0 8 * * *", "command": "AX", "parameter": "50"},
		{"spec": "*/5 * * * *", "command": "TP"},
		{"spec": "not a cron spec", "command": "AY", "parameter": "1"}
	]`)

	s := NewScheduler(core.NewCommandQueue(20), path)
	entries := s.GetAll()
	if len(entries) != 2 {
		t.Fatalf("loaded %d schedules, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.Command != "AX" && entry.Command != "TP" {
			t.Errorf("unexpected schedule command %q", entry.Command)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewScheduler(core.NewCommandQueue(20), filepath.Join(t.TempDir(), "nope.json"))
	if len(s.GetAll()) != 0 {
		t.Errorf("GetAll() = %v, want empty", s.GetAll())
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := writeSchedules(t, `{broken`)
	s := NewScheduler(core.NewCommandQueue(20), path)
	if len(s.GetAll()) != 0 {
		t.Errorf("GetAll() = %v, want empty", s.GetAll())
	}
}

func TestExecuteEnqueuesEncodedCommand(t *testing.T) {
	queue := core.NewCommandQueue(20)
	s := NewScheduler(queue, filepath.Join(t.TempDir(), "nope.json"))

	s.execute(Entry{Command: "AX", Parameter: "50"})
	cmd, ok := queue.TryPop()
	if !ok || cmd != "AT AX 50" {
		t.Errorf("queued command = %q, %v, want %q", cmd, ok, "AT AX 50")
	}

	s.execute(Entry{Command: ""})
	if _, ok := queue.TryPop(); ok {
		t.Error("empty command reached the queue")
	}

	s.execute(Entry{Command: "MA", Parameter: strings.Repeat("x", 300)})
	if _, ok := queue.TryPop(); ok {
		t.Error("oversize command reached the queue")
	}
}
