package macro

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"
)

func writeMacro(t *testing.T, dir, name, code string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(code), 0644); err != nil {
		t.Fatalf("writing macro %s: %v", name, err)
	}
}

func waitPop(t *testing.T, q *core.CommandQueue) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cmd, ok := q.TryPop(); ok {
			return cmd
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a queued command")
	return ""
}

func waitEvent(t *testing.T, sub core.Subscriber) core.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a macro event")
	}
	return core.Event{}
}

func runningName(t *testing.T, ev core.Event) string {
	t.Helper()
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("event payload = %T, want map", ev.Payload)
	}
	name, ok := payload["running"].(string)
	if !ok {
		t.Fatalf("event payload %v has no running name", payload)
	}
	return name
}

func TestRunEnqueuesCommands(t *testing.T) {
	dir := t.TempDir()
	writeMacro(t, dir, "move.lua", "send(\"AX\", \"5\")\nsend(\"AY\", \"7\")\n")

	queue := core.NewCommandQueue(20)
	e := NewEngine(queue, dir, nil)

	if err := e.Run("move.lua"); err != nil {
		t.Fatalf("Run(move.lua) = %v", err)
	}

	if cmd := waitPop(t, queue); cmd != "AT AX 5" {
		t.Errorf("first command = %q, want %q", cmd, "AT AX 5")
	}
	if cmd := waitPop(t, queue); cmd != "AT AY 7" {
		t.Errorf("second command = %q, want %q", cmd, "AT AY 7")
	}
}

func TestRunRejectsUnknownMacro(t *testing.T) {
	dir := t.TempDir()
	queue := core.NewCommandQueue(20)
	e := NewEngine(queue, dir, nil)

	if err := e.Run("missing.lua"); err == nil {
		t.Error("Run(missing.lua) = nil, want error")
	}
	if err := e.Run("noext"); err == nil {
		t.Error("Run(noext) = nil, want error")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "center.lua", want: "center.lua"},
		{name: "sub/center.lua", want: "center.lua"},
		{name: "center", wantErr: true},
		{name: ".lua", wantErr: true},
		{name: "../../etc/passwd.lua", want: "passwd.lua"},
		{name: "..lua", wantErr: true},
	}

	for _, tc := range cases {
		got, err := sanitizeName(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Errorf("sanitizeName(%q) = %q, want error", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("sanitizeName(%q) returned error: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestListReturnsOnlyLuaFiles(t *testing.T) {
	dir := t.TempDir()
	writeMacro(t, dir, "a.lua", "")
	writeMacro(t, dir, "b.lua", "")
	writeMacro(t, dir, "notes.txt", "")
	if err := os.Mkdir(filepath.Join(dir, "sub.lua"), 0755); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(core.NewCommandQueue(20), dir, nil)
	names, err := e.List()
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(names) != 2 || names[0] != "a.lua" || names[1] != "b.lua" {
		t.Errorf("List() = %v, want [a.lua b.lua]", names)
	}
}

func TestListMissingDirectory(t *testing.T) {
	e := NewEngine(core.NewCommandQueue(20), filepath.Join(t.TempDir(), "nope"), nil)
	names, err := e.List()
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() = %v, want empty", names)
	}
}

func TestStopCancelsRunningMacro(t *testing.T) {
	dir := t.TempDir()
	writeMacro(t, dir, "loop.lua", "while true do sleep(10) end\n")
	writeMacro(t, dir, "after.lua", "send(\"TP\", \"9\")\n")

	queue := core.NewCommandQueue(20)
	bus := core.NewEventBus()
	sub := bus.Subscribe(core.MacroChangedEvent)
	e := NewEngine(queue, dir, bus)

	if err := e.Run("loop.lua"); err != nil {
		t.Fatalf("Run(loop.lua) = %v", err)
	}
	if name := runningName(t, waitEvent(t, sub)); name != "loop.lua" {
		t.Fatalf("running macro = %q, want %q", name, "loop.lua")
	}

	e.Stop()
	if name := runningName(t, waitEvent(t, sub)); name != "" {
		t.Fatalf("running macro after stop = %q, want empty", name)
	}

	// The worker must accept new macros after a cancellation.
	if err := e.Run("after.lua"); err != nil {
		t.Fatalf("Run(after.lua) = %v", err)
	}
	if cmd := waitPop(t, queue); cmd != "AT TP 9" {
		t.Errorf("command after stop = %q, want %q", cmd, "AT TP 9")
	}
}
