package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"
)

type fakeOutput struct {
	levels []bool
}

func (f *fakeOutput) Set(on bool) error {
	f.levels = append(f.levels, on)
	return nil
}

func (f *fakeOutput) Close() error { return nil }

type fakeMacros struct {
	known []string
	ran   []string
}

func (f *fakeMacros) Run(name string) error {
	for _, k := range f.known {
		if k == name {
			f.ran = append(f.ran, name)
			return nil
		}
	}
	return errors.New("no such macro")
}

func (f *fakeMacros) List() ([]string, error) { return f.known, nil }

type handlerFixture struct {
	h      *Handlers
	state  *core.State
	queue  *core.CommandQueue
	output *fakeOutput
	macros *fakeMacros
	webDir string
}

func newFixture(t *testing.T, kind string) *handlerFixture {
	t.Helper()
	initial := core.ModeUnset
	if kind == "relais" {
		initial = core.ModeBasic
	}
	f := &handlerFixture{
		state:  core.NewState(initial),
		queue:  core.NewCommandQueue(core.DefaultQueueCapacity),
		output: &fakeOutput{},
		macros: &fakeMacros{known: []string{"center", "wakeup"}},
		webDir: t.TempDir(),
	}
	f.h = NewHandlers(f.state, f.queue, core.NewPressureSimulator(), f.output, core.NewEventBus(), NewDirStore(f.webDir), f.macros, kind, "/index.html")
	return f
}

func (f *handlerFixture) dispatch(t *testing.T, method, path, body string) (string, []byte) {
	t.Helper()
	var out bytes.Buffer
	f.h.Dispatch(&out, Request{Method: method, Path: path, Body: []byte(body), Valid: true})
	return splitResponse(t, out.Bytes())
}

func (f *handlerFixture) drainQueue() []string {
	var cmds []string
	for {
		cmd, ok := f.queue.TryPop()
		if !ok {
			return cmds
		}
		cmds = append(cmds, cmd)
	}
}

func TestGetConfigDefaults(t *testing.T) {
	f := newFixture(t, "led")
	status, body := f.dispatch(t, "GET", "/getConfig", "")
	if !strings.HasPrefix(status, "HTTP/1.1 200 OK") {
		t.Fatalf("status = %q, want 200", status)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	want := map[string]interface{}{
		"output":        "off",
		"workingMode":   "unset",
		"sensitivityX":  float64(50),
		"sensitivityY":  float64(60),
		"deadzoneX":     float64(20),
		"deadzoneY":     float64(30),
		"pressureValue": float64(10),
		"command":       "",
		"parameter":     "",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if len(got) != len(want) {
		t.Errorf("key count = %d, want %d", len(got), len(want))
	}
}

func TestSetConfigBasicPartialUpdate(t *testing.T) {
	f := newFixture(t, "led")
	status, _ := f.dispatch(t, "POST", "/setConfig", `{"mode":"basic","sensitivityX":"37","deadzoneY":"12"}`)
	if !strings.HasPrefix(status, "HTTP/1.1 200 OK") {
		t.Fatalf("status = %q, want 200", status)
	}

	snap := f.state.Clone()
	if snap.SensitivityX != 37 {
		t.Errorf("SensitivityX = %d, want 37", snap.SensitivityX)
	}
	if snap.DeadzoneY != 12 {
		t.Errorf("DeadzoneY = %d, want 12", snap.DeadzoneY)
	}
	// Absent fields keep their previous values.
	if snap.SensitivityY != 60 || snap.DeadzoneX != 20 {
		t.Errorf("untouched fields = %d/%d, want 60/20", snap.SensitivityY, snap.DeadzoneX)
	}
	if snap.Mode != core.ModeBasic {
		t.Errorf("Mode = %q, want basic", snap.Mode)
	}

	if got, want := f.drainQueue(), []string{"AT AX 37", "AT DY 12"}; !equalStrings(got, want) {
		t.Errorf("queued = %v, want %v", got, want)
	}
}

func TestSetConfigBasicRejectsBadNumber(t *testing.T) {
	f := newFixture(t, "led")
	f.dispatch(t, "POST", "/setConfig", `{"mode":"basic","sensitivityX":"fast","sensitivityY":"70"}`)

	snap := f.state.Clone()
	if snap.SensitivityX != 50 {
		t.Errorf("SensitivityX = %d, want previous 50 after rejected value", snap.SensitivityX)
	}
	if snap.SensitivityY != 70 {
		t.Errorf("SensitivityY = %d, want 70", snap.SensitivityY)
	}
	if got, want := f.drainQueue(), []string{"AT AY 70"}; !equalStrings(got, want) {
		t.Errorf("queued = %v, want %v", got, want)
	}
}

func TestSetConfigOutput(t *testing.T) {
	f := newFixture(t, "led")
	f.dispatch(t, "POST", "/setConfig", `{"mode":"led","status":"on"}`)

	snap := f.state.Clone()
	if !snap.Output {
		t.Error("Output = false, want true")
	}
	if snap.Mode != core.ModeUnset {
		t.Errorf("Mode = %q, output requests must not change it", snap.Mode)
	}
	if len(f.drainQueue()) != 0 {
		t.Error("output request queued a command, want none")
	}
	if got, want := f.output.levels, []bool{true}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("gpio levels = %v, want %v", got, want)
	}

	f.dispatch(t, "POST", "/setConfig", `{"mode":"led","status":"off"}`)
	if f.state.Clone().Output {
		t.Error("Output = true after off, want false")
	}
	if got := f.output.levels; len(got) != 2 || got[1] {
		t.Errorf("gpio levels = %v, want [true false]", got)
	}
}

func TestSetConfigOutputVocabularyFollowsKind(t *testing.T) {
	f := newFixture(t, "relais")
	f.dispatch(t, "POST", "/setConfig", `{"mode":"relais","status":"ON"}`)
	if !f.state.Clone().Output {
		t.Error("Output = false, want true for relais vocabulary")
	}

	// The LED keyword means nothing to a relay build.
	f.dispatch(t, "POST", "/setConfig", `{"mode":"led","status":"off"}`)
	if !f.state.Clone().Output {
		t.Error("unknown vocabulary word mutated the output state")
	}
}

func TestSetConfigPressure(t *testing.T) {
	f := newFixture(t, "led")
	f.dispatch(t, "POST", "/setConfig", `{"mode":"pressure","pressureValue":"55"}`)

	snap := f.state.Clone()
	if snap.PressureThreshold != 55 {
		t.Errorf("PressureThreshold = %d, want 55", snap.PressureThreshold)
	}
	if snap.Mode != core.ModePressure {
		t.Errorf("Mode = %q, want pressure", snap.Mode)
	}
	if got, want := f.drainQueue(), []string{"AT TP 55"}; !equalStrings(got, want) {
		t.Errorf("queued = %v, want %v", got, want)
	}
}

func TestSetConfigAction(t *testing.T) {
	f := newFixture(t, "led")
	f.dispatch(t, "POST", "/setConfig", `{"mode":"action","command":"CA","parameter":"1"}`)

	snap := f.state.Clone()
	if snap.ActionCommand != "CA" || snap.ActionParameter != "1" {
		t.Errorf("action = %q/%q, want CA/1", snap.ActionCommand, snap.ActionParameter)
	}
	if snap.Mode != core.ModeAction {
		t.Errorf("Mode = %q, want action", snap.Mode)
	}
	if got, want := f.drainQueue(), []string{"AT CA 1"}; !equalStrings(got, want) {
		t.Errorf("queued = %v, want %v", got, want)
	}
}

func TestSetConfigActionNullsBecomeEmpty(t *testing.T) {
	f := newFixture(t, "led")
	f.state.SetAction("KP", "UP")

	f.dispatch(t, "POST", "/setConfig", `{"mode":"action","command":null,"parameter":null}`)

	snap := f.state.Clone()
	if snap.ActionCommand != "" || snap.ActionParameter != "" {
		t.Errorf("action = %q/%q, want empty after null fields", snap.ActionCommand, snap.ActionParameter)
	}
	// The empty command is stored but never queued.
	if got := f.drainQueue(); len(got) != 0 {
		t.Errorf("queued = %v, want none", got)
	}
}

func TestSetConfigModeMatchesSubstringsCaseInsensitively(t *testing.T) {
	f := newFixture(t, "led")
	f.dispatch(t, "POST", "/setConfig", `{"mode":"Basic tuning","sensitivityX":"5"}`)
	if got := f.state.Clone().SensitivityX; got != 5 {
		t.Errorf("SensitivityX = %d, want 5 via substring mode match", got)
	}
}

func TestSetConfigMalformedBody(t *testing.T) {
	f := newFixture(t, "led")
	before := f.state.Clone()

	for _, body := range []string{`{broken`, ``, `{"sensitivityX":"37"}`, `{"mode":"turbo","sensitivityX":"37"}`} {
		status, respBody := f.dispatch(t, "POST", "/setConfig", body)
		if !strings.HasPrefix(status, "HTTP/1.1 200 OK") {
			t.Errorf("body %q: status = %q, want 200", body, status)
		}
		if len(respBody) != 0 {
			t.Errorf("body %q: response body = %q, want empty", body, respBody)
		}
	}

	if f.state.Clone() != before {
		t.Error("malformed or unroutable bodies mutated the state")
	}
	if got := f.drainQueue(); len(got) != 0 {
		t.Errorf("queued = %v, want none", got)
	}
}

func TestSetConfigQueueOverflowStillAnswers200(t *testing.T) {
	f := newFixture(t, "led")
	for i := 0; i < core.DefaultQueueCapacity; i++ {
		f.dispatch(t, "POST", "/setConfig", fmt.Sprintf(`{"mode":"pressure","pressureValue":"%d"}`, i))
	}
	if got := f.queue.Len(); got != core.DefaultQueueCapacity {
		t.Fatalf("queue length = %d, want %d", got, core.DefaultQueueCapacity)
	}

	status, _ := f.dispatch(t, "POST", "/setConfig", `{"mode":"pressure","pressureValue":"999"}`)
	if !strings.HasPrefix(status, "HTTP/1.1 200 OK") {
		t.Errorf("status on overflow = %q, want 200", status)
	}
	// The record update still happened, only the command was dropped.
	if got := f.state.Clone().PressureThreshold; got != 999 {
		t.Errorf("PressureThreshold = %d, want 999", got)
	}
	if got := f.queue.Len(); got != core.DefaultQueueCapacity {
		t.Errorf("queue length after overflow = %d, want %d", got, core.DefaultQueueCapacity)
	}
}

func TestGetPressureSequenceIgnoresThreshold(t *testing.T) {
	f := newFixture(t, "led")
	f.state.SetPressureThreshold(500)

	for _, want := range []int{40, 60, 80} {
		_, body := f.dispatch(t, "GET", "/getPressure", "")
		var got map[string]int
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("body %q: %v", body, err)
		}
		if got["pressure"] != want {
			t.Errorf("pressure = %d, want %d", got["pressure"], want)
		}
	}
	if got := f.state.Clone().PressureThreshold; got != 500 {
		t.Errorf("PressureThreshold = %d, readings must not touch it", got)
	}
}

func TestUnmatchedPathFallsThroughToStatic(t *testing.T) {
	f := newFixture(t, "led")
	if err := os.WriteFile(filepath.Join(f.webDir, "style.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	before := f.state.Clone()

	status, body := f.dispatch(t, "GET", "/style.css", "")
	if !strings.HasPrefix(status, "HTTP/1.1 200 OK") || string(body) != "body{}" {
		t.Errorf("served %q %q, want 200 with file contents", status, body)
	}

	status, body = f.dispatch(t, "GET", "/missing.js", "")
	if !strings.HasPrefix(status, "HTTP/1.1 404 Not Found") {
		t.Errorf("status = %q, want 404", status)
	}
	if len(body) != 0 {
		t.Errorf("404 body = %q, want empty", body)
	}
	if f.state.Clone() != before {
		t.Error("static lookup mutated the state")
	}
}

func TestRootServesDefaultDocument(t *testing.T) {
	f := newFixture(t, "led")
	if err := os.WriteFile(filepath.Join(f.webDir, "index.html"), []byte("<html>ui</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	status, body := f.dispatch(t, "GET", "/", "")
	if !strings.HasPrefix(status, "HTTP/1.1 200 OK") || string(body) != "<html>ui</html>" {
		t.Errorf("served %q %q, want the default document", status, body)
	}
}

func TestRunMacro(t *testing.T) {
	f := newFixture(t, "led")
	status, _ := f.dispatch(t, "POST", "/runMacro", `{"name":"center"}`)
	if !strings.HasPrefix(status, "HTTP/1.1 200 OK") {
		t.Errorf("status = %q, want 200", status)
	}
	if len(f.macros.ran) != 1 || f.macros.ran[0] != "center" {
		t.Errorf("ran = %v, want [center]", f.macros.ran)
	}

	status, body := f.dispatch(t, "POST", "/runMacro", `{"name":"ghost"}`)
	if !strings.HasPrefix(status, "HTTP/1.1 404 Not Found") || len(body) != 0 {
		t.Errorf("unknown macro: %q %q, want empty 404", status, body)
	}
}

func TestGetMacros(t *testing.T) {
	f := newFixture(t, "led")
	_, body := f.dispatch(t, "GET", "/getMacros", "")
	var got map[string][]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if !equalStrings(got["macros"], []string{"center", "wakeup"}) {
		t.Errorf("macros = %v, want [center wakeup]", got["macros"])
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
