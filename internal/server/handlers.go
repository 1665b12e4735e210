package server

import (
	"encoding/json"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/gpio"
)

// MacroRunner is the slice of the macro engine the routes use.
type MacroRunner interface {
	Run(name string) error
	List() ([]string, error)
}

// Handlers owns the fixed route table. Routes are the only writers of
// the configuration state; everything they derive for the controller
// goes through the command queue.
type Handlers struct {
	state    *core.State
	queue    *core.CommandQueue
	pressure *core.PressureSimulator
	output   gpio.Output
	bus      *core.EventBus
	files    FileStore
	macros   MacroRunner

	// outputKeyword is the mode vocabulary word selecting the output
	// sub-handler, "led" or "relais" depending on the device build.
	outputKeyword string
	defaultDoc    string
}

// NewHandlers wires the route table to its collaborators.
func NewHandlers(state *core.State, queue *core.CommandQueue, pressure *core.PressureSimulator, output gpio.Output, bus *core.EventBus, files FileStore, macros MacroRunner, outputKeyword, defaultDoc string) *Handlers {
	return &Handlers{
		state:         state,
		queue:         queue,
		pressure:      pressure,
		output:        output,
		bus:           bus,
		files:         files,
		macros:        macros,
		outputKeyword: strings.ToLower(outputKeyword),
		defaultDoc:    defaultDoc,
	}
}

// Dispatch routes one parsed request and writes the response. Unmatched
// paths fall through to the static store.
func (h *Handlers) Dispatch(w io.Writer, req Request) {
	switch {
	case req.Method == "POST" && req.Path == "/setConfig":
		h.setConfig(w, req.Body)
	case req.Method == "GET" && req.Path == "/getConfig":
		h.getConfig(w)
	case req.Method == "GET" && req.Path == "/getPressure":
		h.getPressure(w)
	case req.Method == "POST" && req.Path == "/runMacro":
		h.runMacro(w, req.Body)
	case req.Method == "GET" && req.Path == "/getMacros":
		h.getMacros(w)
	case req.Method == "GET" && req.Path == "/":
		serveStatic(w, h.files, h.defaultDoc)
	default:
		serveStatic(w, h.files, req.Path)
	}
}

// setConfigBody carries the union of the mode-specific fields. The UI
// posts form values, so numbers arrive as strings. Pointer fields
// distinguish absent from empty, absent fields are left alone.
type setConfigBody struct {
	Mode          *string `json:"mode"`
	Status        *string `json:"status"`
	SensitivityX  *string `json:"sensitivityX"`
	SensitivityY  *string `json:"sensitivityY"`
	DeadzoneX     *string `json:"deadzoneX"`
	DeadzoneY     *string `json:"deadzoneY"`
	PressureValue *string `json:"pressureValue"`
	Command       *string `json:"command"`
	Parameter     *string `json:"parameter"`
}

// configTarget is the decoded dispatch target of a setConfig request.
type configTarget int

const (
	targetUnknown configTarget = iota
	targetOutput
	targetBasic
	targetPressure
	targetAction
)

func (h *Handlers) decodeTarget(mode string) configTarget {
	m := strings.ToLower(mode)
	switch {
	case strings.Contains(m, h.outputKeyword):
		return targetOutput
	case strings.Contains(m, "basic"):
		return targetBasic
	case strings.Contains(m, "pressure"):
		return targetPressure
	case strings.Contains(m, "action"):
		return targetAction
	default:
		return targetUnknown
	}
}

// setConfig applies a configuration change. Any malformed input leaves
// the state untouched; the response is a bare 200 either way because
// the UI does not read bodies on this route.
func (h *Handlers) setConfig(w io.Writer, body []byte) {
	var in setConfigBody
	if err := json.Unmarshal(body, &in); err != nil {
		log.Printf("[Server] setConfig: undecodable body: %v", err)
		writeOK(w, nil)
		return
	}
	if in.Mode == nil {
		log.Println("[Server] setConfig: missing mode field")
		writeOK(w, nil)
		return
	}

	switch h.decodeTarget(*in.Mode) {
	case targetOutput:
		on := in.Status != nil && strings.Contains(strings.ToLower(*in.Status), "on")
		h.ApplyOutput(on)
	case targetBasic:
		h.applyBasic(in)
	case targetPressure:
		h.applyPressure(in.PressureValue)
	case targetAction:
		h.applyAction(in.Command, in.Parameter)
	case targetUnknown:
		log.Printf("[Server] setConfig: unknown mode %q", *in.Mode)
	}
	writeOK(w, nil)
}

// ApplyOutput records the output state and drives the pin directly.
// Nothing is queued for the controller on this path. The MQTT bridge
// enters through here as well so every write shares one code path.
func (h *Handlers) ApplyOutput(on bool) {
	h.state.SetOutput(on)
	if err := h.output.Set(on); err != nil {
		log.Printf("[Server] output write failed: %v", err)
	}
	h.bus.Publish(core.Event{Type: core.OutputChangedEvent, Payload: on})
}

func (h *Handlers) applyBasic(in setConfigBody) {
	h.state.SetMode(core.ModeBasic)
	h.applyTuningField(in.SensitivityX, core.CmdSensitivityX, h.state.SetSensitivityX)
	h.applyTuningField(in.SensitivityY, core.CmdSensitivityY, h.state.SetSensitivityY)
	h.applyTuningField(in.DeadzoneX, core.CmdDeadzoneX, h.state.SetDeadzoneX)
	h.applyTuningField(in.DeadzoneY, core.CmdDeadzoneY, h.state.SetDeadzoneY)
	h.publishConfigChanged()
}

// applyTuningField updates one integer field and queues its controller
// command. An unparsable value rejects just that field, the previous
// value stays.
func (h *Handlers) applyTuningField(raw *string, cmdName string, set func(int)) {
	if raw == nil {
		return
	}
	value := strings.TrimSpace(*raw)
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Server] setConfig: bad %s value %q, keeping previous", cmdName, *raw)
		return
	}
	set(n)
	h.enqueue(cmdName, value)
}

func (h *Handlers) applyPressure(raw *string) {
	h.state.SetMode(core.ModePressure)
	h.applyTuningField(raw, core.CmdPressureThreshold, h.state.SetPressureThreshold)
	h.publishConfigChanged()
}

func (h *Handlers) applyAction(command, parameter *string) {
	h.state.SetMode(core.ModeAction)
	cmd, param := "", ""
	if command != nil {
		cmd = *command
	}
	if parameter != nil {
		param = *parameter
	}
	if err := h.state.SetAction(cmd, param); err != nil {
		log.Printf("[Server] setConfig: action rejected: %v", err)
		return
	}
	// An empty command is stored but Encode suppresses it, so nothing
	// reaches the queue for it.
	h.enqueue(cmd, param)
	h.publishConfigChanged()
}

// enqueue encodes and queues one controller command. Encoder rejections
// and queue overflow are logged, never surfaced to the client.
func (h *Handlers) enqueue(name, parameter string) {
	cmd, err := core.Encode(name, parameter)
	if err != nil {
		log.Printf("[Server] command %q rejected: %v", name, err)
		return
	}
	if cmd == "" {
		return
	}
	h.queue.TryPush(cmd)
}

func (h *Handlers) publishConfigChanged() {
	h.bus.Publish(core.Event{Type: core.ConfigChangedEvent, Payload: h.state.Clone()})
}

// configPayload is the getConfig wire shape. Field names match what
// the UI posts back through setConfig.
type configPayload struct {
	Output        string `json:"output"`
	WorkingMode   string `json:"workingMode"`
	SensitivityX  int    `json:"sensitivityX"`
	SensitivityY  int    `json:"sensitivityY"`
	DeadzoneX     int    `json:"deadzoneX"`
	DeadzoneY     int    `json:"deadzoneY"`
	PressureValue int    `json:"pressureValue"`
	Command       string `json:"command"`
	Parameter     string `json:"parameter"`
}

func (h *Handlers) getConfig(w io.Writer) {
	snap := h.state.Clone()
	out := "off"
	if snap.Output {
		out = "on"
	}
	body, err := json.Marshal(configPayload{
		Output:        out,
		WorkingMode:   string(snap.Mode),
		SensitivityX:  snap.SensitivityX,
		SensitivityY:  snap.SensitivityY,
		DeadzoneX:     snap.DeadzoneX,
		DeadzoneY:     snap.DeadzoneY,
		PressureValue: snap.PressureThreshold,
		Command:       snap.ActionCommand,
		Parameter:     snap.ActionParameter,
	})
	if err != nil {
		log.Printf("[Server] getConfig marshal failed: %v", err)
		writeOK(w, nil)
		return
	}
	writeOK(w, body)
}

func (h *Handlers) getPressure(w io.Writer) {
	body, err := json.Marshal(map[string]int{"pressure": h.pressure.Next()})
	if err != nil {
		writeOK(w, nil)
		return
	}
	writeOK(w, body)
}

type runMacroBody struct {
	Name *string `json:"name"`
}

func (h *Handlers) runMacro(w io.Writer, body []byte) {
	if h.macros == nil {
		writeNotFound(w)
		return
	}
	var in runMacroBody
	if err := json.Unmarshal(body, &in); err != nil || in.Name == nil {
		log.Println("[Server] runMacro: missing macro name")
		writeOK(w, nil)
		return
	}
	if err := h.macros.Run(*in.Name); err != nil {
		log.Printf("[Server] runMacro %q: %v", *in.Name, err)
		writeNotFound(w)
		return
	}
	writeOK(w, nil)
}

func (h *Handlers) getMacros(w io.Writer) {
	names := []string{}
	if h.macros != nil {
		list, err := h.macros.List()
		if err != nil {
			log.Printf("[Server] getMacros: %v", err)
		} else if list != nil {
			names = list
		}
	}
	body, err := json.Marshal(map[string][]string{"macros": names})
	if err != nil {
		writeOK(w, nil)
		return
	}
	writeOK(w, body)
}
