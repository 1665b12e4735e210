package core

import (
	"errors"
	"strings"
	"sync"
)

// Mode identifies the configuration domain that was written last.
type Mode string

const (
	ModeUnset    Mode = "unset"
	ModeBasic    Mode = "basic"
	ModeAction   Mode = "action"
	ModePressure Mode = "pressure"
)

// MaxActionLen bounds the stored action command and parameter strings.
const MaxActionLen = 250

var ErrActionTooLong = errors.New("action string exceeds maximum length")
var ErrActionNotText = errors.New("action string contains a NUL byte")

// State holds the single source of truth for the device configuration.
type State struct {
	mu                sync.RWMutex
	Output            bool
	Mode              Mode
	SensitivityX      int
	SensitivityY      int
	DeadzoneX         int
	DeadzoneY         int
	PressureThreshold int
	ActionCommand     string
	ActionParameter   string
}

// NewState creates a State with the device defaults. The initial mode
// depends on the configured output kind, everything else is fixed.
func NewState(initialMode Mode) *State {
	return &State{
		Mode:              initialMode,
		SensitivityX:      50,
		SensitivityY:      60,
		DeadzoneX:         20,
		DeadzoneY:         30,
		PressureThreshold: 10,
	}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Output:            s.Output,
		Mode:              s.Mode,
		SensitivityX:      s.SensitivityX,
		SensitivityY:      s.SensitivityY,
		DeadzoneX:         s.DeadzoneX,
		DeadzoneY:         s.DeadzoneY,
		PressureThreshold: s.PressureThreshold,
		ActionCommand:     s.ActionCommand,
		ActionParameter:   s.ActionParameter,
	}
}

// SetOutput updates the output state.
func (s *State) SetOutput(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Output = on
}

// SetMode updates the working mode.
func (s *State) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mode = mode
}

// SetSensitivityX updates the X axis sensitivity.
func (s *State) SetSensitivityX(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SensitivityX = v
}

// SetSensitivityY updates the Y axis sensitivity.
func (s *State) SetSensitivityY(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SensitivityY = v
}

// SetDeadzoneX updates the X axis deadzone.
func (s *State) SetDeadzoneX(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeadzoneX = v
}

// SetDeadzoneY updates the Y axis deadzone.
func (s *State) SetDeadzoneY(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeadzoneY = v
}

// SetPressureThreshold updates the configured pressure trigger level.
func (s *State) SetPressureThreshold(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PressureThreshold = v
}

// SetAction stores the last requested action command and parameter.
// Both values are validated first so a rejected write leaves the
// previous values untouched.
func (s *State) SetAction(command, parameter string) error {
	if err := checkActionString(command); err != nil {
		return err
	}
	if err := checkActionString(parameter); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActionCommand = command
	s.ActionParameter = parameter
	return nil
}

func checkActionString(v string) error {
	if len(v) > MaxActionLen {
		return ErrActionTooLong
	}
	if strings.ContainsRune(v, 0) {
		return ErrActionNotText
	}
	return nil
}
