package core

import "sync"

// PressureSimulator produces the synthetic pressure readings reported
// by getPressure. The counter lives for the whole process and is not
// part of the configuration state.
type PressureSimulator struct {
	mu    sync.Mutex
	value int
}

// NewPressureSimulator seeds the counter at 20, so the first reading
// returned by Next is 40.
func NewPressureSimulator() *PressureSimulator {
	return &PressureSimulator{value: 20}
}

// Next advances the counter by 20 and returns it, resetting to 0 once
// the value passes 1000.
func (p *PressureSimulator) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value += 20
	if p.value > 1000 {
		p.value = 0
	}
	return p.value
}
