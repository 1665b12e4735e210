package core

import (
	"errors"
	"log"
)

// MaxCommandLen bounds an encoded command, including the "AT " prefix
// and the separating space.
const MaxCommandLen = 256

var ErrCommandTooLong = errors.New("encoded command exceeds maximum length")

// Command names understood by the controller firmware. Handlers pass
// these to Encode together with the raw value received from the client.
const (
	CmdSensitivityX      = "AX"
	CmdSensitivityY      = "AY"
	CmdDeadzoneX         = "DX"
	CmdDeadzoneY         = "DY"
	CmdPressureThreshold = "TP"
)

// Encode builds the textual command sent to the controller. An empty
// name yields an empty string and nothing should be enqueued for it.
// Oversize results are rejected, never truncated.
func Encode(name, parameter string) (string, error) {
	if name == "" {
		return "", nil
	}
	cmd := "AT " + name
	if parameter != "" {
		cmd += " " + parameter
	}
	if len(cmd) > MaxCommandLen {
		return "", ErrCommandTooLong
	}
	return cmd, nil
}

// DefaultQueueCapacity is the number of commands the outbound queue
// holds before new ones are dropped.
const DefaultQueueCapacity = 20

// CommandQueue is the bounded FIFO carrying encoded commands from
// request handling to the background loop. Both ends are non-blocking.
type CommandQueue struct {
	ch chan string
}

// NewCommandQueue creates a queue with the given capacity.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &CommandQueue{ch: make(chan string, capacity)}
}

// TryPush appends a command to the queue. On a full queue the command
// is dropped and logged; the caller's request has already been applied
// to the state at that point, so the drop is not surfaced to it.
func (q *CommandQueue) TryPush(cmd string) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		log.Printf("[Queue] command queue full, dropping command: %s", cmd)
		return false
	}
}

// TryPop removes the oldest command, returning false when the queue is
// empty rather than waiting.
func (q *CommandQueue) TryPop() (string, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return "", false
	}
}

// Len reports the number of queued commands.
func (q *CommandQueue) Len() int {
	return len(q.ch)
}
