// Package macro provides a Lua engine for scripted firmware command sequences.
package macro

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"

	lua "github.com/yuin/gopher-lua"
)

// cmdType defines the type of engine command.
type cmdType int

const (
	cmdRun cmdType = iota
	cmdStop
)

// engineCmd represents a command sent to the macro engine.
type engineCmd struct {
	kind cmdType
	name string
	path string
}

// Engine manages the Lua scripting environment using a single worker goroutine
// to ensure only one macro runs at a time.
type Engine struct {
	queue     *core.CommandQueue
	macrosDir string
	eventBus  *core.EventBus

	cmdChan chan engineCmd
}

// NewEngine creates a new macro engine and starts its background worker.
func NewEngine(queue *core.CommandQueue, macrosDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		queue:     queue,
		macrosDir: macrosDir,
		eventBus:  eb,
		cmdChan:   make(chan engineCmd, 10),
	}

	go e.runLoop()

	return e
}

// runLoop is the main worker loop that processes engine commands sequentially.
func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var macroDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-macroDone:
			case <-time.After(2 * time.Second):
				log.Println("[Macro] Timeout waiting for macro to stop")
			}
			currentCancel = nil
			macroDone = nil
		}

		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		macroDone = make(chan struct{})

		go e.executeFile(cmd.name, cmd.path, ctx, macroDone)
	}
}

// Stop cancels the currently running macro if any.
func (e *Engine) Stop() {
	select {
	case e.cmdChan <- engineCmd{kind: cmdStop}:
	default:
		log.Println("[Macro] Command channel full, could not send stop command")
	}
}

// Run queues the named macro for execution, replacing any macro that is
// still running. It fails when the name is unsafe or the file does not exist.
func (e *Engine) Run(name string) error {
	path, err := e.macroPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("macro %q: %w", name, err)
	}

	e.cmdChan <- engineCmd{
		kind: cmdRun,
		name: name,
		path: path,
	}
	return nil
}

// List scans the macros directory and returns the available .lua files.
func (e *Engine) List() ([]string, error) {
	names := []string{}
	files, err := os.ReadDir(e.macrosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			names = append(names, file.Name())
		}
	}
	return names, nil
}

// sanitizeName checks for directory traversal and ensures a valid .lua extension.
func sanitizeName(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("macro name must end with .lua")
	}
	cleanName := filepath.Base(name)
	if cleanName == "" || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid macro name")
	}
	return cleanName, nil
}

// macroPath returns the safe path to a macro file within the engine's
// configured directory.
func (e *Engine) macroPath(name string) (string, error) {
	cleanName, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.macrosDir, cleanName), nil
}

// executeFile runs a macro file within the worker's context.
func (e *Engine) executeFile(name, path string, ctx context.Context, done chan struct{}) {
	defer close(done)

	log.Printf("[Macro] Starting macro '%s'...", name)
	if e.eventBus != nil {
		e.eventBus.Publish(core.Event{
			Type: core.MacroChangedEvent,
			Payload: map[string]interface{}{
				"running": name,
			},
		})
	}

	defer func() {
		log.Printf("[Macro] Macro '%s' finished.", name)
		if e.eventBus != nil {
			e.eventBus.Publish(core.Event{
				Type: core.MacroChangedEvent,
				Payload: map[string]interface{}{
					"running": "",
				},
			})
		}
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerGoFunctions(L, ctx)

	if err := L.DoFile(path); err != nil {
		if ctx.Err() == context.Canceled {
			log.Printf("[Macro] Macro '%s' execution was canceled.", name)
		} else {
			log.Printf("[Macro] Error executing macro '%s': %v", name, err)
		}
	}
}
