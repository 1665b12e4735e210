package macro

import (
	"context"
	"log"
	"time"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"

	lua "github.com/yuin/gopher-lua"
)

// registerGoFunctions exposes the firmware command API to the given Lua state.
func (e *Engine) registerGoFunctions(L *lua.LState, ctx context.Context) {
	L.SetGlobal("send", L.NewFunction(e.luaSend))
	L.SetGlobal("log", L.NewFunction(luaLog))
	L.SetGlobal("print", L.NewFunction(luaLog))
	L.SetGlobal("sleep", L.NewFunction(luaSleep(ctx)))
	L.SetGlobal("should_stop", L.NewFunction(luaShouldStop(ctx)))
}

func luaLog(L *lua.LState) int {
	log.Printf("[LUA] %s", L.ToString(1))
	return 0
}

// luaSend encodes a firmware command and places it on the outgoing queue.
func (e *Engine) luaSend(L *lua.LState) int {
	name := L.ToString(1)
	parameter := L.ToString(2)

	cmd, err := core.Encode(name, parameter)
	if err != nil {
		log.Printf("[Macro] send(%s, %s): %v", name, parameter, err)
		return 0
	}
	if cmd == "" {
		return 0
	}
	e.queue.TryPush(cmd)
	return 0
}

// cancellableSleep is a helper to sleep for a duration, but wake up immediately
// if the context is cancelled. It returns true if the context was cancelled.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

func luaSleep(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		ms := L.ToInt(1)
		cancellableSleep(ctx, time.Duration(ms)*time.Millisecond)
		return 0
	}
}

func luaShouldStop(ctx context.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		select {
		case <-ctx.Done():
			L.Push(lua.LBool(true))
		default:
			L.Push(lua.LBool(false))
		}
		return 1
	}
}
