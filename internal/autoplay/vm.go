// Package autoplay runs user-supplied JavaScript strategies that pick
// filling rooms to join and produce scores to submit. Strategies automate
// test play against the ledger; they do not implement either mini-game.
package autoplay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// LogEntry is a single log message emitted by the strategy script.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = 1 * time.Second
)

// VM wraps a goja runtime with sandbox restrictions and the strategy's
// global functions injected.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int

	// stopRequested is set when the script calls stop().
	stopRequested bool
}

// NewVM creates a sandboxed goja runtime with global functions injected.
func NewVM() *VM {
	vm := &VM{
		runtime: goja.New(),
		maxLogs: 500,
	}
	vm.injectGlobalFunctions()
	return vm
}

// injectGlobalFunctions registers log, console.log, and stop, and blocks
// the runtime's escape hatches.
func (vm *VM) injectGlobalFunctions() {
	// log(...args) — appends to the log buffer
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		vm.logsMu.Lock()
		if len(vm.logs) >= vm.maxLogs {
			vm.logs = vm.logs[1:]
		}
		vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
		vm.logsMu.Unlock()

		return goja.Undefined()
	})

	// console.log — alias for log
	console := vm.runtime.NewObject()
	console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	// stop() — signals the runner to stop after the current match
	vm.runtime.Set("stop", func(call goja.FunctionCall) goja.Value {
		vm.mu.Lock()
		vm.stopRequested = true
		vm.mu.Unlock()
		return goja.Undefined()
	})

	// Block dangerous globals.
	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("XMLHttpRequest", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
}

// Execute runs the strategy source once to register shouldJoin() and play().
func (vm *VM) Execute(source string) error {
	if err := vm.runWithTimeout(scriptInitTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		_, err := vm.runtime.RunString(source)
		if err != nil {
			return fmt.Errorf("strategy execution error: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	if !vm.hasFunc("shouldJoin") {
		return fmt.Errorf("strategy must define a shouldJoin(room) function")
	}
	if !vm.hasFunc("play") {
		return fmt.Errorf("strategy must define a play(room) function")
	}
	return nil
}

// CallShouldJoin asks the strategy whether to join the given filling room.
func (vm *VM) CallShouldJoin(room rooms.Room, prize rooms.Prize) (bool, error) {
	var join bool
	err := vm.runWithTimeout(scriptCallTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		callable, err := vm.callable("shouldJoin")
		if err != nil {
			return err
		}
		result, err := callable(goja.Undefined(), vm.roomValue(room, prize))
		if err != nil {
			return fmt.Errorf("shouldJoin() error: %w", err)
		}
		join = result.ToBoolean()
		return nil
	})
	return join, err
}

// CallPlay asks the strategy for the score to submit for an active room.
// The returned score must be a non-negative integer.
func (vm *VM) CallPlay(room rooms.Room, prize rooms.Prize) (int64, error) {
	var score int64
	err := vm.runWithTimeout(scriptCallTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		callable, err := vm.callable("play")
		if err != nil {
			return err
		}
		result, err := callable(goja.Undefined(), vm.roomValue(room, prize))
		if err != nil {
			return fmt.Errorf("play() error: %w", err)
		}
		score = result.ToInteger()
		if score < 0 {
			return fmt.Errorf("play() returned %d, scores must be >= 0", score)
		}
		return nil
	})
	return score, err
}

// roomValue builds the JS room object handed to strategy callbacks.
func (vm *VM) roomValue(room rooms.Room, prize rooms.Prize) goja.Value {
	return vm.runtime.ToValue(map[string]any{
		"id":             room.ID,
		"entryFee":       room.EntryFee,
		"maxPlayers":     room.MaxPlayers,
		"currentPlayers": room.CurrentPlayers,
		"gameType":       string(room.GameType),
		"visibility":     string(room.Visibility),
		"status":         string(room.Status),
		"prize": map[string]any{
			"gross":      prize.GrossPool,
			"commission": prize.Commission,
			"net":        prize.NetPrize,
		},
	})
}

func (vm *VM) hasFunc(name string) bool {
	fn := vm.runtime.Get(name)
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return false
	}
	_, ok := goja.AssertFunction(fn)
	return ok
}

func (vm *VM) callable(name string) (goja.Callable, error) {
	fn := vm.runtime.Get(name)
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return nil, fmt.Errorf("%s() function is not defined", name)
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", name)
	}
	return callable, nil
}

// IsStopRequested returns true if stop() was called from the script.
func (vm *VM) IsStopRequested() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stopRequested
}

// GetLogs returns a copy of the current log buffer.
func (vm *VM) GetLogs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		// Interrupt a runaway script execution.
		vm.runtime.Interrupt("strategy execution timeout")
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("strategy timed out: %w", err)
			}
			return fmt.Errorf("strategy timed out")
		case <-time.After(200 * time.Millisecond):
			return fmt.Errorf("strategy timed out")
		}
	}
}
