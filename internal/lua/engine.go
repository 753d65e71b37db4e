// Package lua runs user scripts that drive the light through its control
// endpoints.
package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"rgblight/internal/core"
)

// Writer applies one endpoint write, exactly as a wireless client would.
type Writer interface {
	Write(attr core.Attribute, data []byte) error
}

// Engine executes scripts one at a time. Starting a script cancels the one
// still running.
type Engine struct {
	writer  Writer
	state   *core.State
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	running *run
}

type run struct {
	name   string
	cancel context.CancelFunc
}

// NewEngine creates an engine. Scripts are aborted after timeout.
func NewEngine(writer Writer, state *core.State, timeout time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		writer:  writer,
		state:   state,
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes code in a fresh Lua state and returns when it finishes, is
// superseded, times out or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, name, code string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{name: name, cancel: cancel}
	e.mu.Lock()
	if e.running != nil {
		e.logger.Info().Str("script", e.running.name).Str("by", name).Msg("Superseding script")
		e.running.cancel()
	}
	e.running = r
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.running == r {
			e.running = nil
		}
		e.mu.Unlock()
	}()

	e.logger.Debug().Str("script", name).Msg("Starting script")

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerGoFunctions(L, ctx)

	err := L.DoString(code)
	switch {
	case err == nil:
		e.logger.Debug().Str("script", name).Msg("Script finished")
		return nil
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn().Str("script", name).Dur("timeout", e.timeout).Msg("Script timed out")
		} else {
			e.logger.Info().Str("script", name).Msg("Script cancelled")
		}
		return fmt.Errorf("script %q: %w", name, ctx.Err())
	default:
		e.logger.Error().Err(err).Str("script", name).Msg("Error executing script")
		return fmt.Errorf("script %q: %w", name, err)
	}
}

// Stop cancels the running script, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running != nil {
		e.running.cancel()
	}
}

// Running returns the name of the running script.
func (e *Engine) Running() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		return "", false
	}
	return e.running.name, true
}
