package client

import (
	"context"
	"sync"
	"time"
)

// HookContext contains information about the remote call being executed.
// This is passed to hooks to allow inspection and modification.
type HookContext struct {
	// Operation names the remote call (execute data query, commit, ...)
	Operation string

	// Command is the YQL text, empty for calls without one
	Command string

	// CommandType categorizes the call: data, scan, scheme, explain,
	// transaction or session
	CommandType string

	// SessionID is the remote session the call runs on, if known
	SessionID string

	// StartTime is when the call began
	StartTime time.Time

	// Metadata allows hooks to store arbitrary data for passing between Before/After
	Metadata map[string]interface{}

	// TraceID is the unique identifier for this call
	TraceID string

	// Attempts is the number of attempts made (available in After hook)
	Attempts int

	// Error stores any error that occurred (available in After hook)
	Error error

	// Duration is the execution time (available in After hook)
	Duration time.Duration
}

// Hook is the interface that all hooks must implement.
type Hook interface {
	// Name returns the unique name of this hook
	Name() string

	// Before is called before the remote call.
	// Returning an error aborts the call and returns the error.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After is called after the remote call (even if it failed).
	// Returning an error replaces any existing error.
	After(ctx context.Context, hookCtx *HookContext) error
}

// hookChain is an ordered set of hooks keyed by name.
type hookChain struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger Logger
}

func newHookChain(logger Logger, hooks []Hook) *hookChain {
	c := &hookChain{logger: logger}
	for _, h := range hooks {
		c.register(h)
	}
	return c
}

// register adds a hook. Hooks run in FIFO order. A hook with the same name
// is replaced in place.
func (c *hookChain) register(hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, h := range c.hooks {
		if h.Name() == hook.Name() {
			c.hooks[i] = hook
			c.logger.Debug("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	c.hooks = append(c.hooks, hook)
	c.logger.Debug("hook registered", String("hook", hook.Name()), Int("order", len(c.hooks)-1))
}

func (c *hookChain) unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, h := range c.hooks {
		if h.Name() == name {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			c.logger.Debug("hook unregistered", String("hook", name))
			return true
		}
	}
	return false
}

func (c *hookChain) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.hooks))
	for i, h := range c.hooks {
		names[i] = h.Name()
	}
	return names
}

func (c *hookChain) snapshot() []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Hook(nil), c.hooks...)
}

// before runs all Before hooks in order and stops at the first error.
func (c *hookChain) before(ctx context.Context, hookCtx *HookContext) error {
	for _, hook := range c.snapshot() {
		if err := hook.Before(ctx, hookCtx); err != nil {
			c.logger.Debug("hook aborted call",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				Error("error", err))
			return err
		}
	}
	return nil
}

// after runs every After hook and returns the last error, if any.
func (c *hookChain) after(ctx context.Context, hookCtx *HookContext) error {
	var lastErr error
	for _, hook := range c.snapshot() {
		if err := hook.After(ctx, hookCtx); err != nil {
			c.logger.Debug("hook returned error in After",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				Error("error", err))
			lastErr = err
		}
	}
	return lastErr
}
