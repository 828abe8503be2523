package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// Command types reported to hooks.
const (
	commandData        = "data"
	commandScan        = "scan"
	commandScheme      = "scheme"
	commandExplain     = "explain"
	commandPrepare     = "prepare"
	commandTransaction = "transaction"
	commandSession     = "session"
)

// RetryPolicy decides how idempotent calls are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt. Each further
	// delay doubles, up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RetryableCodes overrides the default Unavailable, ResourceExhausted
	// and Aborted.
	RetryableCodes []codes.Code
}

// Retryable reports whether err may be retried under p.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryableCodes) == 0 {
		return IsRetryable(err)
	}
	code := remoteCode(err)
	for _, c := range p.RetryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.InitialBackoff * time.Duration(1<<uint(attempt-1))
	if p.MaxBackoff > 0 && (backoff > p.MaxBackoff || backoff <= 0) {
		backoff = p.MaxBackoff
	}
	return backoff
}

// Call describes one remote call run by the Executor.
type Call struct {
	// Operation names the call in logs, hooks and errors.
	Operation   string
	CommandType string
	YQL         string
	SessionID   string
	// Timeout bounds the call. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Idempotent calls are retried under the retry policy. Data queries are
	// never idempotent.
	Idempotent bool
}

// Executor runs remote calls: it applies timeouts, runs hooks, retries
// idempotent calls, records warnings and converts failures to
// RemoteExecutionError.
type Executor struct {
	client         tableclient.Client
	logger         Logger
	hooks          *hookChain
	retry          RetryPolicy
	sessionTimeout time.Duration

	cancel atomic.Pointer[context.CancelFunc]

	warningsMu sync.Mutex
	warnings   []tableclient.Issue
}

// NewExecutor creates an executor for tc.
func NewExecutor(tc tableclient.Client, opts Options, logger Logger) *Executor {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Executor{
		client:         tc,
		logger:         logger,
		hooks:          newHookChain(logger, opts.Hooks),
		retry:          opts.RetryPolicy(),
		sessionTimeout: opts.SessionTimeout,
	}
}

// Execute runs fn as one remote call. fn receives a context bounded by the
// call timeout and cancelled by Cancel, and the YQL text as left by the
// Before hooks.
func (e *Executor) Execute(ctx context.Context, call Call, fn func(ctx context.Context, yql string) error) error {
	hookCtx := &HookContext{
		Operation:   call.Operation,
		Command:     call.YQL,
		CommandType: call.CommandType,
		SessionID:   call.SessionID,
		StartTime:   time.Now(),
		Metadata:    make(map[string]interface{}),
		TraceID:     uuid.NewString(),
	}

	if err := e.hooks.before(ctx, hookCtx); err != nil {
		return err
	}
	yql := hookCtx.Command

	maxAttempts := 1
	if call.Idempotent && e.retry.MaxAttempts > 1 {
		maxAttempts = e.retry.MaxAttempts
	}

	var err error
	attempts := 0
	for {
		attempts++
		err = e.attempt(ctx, call.Timeout, yql, fn)
		if err == nil || attempts >= maxAttempts || !e.retry.Retryable(err) {
			break
		}

		backoff := e.retry.Backoff(attempts)
		e.logger.Debug("retrying call",
			String("operation", call.Operation),
			String("trace_id", hookCtx.TraceID),
			Int("attempt", attempts),
			Duration("backoff", backoff),
			Error("error", err))

		if waitErr := sleepContext(ctx, backoff); waitErr != nil {
			break
		}
	}

	if err != nil {
		var remote *RemoteExecutionError
		if !errors.As(err, &remote) {
			err = ErrRemoteExecution(call.Operation, err, attempts)
		}
	}

	hookCtx.Attempts = attempts
	hookCtx.Error = err
	hookCtx.Duration = time.Since(hookCtx.StartTime)
	if hookErr := e.hooks.after(ctx, hookCtx); hookErr != nil {
		err = hookErr
	}

	if err != nil {
		e.logger.Debug("call failed",
			String("operation", call.Operation),
			String("trace_id", hookCtx.TraceID),
			Int("attempts", attempts),
			Error("error", err))
	} else {
		e.logger.Debug("call completed",
			String("operation", call.Operation),
			String("trace_id", hookCtx.TraceID),
			Duration("duration", hookCtx.Duration))
	}
	return err
}

func (e *Executor) attempt(ctx context.Context, timeout time.Duration, yql string, fn func(ctx context.Context, yql string) error) error {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	e.cancel.Store(&cancel)
	defer e.cancel.CompareAndSwap(&cancel, nil)

	return fn(callCtx, yql)
}

// Cancel cancels the in-flight call, if any. It is safe to call from any
// goroutine and reports whether a call was cancelled.
func (e *Executor) Cancel() bool {
	cancel := e.cancel.Swap(nil)
	if cancel == nil {
		return false
	}
	(*cancel)()
	return true
}

// CreateSession acquires a new session. Acquisition is idempotent and is
// retried.
func (e *Executor) CreateSession(ctx context.Context) (tableclient.Session, error) {
	var session tableclient.Session
	err := e.Execute(ctx, Call{
		Operation:   "create session",
		CommandType: commandSession,
		Timeout:     e.sessionTimeout,
		Idempotent:  true,
	}, func(ctx context.Context, _ string) error {
		s, err := e.client.CreateSession(ctx, tableclient.SessionSettings{Timeout: e.sessionTimeout})
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AddWarnings records issues reported by a successful call.
func (e *Executor) AddWarnings(issues []tableclient.Issue) {
	if len(issues) == 0 {
		return
	}
	e.warningsMu.Lock()
	defer e.warningsMu.Unlock()
	e.warnings = append(e.warnings, issues...)
}

// Warnings returns the recorded issues.
func (e *Executor) Warnings() []tableclient.Issue {
	e.warningsMu.Lock()
	defer e.warningsMu.Unlock()
	return append([]tableclient.Issue(nil), e.warnings...)
}

// ClearWarnings drops the recorded issues.
func (e *Executor) ClearWarnings() {
	e.warningsMu.Lock()
	defer e.warningsMu.Unlock()
	e.warnings = nil
}

// RegisterHook adds a hook to the chain. Hooks run in FIFO order and a hook
// with the same name is replaced.
func (e *Executor) RegisterHook(hook Hook) {
	e.hooks.register(hook)
}

// UnregisterHook removes a hook by name.
func (e *Executor) UnregisterHook(name string) bool {
	return e.hooks.unregister(name)
}

// Hooks returns the names of all registered hooks in execution order.
func (e *Executor) Hooks() []string {
	return e.hooks.names()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
