package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/loop"
)

// Runtime wraps a goja VM with execution limits and a virtual clock
type Runtime struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger
	mu     sync.Mutex
	closed bool

	console   []LogEntry
	consoleMu sync.Mutex

	clock     *loop.Virtual
	timers    map[int64]loop.Timer
	nextTimer int64

	bridge *bridge
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		config: config,
		logger: logger,
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

// Compile checks that source parses as a script without running it
func Compile(name, source string) error {
	_, err := goja.Compile(name, source, false)
	return err
}

func (r *Runtime) init() error {
	r.vm = goja.New()
	if r.config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	start := r.config.Start
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	r.clock = loop.NewVirtual(start).WithLogger(r.logger)
	r.timers = make(map[int64]loop.Timer)
	r.nextTimer = 0
	r.bridge = nil

	r.consoleMu.Lock()
	r.console = []LogEntry{}
	r.consoleMu.Unlock()

	return r.setupGlobals()
}

// Execute runs JavaScript code with timeout and resource limits
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	mark := r.consoleLen()

	val, err := r.guard(ctx, func() (goja.Value, error) {
		return r.vm.RunString(script)
	})

	result := &Result{
		Duration: time.Since(start),
		Console:  r.consoleSince(mark),
	}
	if err != nil {
		return result, err
	}
	result.Value = exportValue(val)
	return result, nil
}

// Bind exposes doc to scripts as window and document
func (r *Runtime) Bind(doc *dom.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	b := newBridge(r, doc)
	if err := b.install(); err != nil {
		return fmt.Errorf("failed to bind document: %w", err)
	}
	r.bridge = b
	return nil
}

// Expose defines a global visible to scripts. Go functions are callable from
// script with goja's argument conversion.
func (r *Runtime) Expose(name string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.vm.Set(name, value); err != nil {
		return fmt.Errorf("failed to expose %s: %w", name, err)
	}
	return nil
}

// Dispatch fires a window event at the bound document and returns how many
// listeners ran
func (r *Runtime) Dispatch(ctx context.Context, eventType string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if r.bridge == nil {
		return 0, ErrNotBound
	}
	var ran int
	_, err := r.guard(ctx, func() (goja.Value, error) {
		ran = r.bridge.doc.Window().DispatchEvent(dom.Event{Type: eventType})
		return nil, nil
	})
	return ran, err
}

// RunTimers advances the virtual clock by d, firing due timers in order. It
// returns the number of timers fired.
func (r *Runtime) RunTimers(ctx context.Context, d time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	var fired int
	_, err := r.guard(ctx, func() (goja.Value, error) {
		fired = r.clock.Advance(d)
		return nil, nil
	})
	return fired, err
}

// Now returns the virtual clock
func (r *Runtime) Now() time.Time {
	return r.clock.Now()
}

// PendingTimers returns the number of scheduled timers
func (r *Runtime) PendingTimers() int {
	return r.clock.PendingTimers()
}

// Console returns everything captured since the last reset
func (r *Runtime) Console() []LogEntry {
	return r.consoleSince(0)
}

// guard runs fn with the execution timeout and ctx wired to vm.Interrupt
func (r *Runtime) guard(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	var timeout <-chan time.Time
	if r.config.Timeout > 0 {
		timer := time.NewTimer(r.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	go func() {
		defer wg.Done()
		select {
		case <-timeout:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := fn()

	close(done)
	wg.Wait()
	r.vm.ClearInterrupt()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
	}
	return val, err
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	if err := r.vm.Set("setTimeout", r.setTimeout); err != nil {
		return err
	}
	if err := r.vm.Set("clearTimeout", r.clearTimeout); err != nil {
		return err
	}
	// Intervals are not scheduled.
	return r.vm.Set("setInterval", func(goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.appendConsole(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) appendConsole(level, msg string) {
	r.consoleMu.Lock()
	r.console = append(r.console, LogEntry{
		Level:   level,
		Message: msg,
		Time:    r.clock.Now(),
	})
	r.consoleMu.Unlock()
}

func (r *Runtime) consoleLen() int {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return len(r.console)
}

func (r *Runtime) consoleSince(mark int) []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	if mark > len(r.console) {
		mark = len(r.console)
	}
	return append([]LogEntry{}, r.console[mark:]...)
}

// report records a failure raised by a callback the host invoked
func (r *Runtime) report(source string, err error) {
	r.appendConsole("error", fmt.Sprintf("%s: %v", source, err))
	r.logger.Debug("Sandbox callback failed", zap.String("source", source), zap.Error(err))
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Reset discards the VM, the timers and the bound document
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	return r.init()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.vm = nil
	r.bridge = nil
	r.console = nil
	return nil
}
