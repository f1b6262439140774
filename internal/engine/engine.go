package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/loop"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/id"
)

const (
	// DefaultTimeout activates the engine when nobody interacts with the page.
	// Earlier revisions used 10s.
	DefaultTimeout = 5 * time.Second

	// ReadyDelay separates materialization from the widget ready check.
	ReadyDelay = time.Second

	// EventLoaded is dispatched on the window once materialization has run.
	EventLoaded = "recaptchaLoaded"

	// WidgetGlobal is the global under which the widget exposes ReadyAPI.
	WidgetGlobal = "grecaptcha"

	// TriggerTimeout names the fallback timer in reports.
	TriggerTimeout = "timeout"
)

// InteractionEvents are the window events that activate the engine.
var InteractionEvents = []string{"scroll", "click", "touchstart", "mousemove", "keydown"}

// State is the engine's activation state
type State int

const (
	StatePending State = iota
	StateActivated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// ReadyAPI is the readiness hook the widget exposes once its bundle loaded
type ReadyAPI interface {
	Ready(fn func())
}

// Config configures an Engine
type Config struct {
	PageID  id.PageID
	Timeout time.Duration
	Logger  *zap.Logger
}

// DefaultConfig returns the production configuration
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// Report summarizes what an engine did during its page load
type Report struct {
	PageID       id.PageID
	State        State
	Trigger      string
	ActivatedAt  time.Time
	Intercepted  int
	Materialized int
	Skipped      int
	Sources      []string
	WidgetReady  bool
}

// Engine is the deferred loader of one page load
type Engine struct {
	doc    *dom.Document
	loop   loop.Loop
	cfg    Config
	logger *zap.Logger

	state     State
	started   bool
	observer  *dom.Subscription
	listeners []*dom.Listener
	timer     loop.Timer
	report    Report
}

// New creates an engine for doc. It does not touch the page until Start.
func New(doc *dom.Document, lp loop.Loop, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageID == "" {
		cfg.PageID = id.NewPageID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		doc:    doc,
		loop:   lp,
		cfg:    cfg,
		logger: logger.With(zap.String("page_id", cfg.PageID.String())),
		report: Report{PageID: cfg.PageID},
	}
}

// Boot starts an engine when the page is eligible. Ineligible pages get no
// engine, no listeners and no watcher; Boot returns nil for them.
func Boot(eligible bool, doc *dom.Document, lp loop.Loop, cfg Config) *Engine {
	if !eligible {
		if cfg.Logger != nil {
			cfg.Logger.Debug("Page not eligible, deferred loader skipped")
		}
		return nil
	}
	e := New(doc, lp, cfg)
	e.Start()
	return e
}

// Start attaches the interceptor, the interaction listeners and the timeout.
// The interceptor is attached first so no script inserted afterwards escapes
// it. Calling Start again is a no-op.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true

	e.intercept()
	e.arm()

	e.logger.Debug("Deferred loader started",
		zap.Duration("timeout", e.cfg.Timeout),
		zap.Bool("observer", e.observer != nil),
	)
}

// State returns the activation state
func (e *Engine) State() State {
	return e.state
}

// Report returns a snapshot of the engine's activity
func (e *Engine) Report() Report {
	r := e.report
	r.State = e.state
	r.Sources = append([]string(nil), e.report.Sources...)
	return r
}

// Activate materializes the deferred scripts. Only the first call does any
// work and returns true.
func (e *Engine) Activate(trigger string) bool {
	if e.state == StateActivated {
		return false
	}
	e.state = StateActivated
	e.report.Trigger = trigger
	e.report.ActivatedAt = e.loop.Now()

	e.teardown()
	e.materialize()

	e.logger.Info("Deferred loader activated",
		zap.String("trigger", trigger),
		zap.Int("materialized", e.report.Materialized),
		zap.Int("skipped", e.report.Skipped),
		zap.Int("intercepted", e.report.Intercepted),
	)
	return true
}

// teardown releases the watcher, the listeners that did not fire and the
// fallback timer
func (e *Engine) teardown() {
	if e.observer != nil {
		e.observer.Disconnect()
		e.observer = nil
	}
	for _, l := range e.listeners {
		l.Remove()
	}
	e.listeners = nil
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
