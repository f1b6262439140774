// Package simulate replays a visitor's first seconds on a page against the
// deferred loader and reports when and how the widget was loaded.
//
// Two engines can be driven. ModeEngine runs the Go engine on a virtual
// loop. ModeLoader runs the browser loader in the goja sandbox against the
// same document model. Both see the same timeline, so their reports can be
// compared.
//
// In ModeLoader the loader is placed first in head and the page's inline
// scripts are then evaluated in document order, so widget tags inserted by
// page script at parse time meet the loader the way they would in a browser.
package simulate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/engine"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/sandbox"
)

// Mode selects the implementation under simulation
type Mode string

const (
	ModeEngine Mode = "engine"
	ModeLoader Mode = "loader"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEngine, ModeLoader:
		return Mode(s), nil
	case "":
		return ModeEngine, nil
	}
	return "", fmt.Errorf("unknown simulation mode %q", s)
}

// Entry kinds in Result.Log
const (
	EntryEvent   = "event"
	EntryInsert  = "insert"
	EntryExecute = "execute"
	EntryLoaded  = "loaded"
	EntryReady   = "ready"
)

// Entry is one line of the simulation log
type Entry struct {
	At     time.Duration `json:"at"`
	Kind   string        `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

// Options configure a run
type Options struct {
	Mode     Mode
	Eligible bool
	Timeout  time.Duration
	Timeline []Step
	// Until is how long the visit lasts. Zero runs until the later of the
	// last step and the timeout, plus the widget ready delay.
	Until time.Duration
	// Widget installs a stand-in widget API whose ready hook is recorded
	Widget  bool
	BaseURL string
	// Realtime runs ModeEngine on the wall clock instead of a virtual one.
	// Timings in the result are then measured, not exact.
	Realtime bool
	// Pool supplies sandboxes for ModeLoader; nil creates one per run
	Pool   *sandbox.Pool
	Logger *zap.Logger
}

// Result is the outcome of a run
type Result struct {
	Mode        Mode           `json:"mode"`
	Activated   bool           `json:"activated"`
	Trigger     string         `json:"trigger,omitempty"`
	ActivatedAt time.Duration  `json:"activated_at"`
	Loaded      int            `json:"loaded_events"`
	WidgetReady bool           `json:"widget_ready"`
	Executed    []string       `json:"executed"`
	Log         []Entry        `json:"log"`
	Report      *engine.Report `json:"report,omitempty"`
	HTML        string         `json:"-"`
}

// epoch is where virtual clocks start
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// run is the state shared by both modes
type run struct {
	opts  Options
	doc   *dom.Document
	res   *Result
	now   func() time.Time
	start time.Time
	cause string

	// loader mode only
	ctx        context.Context
	rt         *sandbox.Runtime
	parsing    bool
	evaluating bool
	loaderErr  error
}

func (r *run) elapsed() time.Duration {
	if r.now == nil {
		return 0
	}
	return r.now().Sub(r.start)
}

func (r *run) log(kind, detail string) {
	r.res.Log = append(r.res.Log, Entry{At: r.elapsed(), Kind: kind, Detail: detail})
}

// Run simulates a visit to page
func Run(ctx context.Context, page string, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeEngine
	}
	if opts.Timeout <= 0 {
		opts.Timeout = engine.DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Until <= 0 {
		opts.Until = opts.Timeout
		if n := len(opts.Timeline); n > 0 && opts.Timeline[n-1].At > opts.Until {
			opts.Until = opts.Timeline[n-1].At
		}
		opts.Until += engine.ReadyDelay
	}

	if opts.Realtime && opts.Mode != ModeEngine {
		return nil, fmt.Errorf("realtime replay requires %s mode", ModeEngine)
	}

	r := &run{opts: opts, res: &Result{Mode: opts.Mode, Executed: []string{}}}

	domOpts := []dom.Option{dom.WithExecutor(dom.ExecutorFunc(func(el *dom.Element) {
		src := el.Src()
		if src == "" {
			if el.ID() != injector.ScriptID {
				r.res.Executed = append(r.res.Executed, "inline")
				r.log(EntryExecute, "inline")
			}
			r.evaluate(el)
			return
		}
		r.res.Executed = append(r.res.Executed, src)
		r.log(EntryExecute, src)
	}))}
	if opts.BaseURL != "" {
		domOpts = append(domOpts, dom.WithBaseURL(opts.BaseURL))
	}
	doc, err := dom.ParseString(page, domOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	r.doc = doc

	doc.Window().AddEventListener(engine.EventLoaded, func(dom.Event) {
		if !r.res.Activated {
			r.res.Activated = true
			r.res.Trigger = r.cause
			r.res.ActivatedAt = r.elapsed()
		}
		r.res.Loaded++
		r.log(EntryLoaded, "")
	}, dom.ListenerOptions{})

	switch opts.Mode {
	case ModeEngine:
		err = r.runEngine(ctx)
	case ModeLoader:
		err = r.runLoader(ctx)
	default:
		err = fmt.Errorf("unknown simulation mode %q", opts.Mode)
	}
	if err != nil {
		return nil, err
	}

	r.res.HTML = doc.String()
	opts.Logger.Debug("Simulation finished",
		zap.String("mode", string(opts.Mode)),
		zap.String("trigger", r.res.Trigger),
		zap.Duration("activated_at", r.res.ActivatedAt),
		zap.Int("executed", len(r.res.Executed)),
	)
	return r.res, nil
}

// insertScript appends a script the way a third-party tag manager would
func (r *run) insertScript(src string) error {
	el := r.doc.CreateElement("script")
	el.SetAttribute("src", src)
	r.log(EntryInsert, src)
	return r.doc.Body().AppendChild(el)
}
