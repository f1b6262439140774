package simulate

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/engine"
	"github.com/GriffinCanCode/recaptcha-defer/internal/loop"
)

// widget stands in for the reCAPTCHA API object
type widget struct {
	r *run
}

func (w widget) Ready(fn func()) {
	w.r.res.WidgetReady = true
	w.r.log(EntryReady, "")
	fn()
}

func (r *run) runEngine(ctx context.Context) error {
	if r.opts.Realtime {
		return r.runEngineRealtime(ctx)
	}

	lp := loop.NewVirtual(epoch).WithLogger(r.opts.Logger)
	r.now = lp.Now
	r.start = lp.Now()

	eng := r.bootEngine(lp)
	for _, step := range r.opts.Timeline {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step.At > r.elapsed() {
			r.cause = engine.TriggerTimeout
			lp.Advance(step.At - r.elapsed())
		}
		if err := r.apply(step); err != nil {
			return err
		}
		lp.RunPending()
	}
	if rest := r.opts.Until - r.elapsed(); rest > 0 {
		r.cause = engine.TriggerTimeout
		lp.Advance(rest)
	}

	r.report(eng)
	return ctx.Err()
}

// runEngineRealtime replays the timeline against the wall clock. The visit
// lasts Until; every step and every engine callback runs on the loop.
func (r *run) runEngineRealtime(ctx context.Context) error {
	lp := loop.NewReal(0, r.opts.Logger)
	defer lp.Close()
	r.now = lp.Now
	r.start = lp.Now()
	r.cause = engine.TriggerTimeout

	visit, cancel := context.WithTimeout(ctx, r.opts.Until)
	defer cancel()

	var (
		eng     *engine.Engine
		stepErr error
	)
	lp.Post(func() { eng = r.bootEngine(lp) })
	for _, step := range r.opts.Timeline {
		step := step
		lp.AfterFunc(step.At, func() {
			if err := r.apply(step); err != nil && stepErr == nil {
				stepErr = err
				cancel()
			}
			r.cause = engine.TriggerTimeout
		})
	}

	err := lp.Run(visit)
	if stepErr != nil {
		return stepErr
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.report(eng)
	return ctx.Err()
}

func (r *run) bootEngine(lp loop.Loop) *engine.Engine {
	if r.opts.Widget {
		r.doc.Window().SetGlobal(engine.WidgetGlobal, engine.ReadyAPI(widget{r: r}))
	}
	r.doc.RunParserScripts()

	return engine.Boot(r.opts.Eligible, r.doc, lp, engine.Config{
		Timeout: r.opts.Timeout,
		Logger:  r.opts.Logger,
	})
}

// apply performs one timeline step
func (r *run) apply(step Step) error {
	r.cause = step.Event
	if step.Event == StepInsert {
		return r.insertScript(step.Src)
	}
	r.log(EntryEvent, step.Event)
	r.doc.Window().DispatchEvent(dom.Event{Type: step.Event})
	return nil
}

func (r *run) report(eng *engine.Engine) {
	if eng != nil {
		report := eng.Report()
		r.res.Report = &report
	}
}
