package simulate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/engine"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/sandbox"
)

// widgetStub defines the API object the loader's ready hook calls
const widgetStub = `var grecaptcha = { ready: function (fn) { __simulateReady(); fn(); } };`

func (r *run) runLoader(ctx context.Context) error {
	if r.opts.Pool != nil {
		return r.opts.Pool.With(ctx, func(rt *sandbox.Runtime) error {
			return r.drive(ctx, rt)
		})
	}

	cfg := sandbox.DefaultConfig()
	cfg.Start = epoch
	cfg.Logger = r.opts.Logger
	rt, err := sandbox.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return r.drive(ctx, rt)
}

func (r *run) drive(ctx context.Context, rt *sandbox.Runtime) error {
	r.now = rt.Now
	r.start = rt.Now()

	if err := rt.Bind(r.doc); err != nil {
		return err
	}

	r.ctx = ctx
	r.rt = rt
	defer func() { r.rt = nil }()

	if r.opts.Eligible {
		if r.opts.Widget {
			if err := rt.Expose("__simulateReady", func() {
				r.res.WidgetReady = true
				r.log(EntryReady, "")
			}); err != nil {
				return err
			}
			if _, err := rt.Execute(ctx, widgetStub); err != nil {
				return fmt.Errorf("failed to install widget stub: %w", err)
			}
		}
		if err := r.installLoader(); err != nil {
			return err
		}
	}

	r.parsing = true
	r.doc.RunParserScripts()
	r.parsing = false
	return r.replay(ctx, rt)
}

// installLoader puts a fresh loader first in head, where the optimizer
// injects it, so it runs before any page script. A loader already present in
// the page is replaced so the run's options apply.
func (r *run) installLoader() error {
	js, err := injector.Script(injector.Options{Timeout: r.opts.Timeout})
	if err != nil {
		return err
	}
	if old := r.doc.GetElementByID(injector.ScriptID); old != nil {
		old.Remove()
	}

	el := r.doc.CreateElement("script")
	el.SetAttribute("id", injector.ScriptID)
	if err := el.AppendChild(dom.NewText(js)); err != nil {
		return err
	}

	head := r.doc.Head()
	var first *dom.Element
	if len(head.Children) > 0 {
		first = head.Children[0]
	}
	r.parsing = true
	err = head.InsertBefore(el, first)
	r.parsing = false
	if err != nil {
		return err
	}
	if r.loaderErr != nil {
		return fmt.Errorf("loader failed: %w", r.loaderErr)
	}
	return nil
}

// evaluate runs an inline script in the sandbox. Only scripts reached by the
// parser are evaluated; inline scripts inserted by other scripts are
// recorded but not run, since the sandbox is busy with their caller.
func (r *run) evaluate(el *dom.Element) {
	if r.rt == nil || !r.parsing || r.evaluating {
		return
	}
	var sb strings.Builder
	for _, c := range el.Children {
		if c.TagName == dom.TextNode {
			sb.WriteString(c.Text)
		}
	}

	r.evaluating = true
	_, err := r.rt.Execute(r.ctx, sb.String())
	r.evaluating = false
	if err == nil {
		return
	}
	if el.ID() == injector.ScriptID {
		r.loaderErr = err
		return
	}
	r.opts.Logger.Debug("Page script failed", zap.Error(err))
}

func (r *run) replay(ctx context.Context, rt *sandbox.Runtime) error {
	for _, step := range r.opts.Timeline {
		if step.At > r.elapsed() {
			r.cause = engine.TriggerTimeout
			if _, err := rt.RunTimers(ctx, step.At-r.elapsed()); err != nil {
				return err
			}
		}
		r.cause = step.Event
		if step.Event == StepInsert {
			r.log(EntryInsert, step.Src)
			if err := insertFromScript(ctx, rt, step.Src); err != nil {
				return err
			}
			continue
		}
		r.log(EntryEvent, step.Event)
		if _, err := rt.Dispatch(ctx, step.Event); err != nil {
			return err
		}
	}
	if rest := r.opts.Until - r.elapsed(); rest > 0 {
		r.cause = engine.TriggerTimeout
		if _, err := rt.RunTimers(ctx, rest); err != nil {
			return err
		}
	}
	return nil
}

// insertFromScript inserts a script element from page script so the
// loader's MutationObserver sees it the way it would in a browser
func insertFromScript(ctx context.Context, rt *sandbox.Runtime, src string) error {
	quoted, err := sonic.ConfigStd.MarshalToString(src)
	if err != nil {
		return fmt.Errorf("failed to encode script source: %w", err)
	}
	_, err = rt.Execute(ctx, "(function () { var s = document.createElement('script'); s.src = "+
		quoted+"; document.body.appendChild(s); })();")
	return err
}
