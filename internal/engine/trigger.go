package engine

import (
	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
)

// arm registers the interaction listeners and the fallback timeout. Each
// listener fires at most once; whichever channel fires first activates.
func (e *Engine) arm() {
	win := e.doc.Window()
	for _, typ := range InteractionEvents {
		trigger := typ
		l := win.AddEventListener(typ, func(dom.Event) {
			e.Activate(trigger)
		}, dom.ListenerOptions{Once: true, Passive: true})
		e.listeners = append(e.listeners, l)
	}

	e.timer = e.loop.AfterFunc(e.cfg.Timeout, func() {
		e.Activate(TriggerTimeout)
	})
}
