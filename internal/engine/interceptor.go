package engine

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/marker"
)

// intercept subscribes to script insertions. Without observation support the
// interceptor is skipped and only statically marked tags are deferred.
func (e *Engine) intercept() {
	sub, err := e.doc.Observe(dom.IsScript, e.onScriptInserted)
	if err != nil {
		e.logger.Debug("Dynamic interception unavailable", zap.Error(err))
		return
	}
	e.observer = sub
}

// onScriptInserted runs synchronously inside the insertion, before the
// document's execution step for the node.
func (e *Engine) onScriptInserted(el *dom.Element) {
	if e.state == StateActivated {
		return
	}
	if marker.Neutralize(el) {
		e.report.Intercepted++
		e.logger.Debug("Intercepted inserted script", zap.String("src", el.Src()))
	}
}
