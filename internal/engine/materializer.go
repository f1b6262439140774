package engine

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/marker"
)

// skippedAttrs are not carried over to the live script.
var skippedAttrs = map[string]bool{
	"src":             true,
	"type":            true,
	marker.Attr:       true,
	marker.SourceAttr: true,
}

// materialize swaps every marked script for a live one, then announces it.
func (e *Engine) materialize() {
	for _, old := range e.doc.QueryAll(marker.IsMarked) {
		url := marker.SourceURL(old)
		if url == "" {
			e.report.Skipped++
			e.logger.Debug("Marked script has no source, skipped", zap.String("id", old.ID()))
			continue
		}

		live := e.doc.CreateElement("script")
		live.SetAttribute("src", url)
		live.SetAttribute("async", "")
		for _, a := range old.Attributes() {
			if !skippedAttrs[a.Name] {
				live.SetAttribute(a.Name, a.Value)
			}
		}

		if err := e.substitute(old, live); err != nil {
			e.report.Skipped++
			e.logger.Warn("Failed to materialize script", zap.String("src", url), zap.Error(err))
			continue
		}
		e.report.Materialized++
		e.report.Sources = append(e.report.Sources, url)
	}

	e.loop.AfterFunc(ReadyDelay, e.notifyReady)
	e.doc.Window().DispatchEvent(dom.Event{Type: EventLoaded})
}

// substitute puts live where old was, or in the head when old was detached
func (e *Engine) substitute(old, live *dom.Element) error {
	if parent := old.Parent; parent != nil {
		return parent.ReplaceChild(live, old)
	}
	return e.doc.Head().AppendChild(live)
}

// notifyReady registers with the widget's ready hook when it exists
func (e *Engine) notifyReady() {
	v, ok := e.doc.Window().Global(WidgetGlobal)
	if !ok {
		return
	}
	api, ok := v.(ReadyAPI)
	if !ok {
		return
	}
	api.Ready(func() {
		e.report.WidgetReady = true
		e.logger.Debug("Widget ready")
	})
}
