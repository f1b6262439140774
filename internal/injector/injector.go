// Package injector renders the browser loader that defers the reCAPTCHA
// widget on a page.
//
// The loader is an embedded ES5 script. Snippet prefixes it with the page's
// options and wraps it in a script element ready to be inserted at the top
// of <head>, ahead of any script that could add the widget.
package injector

import (
	_ "embed"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/recaptcha-defer/internal/engine"
	"github.com/GriffinCanCode/recaptcha-defer/internal/marker"
	"github.com/GriffinCanCode/recaptcha-defer/internal/sandbox"
)

// ScriptID is the id of the injected script element
const ScriptID = "recaptcha-defer-loader"

// OptionsGlobal is the window property the loader reads its options from
const OptionsGlobal = "__recaptchaDeferOptions"

//go:embed loader.js
var loaderJS string

// Source returns the loader script without options
func Source() string {
	return loaderJS
}

// Options tune the loader for a page
type Options struct {
	Timeout    time.Duration
	ReadyDelay time.Duration
	EventName  string
	Nonce      string
}

// DefaultOptions mirror the engine's defaults
func DefaultOptions() Options {
	return Options{
		Timeout:    engine.DefaultTimeout,
		ReadyDelay: engine.ReadyDelay,
		EventName:  engine.EventLoaded,
	}
}

// loaderOptions is the JSON shape read by loader.js
type loaderOptions struct {
	Timeout     int64    `json:"timeout"`
	ReadyDelay  int64    `json:"readyDelay"`
	EventName   string   `json:"eventName"`
	Events      []string `json:"events"`
	MarkerAttr  string   `json:"markerAttr"`
	SourceAttr  string   `json:"sourceAttr"`
	BlockedType string   `json:"blockedType"`
}

// Script returns the options prelude followed by the loader
func Script(opts Options) (string, error) {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ReadyDelay <= 0 {
		opts.ReadyDelay = def.ReadyDelay
	}
	if opts.EventName == "" {
		opts.EventName = def.EventName
	}

	// ConfigStd escapes <, > and & so the JSON cannot close the element.
	payload, err := sonic.ConfigStd.MarshalToString(loaderOptions{
		Timeout:     opts.Timeout.Milliseconds(),
		ReadyDelay:  opts.ReadyDelay.Milliseconds(),
		EventName:   opts.EventName,
		Events:      engine.InteractionEvents,
		MarkerAttr:  marker.Attr,
		SourceAttr:  marker.SourceAttr,
		BlockedType: marker.BlockedType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode loader options: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("window.")
	sb.WriteString(OptionsGlobal)
	sb.WriteString(" = ")
	sb.WriteString(payload)
	sb.WriteString(";\n")
	sb.WriteString(loaderJS)
	return sb.String(), nil
}

// Snippet returns the loader wrapped in its script element
func Snippet(opts Options) (string, error) {
	js, err := Script(opts)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(`<script id="`)
	sb.WriteString(ScriptID)
	sb.WriteString(`"`)
	if opts.Nonce != "" {
		sb.WriteString(` nonce="`)
		sb.WriteString(html.EscapeString(opts.Nonce))
		sb.WriteString(`"`)
	}
	sb.WriteString(">\n")
	sb.WriteString(js)
	sb.WriteString("</script>")
	return sb.String(), nil
}

// Validate checks that the loader compiles with the given options
func Validate(opts Options) error {
	js, err := Script(opts)
	if err != nil {
		return err
	}
	if err := sandbox.Compile("loader.js", js); err != nil {
		return fmt.Errorf("loader does not compile: %w", err)
	}
	return nil
}
