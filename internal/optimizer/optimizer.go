// Package optimizer rewrites a rendered page so its reCAPTCHA scripts load
// on first interaction instead of at page load.
//
// Process runs the eligibility gate, marks the static script tags and
// injects the loader as the first element of <head>. Ineligible pages are
// returned byte for byte.
package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/marker"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
)

// Result is the outcome of processing one page
type Result struct {
	Eligible bool                 `json:"eligible"`
	Decision eligibility.Decision `json:"decision"`
	HTML     []byte               `json:"-"`
	Marked   int                  `json:"marked"`
	Sources  []string             `json:"sources,omitempty"`
	Injected bool                 `json:"injected"`
	ETag     string               `json:"etag"`
	Outcome  string               `json:"outcome"`
}

// Changed reports whether the returned HTML differs from the input
func (r *Result) Changed() bool {
	return r.Marked > 0 || r.Injected
}

// Optimizer applies the deferred loading rewrite to pages
type Optimizer struct {
	gate    *eligibility.Gate
	options injector.Options
	snippet string
	hasher  *utils.Hasher
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// New creates an optimizer. The loader snippet is rendered once, so invalid
// options fail here.
func New(gate *eligibility.Gate, opts injector.Options) (*Optimizer, error) {
	if gate == nil {
		return nil, fmt.Errorf("optimizer requires an eligibility gate")
	}
	snippet, err := injector.Snippet(opts)
	if err != nil {
		return nil, err
	}
	return &Optimizer{
		gate:    gate,
		options: opts,
		snippet: snippet,
		hasher:  utils.DefaultHasher(),
		logger:  zap.NewNop(),
	}, nil
}

// WithMetrics adds metrics tracking to the optimizer
func (o *Optimizer) WithMetrics(metrics *monitoring.Metrics) *Optimizer {
	o.metrics = metrics
	return o
}

// WithLogger sets the optimizer's logger
func (o *Optimizer) WithLogger(logger *zap.Logger) *Optimizer {
	if logger != nil {
		o.logger = logger
	}
	return o
}

// Gate returns the eligibility gate used by Process
func (o *Optimizer) Gate() *eligibility.Gate {
	return o.gate
}

// Options returns the loader options pages are rewritten with
func (o *Optimizer) Options() injector.Options {
	return o.options
}

// Snippet returns the loader element injected into pages without a CSP nonce
func (o *Optimizer) Snippet() string {
	return o.snippet
}

// Process rewrites body for page. The page's HTML field is ignored; body is
// the rendering the gate inspects.
func (o *Optimizer) Process(ctx context.Context, page eligibility.Page, body []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		o.record(monitoring.OutcomeError, 0, false, start)
		return nil, fmt.Errorf("failed to parse page %q: %w", page.Path, err)
	}

	page.HTML = ""
	decision := o.gate.Decide(page.WithDocument(doc))
	if o.metrics != nil {
		o.metrics.RecordDecision(decision.Reason, decision.Load)
	}

	res := &Result{Eligible: decision.Load, Decision: decision}
	if !decision.Load {
		res.HTML = body
		res.ETag = o.hasher.ETag(body)
		res.Outcome = monitoring.OutcomeIneligible
		o.record(res.Outcome, 0, false, start)
		return res, nil
	}

	res.Sources = marker.Selection(doc.Selection)
	res.Marked = len(res.Sources)

	if doc.Find("#"+injector.ScriptID).Length() == 0 {
		snippet, err := o.snippetFor(doc)
		if err != nil {
			o.record(monitoring.OutcomeError, 0, false, start)
			return nil, err
		}
		// The loader must run before any page script that could insert the
		// widget, so it goes first in head.
		doc.Find("head").First().PrependHtml(snippet)
		res.Injected = true
	}

	if !res.Changed() {
		res.HTML = body
		res.ETag = o.hasher.ETag(body)
		res.Outcome = monitoring.OutcomeUnchanged
		o.record(res.Outcome, 0, false, start)
		return res, nil
	}

	out, err := doc.Html()
	if err != nil {
		o.record(monitoring.OutcomeError, 0, false, start)
		return nil, fmt.Errorf("failed to render page %q: %w", page.Path, err)
	}
	res.HTML = []byte(out)
	res.ETag = o.hasher.ETag(res.HTML)
	res.Outcome = monitoring.OutcomeRewritten
	o.record(res.Outcome, res.Marked, res.Injected, start)

	o.logger.Debug("page rewritten",
		zap.String("path", page.Path),
		zap.String("reason", decision.Reason),
		zap.Int("marked", res.Marked),
		zap.Bool("injected", res.Injected),
	)
	return res, nil
}

// snippetFor reuses the nonce of the page's own scripts so the loader passes
// a nonce-based Content-Security-Policy.
func (o *Optimizer) snippetFor(doc *goquery.Document) (string, error) {
	nonce, ok := doc.Find("script[nonce]").First().Attr("nonce")
	if !ok || nonce == "" || nonce == o.options.Nonce {
		return o.snippet, nil
	}
	opts := o.options
	opts.Nonce = nonce
	return injector.Snippet(opts)
}

func (o *Optimizer) record(outcome string, marked int, injected bool, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordPage(outcome, marked, injected, time.Since(start))
	}
}
