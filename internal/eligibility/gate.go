// Package eligibility decides whether a page gets the deferred loader.
//
// The decision is pure: it depends only on the Page and the gate's
// configuration. Admin pages are always excluded. Otherwise a page loads when
// it is the front page, when its content carries the form shortcode, when its
// rendered markup contains a form, or when its path is forced. Filters are
// only consulted for pages no builtin rule accepted, and can opt them in.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xpath"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Reasons reported with a Decision
const (
	ReasonAdmin        = "admin"
	ReasonFrontPage    = "front_page"
	ReasonShortcode    = "shortcode"
	ReasonFormSelector = "form_selector"
	ReasonFormXPath    = "form_xpath"
	ReasonForcePath    = "force_path"
	ReasonFilter       = "filter"
	ReasonNone         = "none"
)

// DefaultShortcode is the form plugin's shortcode tag
const DefaultShortcode = "metform"

// Page is what the gate knows about a page load
type Page struct {
	Path        string `json:"path"`
	IsFrontPage bool   `json:"is_front_page"`
	IsAdmin     bool   `json:"is_admin"`
	// Content is the raw post content, shortcodes unexpanded
	Content string `json:"content,omitempty"`
	// HTML is the rendered page
	HTML string `json:"html,omitempty"`

	doc *goquery.Document
}

// WithDocument attaches an already parsed rendering so the gate does not
// parse HTML again
func (p Page) WithDocument(doc *goquery.Document) Page {
	p.doc = doc
	return p
}

// Decision is the gate's verdict and the rule that produced it
type Decision struct {
	Load   bool   `json:"load"`
	Reason string `json:"reason"`
}

// Filter may opt in a page the builtin rules rejected. Filters run in
// registration order, each receiving the previous verdict, starting from
// false.
type Filter func(p Page, load bool) bool

// Config configures a Gate
type Config struct {
	Shortcode     string   `yaml:"shortcode" toml:"shortcode" json:"shortcode"`
	AdminPaths    []string `yaml:"admin_paths" toml:"admin_paths" json:"admin_paths"`
	ForcePaths    []string `yaml:"force_paths" toml:"force_paths" json:"force_paths"`
	FormSelectors []string `yaml:"form_selectors" toml:"form_selectors" json:"form_selectors"`
	FormXPaths    []string `yaml:"form_xpaths" toml:"form_xpaths" json:"form_xpaths"`
}

// DefaultConfig returns the rules for a WordPress site using the form plugin
func DefaultConfig() Config {
	return Config{
		Shortcode:     DefaultShortcode,
		AdminPaths:    []string{"/wp-admin/**", "/wp-login.php"},
		FormSelectors: []string{"form.metform-form-content", ".mf-form-wrapper"},
		FormXPaths:    []string{`//div[contains(concat(' ', normalize-space(@class), ' '), ' g-recaptcha ')]`},
	}
}

// Option configures a Gate
type Option func(*Gate)

// WithFilter appends an opt-in filter
func WithFilter(f Filter) Option {
	return func(g *Gate) {
		g.filters = append(g.filters, f)
	}
}

// WithLogger sets the gate's logger
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// Gate is the page eligibility decision
type Gate struct {
	cfg       Config
	shortcode *shortcodeMatcher
	xpaths    []*xpath.Expr
	text      *bluemonday.Policy
	filters   []Filter
	logger    *zap.Logger
}

// NewGate validates cfg and builds a gate
func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	for _, pattern := range append(append([]string(nil), cfg.AdminPaths...), cfg.ForcePaths...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid path pattern %q", pattern)
		}
	}
	for _, sel := range cfg.FormSelectors {
		if err := validateSelector(sel); err != nil {
			return nil, err
		}
	}

	g := &Gate{
		cfg:       cfg,
		shortcode: newShortcodeMatcher(strings.TrimSpace(cfg.Shortcode)),
		text:      bluemonday.StrictPolicy(),
		logger:    zap.NewNop(),
	}
	for _, expr := range cfg.FormXPaths {
		compiled, err := xpath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid form xpath %q: %w", expr, err)
		}
		g.xpaths = append(g.xpaths, compiled)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ShouldLoad reports whether the page gets the deferred loader
func (g *Gate) ShouldLoad(p Page) bool {
	return g.Decide(p).Load
}

// Decide evaluates the rules in order and returns the first that applies
func (g *Gate) Decide(p Page) Decision {
	if p.IsAdmin || g.matchAny(g.cfg.AdminPaths, p.Path) {
		return Decision{Load: false, Reason: ReasonAdmin}
	}

	d := g.builtin(p)
	if !d.Load && len(g.filters) > 0 {
		load := false
		for _, f := range g.filters {
			load = f(p, load)
		}
		if load {
			d = Decision{Load: true, Reason: ReasonFilter}
		}
	}

	g.logger.Debug("Eligibility decided",
		zap.String("path", p.Path),
		zap.Bool("load", d.Load),
		zap.String("reason", d.Reason),
	)
	return d
}

func (g *Gate) builtin(p Page) Decision {
	if p.IsFrontPage || p.Path == "/" {
		return Decision{Load: true, Reason: ReasonFrontPage}
	}
	if p.Content != "" && g.shortcode.In(g.text.Sanitize(p.Content)) {
		return Decision{Load: true, Reason: ReasonShortcode}
	}
	if reason, ok := g.hasForm(p); ok {
		return Decision{Load: true, Reason: reason}
	}
	if g.matchAny(g.cfg.ForcePaths, p.Path) {
		return Decision{Load: true, Reason: ReasonForcePath}
	}
	return Decision{Load: false, Reason: ReasonNone}
}

func (g *Gate) matchAny(patterns []string, path string) bool {
	if path == "" {
		return false
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
