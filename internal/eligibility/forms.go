package eligibility

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

func validateSelector(sel string) error {
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("invalid form selector %q: %w", sel, err)
	}
	return nil
}

// hasForm looks for a form in the rendered page, CSS selectors first
func (g *Gate) hasForm(p Page) (string, bool) {
	if len(g.cfg.FormSelectors) == 0 && len(g.xpaths) == 0 {
		return "", false
	}

	doc := p.doc
	if doc == nil {
		if p.HTML == "" {
			return "", false
		}
		parsed, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
		if err != nil {
			g.logger.Debug("Unparseable page markup", zap.Error(err))
			return "", false
		}
		doc = parsed
	}

	for _, sel := range g.cfg.FormSelectors {
		if doc.Find(sel).Length() > 0 {
			return ReasonFormSelector, true
		}
	}

	var root *html.Node
	if len(doc.Nodes) > 0 {
		root = doc.Nodes[0]
	}
	if root == nil {
		return "", false
	}
	for _, expr := range g.xpaths {
		if htmlquery.QuerySelector(root, expr) != nil {
			return ReasonFormXPath, true
		}
	}
	return "", false
}
