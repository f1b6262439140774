package marker

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"

	"github.com/GriffinCanCode/recaptcha-defer/internal/match"
)

// Result holds the outcome of a whole-page rewrite
type Result struct {
	Doc     *goquery.Document
	Marked  int
	Sources []string
}

// HTML renders the rewritten page
func (r *Result) HTML() (string, error) {
	out, err := r.Doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return out, nil
}

// Document parses a page and applies the static rewrite to every script tag
func Document(r io.Reader) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	res := &Result{Doc: doc}
	res.Sources = Selection(doc.Selection)
	res.Marked = len(res.Sources)
	return res, nil
}

// Selection rewrites the matching script tags under sel and returns their
// original sources in document order
func Selection(sel *goquery.Selection) []string {
	var sources []string
	sel.Find("script[src]").Each(func(i int, s *goquery.Selection) {
		if _, marked := s.Attr(Attr); marked {
			return
		}
		src, _ := s.Attr("src")
		if !match.Static(src) {
			return
		}
		s.RemoveAttr("src")
		s.SetAttr(SourceAttr, src)
		s.SetAttr(Attr, Value)
		sources = append(sources, src)
	})
	return sources
}
