package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// QuerySelectorAll returns the elements under the root matching a CSS
// selector, in document order
func (d *Document) QuerySelectorAll(selector string) ([]*Element, error) {
	return d.root.query(selector, true)
}

// QuerySelector returns the first element matching a CSS selector, or nil
func (d *Document) QuerySelector(selector string) (*Element, error) {
	all, err := d.QuerySelectorAll(selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// GetElementByID returns the first element with the given id, or nil
func (d *Document) GetElementByID(id string) *Element {
	var found *Element
	d.root.Walk(func(el *Element) bool {
		if el.IsElement() && el.ID() == id {
			found = el
			return false
		}
		return true
	})
	return found
}

// QuerySelectorAll returns the descendants of e matching a CSS selector.
// Combinators may reach above e, as in the browser.
func (e *Element) QuerySelectorAll(selector string) ([]*Element, error) {
	return e.query(selector, false)
}

func (e *Element) query(selector string, self bool) ([]*Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	top := e
	for top.Parent != nil {
		top = top.Parent
	}
	index := make(map[*html.Node]*Element)
	toNode(top, index)

	var result []*Element
	for n, el := range index {
		if (self || el != e) && e.contains(el) && sel.Match(n) {
			result = append(result, el)
		}
	}
	sortDocumentOrder(top, result)
	return result, nil
}

// sortDocumentOrder orders els by a pre-order walk from top
func sortDocumentOrder(top *Element, els []*Element) {
	if len(els) < 2 {
		return
	}
	set := make(map[*Element]bool, len(els))
	for _, el := range els {
		set[el] = true
	}
	ordered := els[:0]
	top.Walk(func(el *Element) bool {
		if set[el] {
			ordered = append(ordered, el)
		}
		return true
	})
}

// GetElementsByTagName returns the descendants of e with the given tag, in
// document order. "*" matches every element.
func (e *Element) GetElementsByTagName(tag string) []*Element {
	tag = strings.ToLower(tag)
	var found []*Element
	for _, child := range e.Children {
		child.Walk(func(el *Element) bool {
			if el.IsElement() && (tag == "*" || el.TagName == tag) {
				found = append(found, el)
			}
			return true
		})
	}
	return found
}

// GetElementsByTagName returns every element with the given tag
func (d *Document) GetElementsByTagName(tag string) []*Element {
	return d.root.GetElementsByTagName(tag)
}
