// Package marker neutralizes reCAPTCHA script tags so they do not execute
// until the loader materializes them.
//
// Tags emitted by the host page are rewritten with the static rule: the src
// attribute moves to data-recaptcha-src and data-recaptcha-defer="true" is
// added, so the browser has nothing to fetch. Tags inserted at runtime are
// neutralized in place with Neutralize, which keeps src but switches type to a
// value the browser does not execute.
package marker

import (
	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
	"github.com/GriffinCanCode/recaptcha-defer/internal/match"
)

// Attribute names and values shared with the loader.
const (
	Attr        = "data-recaptcha-defer"
	Value       = "true"
	SourceAttr  = "data-recaptcha-src"
	BlockedType = "javascript/blocked"
)

// IsMarked reports whether an element carries the neutralization marker
func IsMarked(el *dom.Element) bool {
	return dom.IsScript(el) && el.GetAttribute(Attr) == Value
}

// Element applies the static rewrite to a script element. It returns true
// when the element was rewritten; already marked or non-matching elements are
// left untouched.
func Element(el *dom.Element) bool {
	if !dom.IsScript(el) || el.HasAttribute(Attr) {
		return false
	}
	src := el.GetAttribute("src")
	if !match.Static(src) {
		return false
	}
	el.RemoveAttribute("src")
	el.SetAttribute(SourceAttr, src)
	el.SetAttribute(Attr, Value)
	return true
}

// Neutralize blocks a runtime-inserted script whose source matches the
// dynamic rule. It returns true when the element was changed.
func Neutralize(el *dom.Element) bool {
	if !dom.IsScript(el) {
		return false
	}
	src := el.Src()
	if src == "" || !match.Dynamic(src) {
		return false
	}
	if el.GetAttribute("type") == BlockedType && IsMarked(el) {
		return false
	}
	el.SetAttribute("type", BlockedType)
	el.SetAttribute(Attr, Value)
	return true
}

// SourceURL returns the URL a marked script should load: src when present,
// otherwise the fallback attribute written at marking time.
func SourceURL(el *dom.Element) string {
	if src := el.Src(); src != "" {
		return src
	}
	return el.GetAttribute(SourceAttr)
}
