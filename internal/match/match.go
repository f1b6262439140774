// Package match holds the URL rules that decide whether a script belongs to
// the reCAPTCHA widget.
//
// Two rules exist and they are intentionally not unified:
//
//   - Static is applied when a tag is emitted by the host page. It matches
//     only the challenge and asset paths.
//   - Dynamic is applied to script nodes inserted at runtime. It matches any
//     URL mentioning recaptcha or the gstatic.com asset host.
package match

import "strings"

// Substrings for the static (emission-time) rule.
const (
	ChallengePath = "google.com/recaptcha"
	AssetPath     = "gstatic.com/recaptcha"
)

// Substrings for the dynamic (insertion-time) rule.
const (
	Keyword   = "recaptcha"
	AssetHost = "gstatic.com"
)

// Rule matches a URL when it contains any of its substrings.
type Rule struct {
	Name       string
	Substrings []string
}

// Match reports whether url contains one of the rule's substrings.
func (r Rule) Match(url string) bool {
	if url == "" {
		return false
	}
	for _, s := range r.Substrings {
		if strings.Contains(url, s) {
			return true
		}
	}
	return false
}

var (
	// StaticRule is the narrow rule used by the tag marker.
	StaticRule = Rule{Name: "static", Substrings: []string{ChallengePath, AssetPath}}

	// DynamicRule is the broad rule used by the runtime interceptor.
	DynamicRule = Rule{Name: "dynamic", Substrings: []string{Keyword, AssetHost}}
)

// Static reports whether url is a widget URL by the emission-time rule.
func Static(url string) bool {
	return StaticRule.Match(url)
}

// Dynamic reports whether url is a widget URL by the insertion-time rule.
func Dynamic(url string) bool {
	return DynamicRule.Match(url)
}
