package eligibility

import (
	"regexp"
)

// shortcodeMatcher finds WordPress-style shortcodes of a single tag.
// [tag], [tag attr="v"], [tag/] and [tag]..[/tag] count; [[tag]] is the
// escaped literal and does not.
type shortcodeMatcher struct {
	tag string
	re  *regexp.Regexp
}

func newShortcodeMatcher(tag string) *shortcodeMatcher {
	if tag == "" {
		return nil
	}
	re := regexp.MustCompile(`(\[?)\[` + regexp.QuoteMeta(tag) + `(?:[\s/][^\]]*)?\](\]?)`)
	return &shortcodeMatcher{tag: tag, re: re}
}

// In reports whether text contains at least one unescaped shortcode
func (m *shortcodeMatcher) In(text string) bool {
	if m == nil {
		return false
	}
	for _, sub := range m.re.FindAllStringSubmatch(text, -1) {
		if sub[1] == "[" && sub[2] == "]" {
			continue
		}
		return true
	}
	return false
}
