package marker

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/GriffinCanCode/recaptcha-defer/internal/match"
)

// Tag rewrites an emitted script tag string, the way a host page's
// script_loader_tag filter receives it: the markup for one script handle,
// possibly with inline helper scripts around it, plus the handle name and its
// resolved source URL. Only script start tags carrying a src attribute are
// rewritten, and only when src matches the static rule. Everything else is
// returned byte for byte.
func Tag(tag, handle, src string) string {
	if !match.Static(src) || !strings.Contains(strings.ToLower(tag), "<script") {
		return tag
	}

	var out bytes.Buffer
	z := html.NewTokenizer(strings.NewReader(tag))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return tag
			}
			break
		}
		raw := append([]byte(nil), z.Raw()...)
		if tt != html.StartTagToken {
			out.Write(raw)
			continue
		}

		tok := z.Token()
		if tok.Data != "script" {
			out.Write(raw)
			continue
		}
		rewritten, ok := rewriteStartTag(tok)
		if !ok {
			out.Write(raw)
			continue
		}
		out.WriteString(rewritten)
	}
	return out.String()
}

func rewriteStartTag(tok html.Token) (string, bool) {
	src := ""
	for _, a := range tok.Attr {
		if a.Key == Attr {
			return "", false
		}
		if a.Key == "src" {
			src = a.Val
		}
	}
	if !match.Static(src) {
		return "", false
	}

	attrs := []html.Attribute{{Key: Attr, Val: Value}}
	for _, a := range tok.Attr {
		if a.Key == "src" {
			attrs = append(attrs, html.Attribute{Key: SourceAttr, Val: a.Val})
			continue
		}
		attrs = append(attrs, a)
	}
	tok.Attr = attrs
	return tok.String(), true
}
