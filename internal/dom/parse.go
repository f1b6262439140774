package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse builds a document from HTML. Scripts in the markup are not executed
// until RunParserScripts is called.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var root *Element
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			root = convert(c)
			break
		}
	}
	if root == nil {
		return New(opts...), nil
	}
	return newDocument(root, opts...), nil
}

// ParseString is Parse for an in-memory page
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

func convert(n *html.Node) *Element {
	var el *Element
	switch n.Type {
	case html.ElementNode:
		el = &Element{TagName: strings.ToLower(n.Data)}
		for _, a := range n.Attr {
			name := a.Key
			if a.Namespace != "" {
				name = a.Namespace + ":" + a.Key
			}
			el.Attrs = append(el.Attrs, Attribute{Name: name, Value: a.Val})
		}
	case html.TextNode:
		return &Element{TagName: TextNode, Text: n.Data}
	case html.CommentNode:
		return &Element{TagName: CommentNode, Text: n.Data}
	default:
		return nil
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := convert(c); child != nil {
			child.Parent = el
			el.Children = append(el.Children, child)
		}
	}
	return el
}

// Render writes the document as HTML
func (d *Document) Render(w io.Writer) error {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(toNode(d.root, nil))
	return html.Render(w, doc)
}

// String renders the document, returning an empty string on failure
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// OuterHTML renders a single element
func (e *Element) OuterHTML() string {
	var buf bytes.Buffer
	if err := html.Render(&buf, toNode(e, nil)); err != nil {
		return ""
	}
	return buf.String()
}

// toNode mirrors el as an html.Node tree. When index is non-nil it records
// which element each mirrored node came from.
func toNode(el *Element, index map[*html.Node]*Element) *html.Node {
	switch el.TagName {
	case TextNode:
		return &html.Node{Type: html.TextNode, Data: el.Text}
	case CommentNode:
		return &html.Node{Type: html.CommentNode, Data: el.Text}
	}

	n := &html.Node{
		Type:     html.ElementNode,
		Data:     el.TagName,
		DataAtom: atom.Lookup([]byte(el.TagName)),
	}
	for _, a := range el.Attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: a.Name, Val: a.Value})
	}
	for _, c := range el.Children {
		n.AppendChild(toNode(c, index))
	}
	if index != nil {
		index[n] = el
	}
	return n
}
