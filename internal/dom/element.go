package dom

import (
	"errors"
	"strings"
)

var (
	ErrNotChild  = errors.New("dom: node is not a child of this element")
	ErrHierarchy = errors.New("dom: node cannot be inserted here")
)

// Pseudo tag names for non-element nodes.
const (
	TextNode    = "#text"
	CommentNode = "#comment"
)

// Attribute is a single attribute on an element.
type Attribute struct {
	Name  string
	Value string
}

// Element represents a node in the document tree
type Element struct {
	TagName  string
	Attrs    []Attribute
	Text     string
	Children []*Element
	Parent   *Element

	doc     *Document
	started bool
}

// NewElement creates a detached element
func NewElement(tag string, attrs ...Attribute) *Element {
	el := &Element{TagName: strings.ToLower(tag)}
	for _, a := range attrs {
		el.SetAttribute(a.Name, a.Value)
	}
	return el
}

// NewText creates a detached text node
func NewText(text string) *Element {
	return &Element{TagName: TextNode, Text: text}
}

// IsElement reports whether the node is an element rather than text or a comment
func (e *Element) IsElement() bool {
	return !strings.HasPrefix(e.TagName, "#")
}

// IsScript reports whether the node is a script element
func IsScript(e *Element) bool {
	return e != nil && e.TagName == "script"
}

// Connected reports whether the element is attached to a document
func (e *Element) Connected() bool {
	return e.doc != nil
}

// Document returns the owning document of a connected element
func (e *Element) Document() *Document {
	return e.doc
}

// LookupAttribute returns the attribute value and whether it is present
func (e *Element) LookupAttribute(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// GetAttribute retrieves attribute value
func (e *Element) GetAttribute(name string) string {
	v, _ := e.LookupAttribute(name)
	return v
}

// HasAttribute reports whether the attribute is present
func (e *Element) HasAttribute(name string) bool {
	_, ok := e.LookupAttribute(name)
	return ok
}

// SetAttribute sets an attribute, keeping its position when it already exists
func (e *Element) SetAttribute(name, value string) {
	name = strings.ToLower(name)
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attribute{Name: name, Value: value})
}

// RemoveAttribute removes an attribute and reports whether it was present
func (e *Element) RemoveAttribute(name string) bool {
	name = strings.ToLower(name)
	for i, a := range e.Attrs {
		if a.Name == name {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			return true
		}
	}
	return false
}

// Attributes returns a copy of the attribute list in document order
func (e *Element) Attributes() []Attribute {
	return append([]Attribute(nil), e.Attrs...)
}

// ID returns the id attribute
func (e *Element) ID() string {
	return e.GetAttribute("id")
}

// Src returns the script source resolved against the document base URL.
// Detached elements return the raw attribute value.
func (e *Element) Src() string {
	src := strings.TrimSpace(e.GetAttribute("src"))
	if src == "" || e.doc == nil {
		return src
	}
	return e.doc.ResolveURL(src)
}

// AppendChild adds a child element, moving it from its current parent
func (e *Element) AppendChild(child *Element) error {
	return e.InsertBefore(child, nil)
}

// InsertBefore inserts child before ref. A nil ref appends.
func (e *Element) InsertBefore(child, ref *Element) error {
	if child == nil || child == e || child.contains(e) {
		return ErrHierarchy
	}
	if ref != nil && ref.Parent != e {
		return ErrNotChild
	}
	if child == ref {
		return nil
	}
	if child.Parent != nil {
		child.Remove()
	}

	child.Parent = e
	if ref == nil {
		e.Children = append(e.Children, child)
	} else {
		idx := e.indexOf(ref)
		e.Children = append(e.Children, nil)
		copy(e.Children[idx+1:], e.Children[idx:])
		e.Children[idx] = child
	}

	if e.doc != nil {
		e.doc.inserted(child)
	}
	return nil
}

// ReplaceChild substitutes newChild for oldChild at the same position
func (e *Element) ReplaceChild(newChild, oldChild *Element) error {
	if oldChild == nil || oldChild.Parent != e {
		return ErrNotChild
	}
	if newChild == oldChild {
		return nil
	}
	if newChild == nil || newChild == e || newChild.contains(e) {
		return ErrHierarchy
	}
	if newChild.Parent != nil {
		newChild.Remove()
	}

	idx := e.indexOf(oldChild)
	e.Children[idx] = newChild
	newChild.Parent = e
	oldChild.Parent = nil
	oldChild.detach()

	if e.doc != nil {
		e.doc.inserted(newChild)
	}
	return nil
}

// Remove removes element from parent
func (e *Element) Remove() {
	if e.Parent == nil {
		return
	}
	children := e.Parent.Children[:0]
	for _, child := range e.Parent.Children {
		if child != e {
			children = append(children, child)
		}
	}
	e.Parent.Children = children
	e.Parent = nil
	e.detach()
}

// Walk visits the element and its descendants in document order until fn
// returns false
func (e *Element) Walk(fn func(*Element) bool) bool {
	if !fn(e) {
		return false
	}
	for _, child := range append([]*Element(nil), e.Children...) {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// FirstChild returns the first child element with the given tag
func (e *Element) FirstChild(tag string) *Element {
	for _, child := range e.Children {
		if child.TagName == tag {
			return child
		}
	}
	return nil
}

func (e *Element) indexOf(child *Element) int {
	for i, c := range e.Children {
		if c == child {
			return i
		}
	}
	return -1
}

func (e *Element) contains(other *Element) bool {
	for n := other; n != nil; n = n.Parent {
		if n == e {
			return true
		}
	}
	return false
}

func (e *Element) attach(doc *Document) {
	e.Walk(func(n *Element) bool {
		n.doc = doc
		return true
	})
}

func (e *Element) detach() {
	e.Walk(func(n *Element) bool {
		n.doc = nil
		return true
	})
}
