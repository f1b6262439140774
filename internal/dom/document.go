package dom

import (
	"errors"
	"net/url"
	"strings"
)

// ErrObserverUnsupported is returned by Observe when the document was created
// without tree-change observation support.
var ErrObserverUnsupported = errors.New("dom: tree-change observation not supported")

// Executor runs a script element that reached the execution step
type Executor interface {
	Execute(el *Element)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(el *Element)

// Execute calls f(el)
func (f ExecutorFunc) Execute(el *Element) { f(el) }

// Document is the root of an element tree
type Document struct {
	root     *Element
	window   *Window
	baseURL  *url.URL
	executor Executor

	observable bool
	subs       []*Subscription
	executed   []*Element
}

// Option configures a Document
type Option func(*Document)

// WithoutObserver creates a document whose Observe always fails, modelling an
// environment without mutation observation.
func WithoutObserver() Option {
	return func(d *Document) {
		d.observable = false
	}
}

// WithBaseURL sets the URL relative script sources resolve against
func WithBaseURL(raw string) Option {
	return func(d *Document) {
		if u, err := url.Parse(raw); err == nil {
			d.baseURL = u
		}
	}
}

// WithExecutor installs the hook called for each executed script
func WithExecutor(exec Executor) Option {
	return func(d *Document) {
		d.executor = exec
	}
}

// New creates an empty document with html, head and body elements
func New(opts ...Option) *Document {
	root := NewElement("html")
	root.Children = []*Element{NewElement("head"), NewElement("body")}
	for _, c := range root.Children {
		c.Parent = root
	}
	return newDocument(root, opts...)
}

func newDocument(root *Element, opts ...Option) *Document {
	d := &Document{
		root:       root,
		window:     NewWindow(),
		observable: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	root.attach(d)
	return d
}

// DocumentElement returns the html element
func (d *Document) DocumentElement() *Element {
	return d.root
}

// Head returns the head element, creating it when missing
func (d *Document) Head() *Element {
	if head := d.root.FirstChild("head"); head != nil {
		return head
	}
	head := NewElement("head")
	d.root.InsertBefore(head, d.root.FirstChild("body"))
	return head
}

// Body returns the body element, creating it when missing
func (d *Document) Body() *Element {
	if body := d.root.FirstChild("body"); body != nil {
		return body
	}
	body := NewElement("body")
	d.root.AppendChild(body)
	return body
}

// Window returns the global scope of the document
func (d *Document) Window() *Window {
	return d.window
}

// CreateElement creates a detached element
func (d *Document) CreateElement(tag string) *Element {
	return NewElement(tag)
}

// QueryAll returns matching elements in document order
func (d *Document) QueryAll(match func(*Element) bool) []*Element {
	var result []*Element
	d.root.Walk(func(el *Element) bool {
		if el.IsElement() && match(el) {
			result = append(result, el)
		}
		return true
	})
	return result
}

// Scripts returns every script element in document order
func (d *Document) Scripts() []*Element {
	return d.QueryAll(IsScript)
}

// ResolveURL resolves ref against the document base URL
func (d *Document) ResolveURL(ref string) string {
	if d.baseURL == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.baseURL.ResolveReference(parsed).String()
}

// Observable reports whether the document supports tree-change observation
func (d *Document) Observable() bool {
	return d.observable
}

// Executed returns the scripts that reached the execution step, in order
func (d *Document) Executed() []*Element {
	return append([]*Element(nil), d.executed...)
}

// RunParserScripts executes the scripts already present in the tree, the way
// a parser does while building the page. It returns the number executed.
func (d *Document) RunParserScripts() int {
	n := 0
	for _, el := range d.Scripts() {
		if d.execute(el) {
			n++
		}
	}
	return n
}

// inserted connects a subtree, notifies watchers, then runs its scripts
func (d *Document) inserted(root *Element) {
	root.attach(d)

	for _, sub := range append([]*Subscription(nil), d.subs...) {
		if sub.roots {
			if sub.active {
				sub.fn(root)
			}
			continue
		}
		root.Walk(func(el *Element) bool {
			if sub.active && el.IsElement() && (sub.filter == nil || sub.filter(el)) {
				sub.fn(el)
			}
			return true
		})
	}

	root.Walk(func(el *Element) bool {
		if el.Connected() {
			d.execute(el)
		}
		return true
	})
}

func (d *Document) execute(el *Element) bool {
	if !Executable(el) {
		return false
	}
	el.started = true
	d.executed = append(d.executed, el)
	if d.executor != nil {
		d.executor.Execute(el)
	}
	return true
}

// javaScriptTypes are the type values a browser executes as classic or
// module scripts.
var javaScriptTypes = map[string]bool{
	"":                         true,
	"module":                   true,
	"text/javascript":          true,
	"application/javascript":   true,
	"text/ecmascript":          true,
	"application/ecmascript":   true,
	"application/x-javascript": true,
	"text/jscript":             true,
}

// Executable reports whether a script element would run if it reached the
// execution step now.
func Executable(el *Element) bool {
	if !IsScript(el) || el.started {
		return false
	}
	typ := strings.ToLower(strings.TrimSpace(el.GetAttribute("type")))
	if !javaScriptTypes[typ] {
		return false
	}
	if strings.TrimSpace(el.GetAttribute("src")) != "" {
		return true
	}
	for _, c := range el.Children {
		if c.TagName == TextNode && strings.TrimSpace(c.Text) != "" {
			return true
		}
	}
	return false
}

// Started reports whether the script already executed
func (e *Element) Started() bool {
	return e.started
}
