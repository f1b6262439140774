package sandbox

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
)

const eventPrelude = `
function Event(type, init) {
	this.type = String(type);
	this.bubbles = !!(init && init.bubbles);
	this.cancelable = !!(init && init.cancelable);
	this.defaultPrevented = false;
}
Event.prototype.preventDefault = function () {
	if (this.cancelable) { this.defaultPrevented = true; }
};
function CustomEvent(type, init) {
	Event.call(this, type, init);
	this.detail = init && init.detail !== undefined ? init.detail : null;
}
CustomEvent.prototype = Object.create(Event.prototype);
CustomEvent.prototype.constructor = CustomEvent;
`

// bridge maps a dom.Document into the VM
type bridge struct {
	r   *Runtime
	vm  *goja.Runtime
	doc *dom.Document

	objects   map[*dom.Element]*goja.Object
	elements  map[*goja.Object]*dom.Element
	listeners []*jsListener
	current   *goja.Object
}

type jsListener struct {
	typ string
	fn  goja.Value
	l   *dom.Listener
}

func newBridge(r *Runtime, doc *dom.Document) *bridge {
	return &bridge{
		r:        r,
		vm:       r.vm,
		doc:      doc,
		objects:  make(map[*dom.Element]*goja.Object),
		elements: make(map[*goja.Object]*dom.Element),
	}
}

func (b *bridge) install() error {
	if _, err := b.vm.RunString(eventPrelude); err != nil {
		return err
	}

	global := b.vm.GlobalObject()
	document := b.document()

	for name, v := range map[string]interface{}{
		"window":              global,
		"self":                global,
		"document":            document,
		"addEventListener":    b.addEventListener,
		"removeEventListener": b.removeEventListener,
		"dispatchEvent":       b.dispatchEvent,
	} {
		if err := global.Set(name, v); err != nil {
			return err
		}
	}

	if b.doc.Observable() {
		return global.Set("MutationObserver", b.newMutationObserver)
	}
	return nil
}

func (b *bridge) document() *goja.Object {
	doc := b.doc
	obj := b.vm.NewObject()

	b.getter(obj, "documentElement", func() goja.Value { return b.wrap(doc.DocumentElement()) })
	b.getter(obj, "head", func() goja.Value { return b.wrap(doc.Head()) })
	b.getter(obj, "body", func() goja.Value { return b.wrap(doc.Body()) })

	_ = obj.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return b.wrap(doc.CreateElement(strings.ToLower(call.Argument(0).String())))
	})
	_ = obj.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return b.wrap(dom.NewText(call.Argument(0).String()))
	})
	_ = obj.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return b.wrap(doc.GetElementByID(call.Argument(0).String()))
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		els, err := doc.QuerySelectorAll(call.Argument(0).String())
		if err != nil {
			panic(b.vm.NewGoError(err))
		}
		return b.list(els)
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.GetElementsByTagName(call.Argument(0).String()))
	})
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		el, err := doc.QuerySelector(call.Argument(0).String())
		if err != nil {
			panic(b.vm.NewGoError(err))
		}
		return b.wrap(el)
	})
	return obj
}

// wrap returns the stable proxy of el
func (b *bridge) wrap(el *dom.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	if obj, ok := b.objects[el]; ok {
		return obj
	}

	obj := b.vm.NewObject()
	b.objects[el] = obj
	b.elements[obj] = el

	nodeType := 1
	switch el.TagName {
	case dom.TextNode:
		nodeType = 3
	case dom.CommentNode:
		nodeType = 8
	}
	_ = obj.Set("nodeType", nodeType)

	b.getter(obj, "tagName", func() goja.Value { return b.vm.ToValue(strings.ToUpper(el.TagName)) })
	b.getter(obj, "nodeName", func() goja.Value { return b.vm.ToValue(strings.ToUpper(el.TagName)) })
	b.getter(obj, "parentNode", func() goja.Value { return b.wrap(el.Parent) })
	b.getter(obj, "isConnected", func() goja.Value { return b.vm.ToValue(el.Connected()) })
	b.getter(obj, "textContent", func() goja.Value { return b.vm.ToValue(textContent(el)) })
	b.getter(obj, "childNodes", func() goja.Value { return b.list(el.Children) })
	b.getter(obj, "attributes", func() goja.Value {
		attrs := el.Attributes()
		items := make([]interface{}, len(attrs))
		for i, a := range attrs {
			item := b.vm.NewObject()
			_ = item.Set("name", a.Name)
			_ = item.Set("value", a.Value)
			items[i] = item
		}
		return b.vm.NewArray(items...)
	})

	b.reflect(obj, el, "id")
	b.reflect(obj, el, "type")
	b.accessor(obj, "src",
		func() goja.Value { return b.vm.ToValue(el.Src()) },
		func(v goja.Value) { el.SetAttribute("src", v.String()) },
	)
	b.accessor(obj, "async",
		func() goja.Value { return b.vm.ToValue(el.HasAttribute("async")) },
		func(v goja.Value) {
			if v.ToBoolean() {
				el.SetAttribute("async", "")
			} else {
				el.RemoveAttribute("async")
			}
		},
	)

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		v, ok := el.LookupAttribute(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return b.vm.ToValue(v)
	})
	_ = obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(el.HasAttribute(call.Argument(0).String()))
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		el.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		el.RemoveAttribute(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := b.unwrap(call.Argument(0))
		b.check(el.AppendChild(child))
		return call.Argument(0)
	})
	_ = obj.Set("insertBefore", func(call goja.FunctionCall) goja.Value {
		child := b.unwrap(call.Argument(0))
		b.check(el.InsertBefore(child, b.unwrap(call.Argument(1))))
		return call.Argument(0)
	})
	_ = obj.Set("replaceChild", func(call goja.FunctionCall) goja.Value {
		b.check(el.ReplaceChild(b.unwrap(call.Argument(0)), b.unwrap(call.Argument(1))))
		return call.Argument(1)
	})
	_ = obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := b.unwrap(call.Argument(0))
		if child == nil || child.Parent != el {
			b.check(dom.ErrNotChild)
		}
		child.Remove()
		return call.Argument(0)
	})
	_ = obj.Set("remove", func(goja.FunctionCall) goja.Value {
		el.Remove()
		return goja.Undefined()
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		els, err := el.QuerySelectorAll(call.Argument(0).String())
		b.check(err)
		return b.list(els)
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return b.list(el.GetElementsByTagName(call.Argument(0).String()))
	})
	return obj
}

func (b *bridge) unwrap(v goja.Value) *dom.Element {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return b.elements[obj]
}

func (b *bridge) list(els []*dom.Element) goja.Value {
	items := make([]interface{}, len(els))
	for i, el := range els {
		items[i] = b.wrap(el)
	}
	return b.vm.NewArray(items...)
}

// check turns a DOM error into a script exception
func (b *bridge) check(err error) {
	if err != nil {
		panic(b.vm.NewGoError(err))
	}
}

func (b *bridge) getter(obj *goja.Object, name string, get func() goja.Value) {
	b.accessor(obj, name, get, nil)
}

func (b *bridge) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := b.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// reflect exposes an attribute as a string property
func (b *bridge) reflect(obj *goja.Object, el *dom.Element, attr string) {
	b.accessor(obj, attr,
		func() goja.Value { return b.vm.ToValue(el.GetAttribute(attr)) },
		func(v goja.Value) { el.SetAttribute(attr, v.String()) },
	)
}

func textContent(el *dom.Element) string {
	if el.TagName == dom.TextNode || el.TagName == dom.CommentNode {
		return el.Text
	}
	var sb strings.Builder
	el.Walk(func(n *dom.Element) bool {
		if n.TagName == dom.TextNode {
			sb.WriteString(n.Text)
		}
		return true
	})
	return sb.String()
}

func (b *bridge) addEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	fn := call.Argument(1)
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return goja.Undefined()
	}
	for _, jl := range b.listeners {
		if jl.typ == typ && jl.fn.SameAs(fn) && jl.l.Active() {
			return goja.Undefined()
		}
	}

	var opts dom.ListenerOptions
	if o, ok := call.Argument(2).(*goja.Object); ok {
		opts.Once = o.Get("once") != nil && o.Get("once").ToBoolean()
		opts.Passive = o.Get("passive") != nil && o.Get("passive").ToBoolean()
	}

	global := b.vm.GlobalObject()
	l := b.doc.Window().AddEventListener(typ, func(ev dom.Event) {
		if _, err := callable(global, b.event(ev)); err != nil {
			b.r.report("listener "+typ, err)
		}
	}, opts)
	b.listeners = append(b.listeners, &jsListener{typ: typ, fn: fn, l: l})
	return goja.Undefined()
}

func (b *bridge) removeEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	fn := call.Argument(1)
	kept := b.listeners[:0]
	for _, jl := range b.listeners {
		if jl.typ == typ && jl.fn.SameAs(fn) {
			jl.l.Remove()
			continue
		}
		if jl.l.Active() {
			kept = append(kept, jl)
		}
	}
	b.listeners = kept
	return goja.Undefined()
}

func (b *bridge) dispatchEvent(call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(b.vm.NewTypeError("dispatchEvent requires an Event"))
	}
	prev := b.current
	b.current = obj
	defer func() { b.current = prev }()

	b.doc.Window().DispatchEvent(dom.Event{Type: obj.Get("type").String()})
	return b.vm.ToValue(true)
}

// event returns the script-side object for ev, reusing the one being
// dispatched from script when there is one
func (b *bridge) event(ev dom.Event) goja.Value {
	if b.current != nil && b.current.Get("type").String() == ev.Type {
		return b.current
	}
	ctor, ok := goja.AssertConstructor(b.vm.Get("Event"))
	if !ok {
		return goja.Undefined()
	}
	obj, err := ctor(nil, b.vm.ToValue(ev.Type))
	if err != nil {
		return goja.Undefined()
	}
	return obj
}

func (b *bridge) newMutationObserver(call goja.ConstructorCall) *goja.Object {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(b.vm.NewTypeError("MutationObserver callback is not a function"))
	}
	self := call.This
	var sub *dom.Subscription

	_ = self.Set("observe", func(goja.FunctionCall) goja.Value {
		if sub.Active() {
			return goja.Undefined()
		}
		s, err := b.doc.ObserveInsertions(func(el *dom.Element) {
			record := b.vm.NewObject()
			_ = record.Set("type", "childList")
			_ = record.Set("target", b.wrap(el.Parent))
			_ = record.Set("addedNodes", b.vm.NewArray(b.wrap(el)))
			if _, err := cb(self, b.vm.NewArray(record), self); err != nil {
				b.r.report("MutationObserver", err)
			}
		})
		b.check(err)
		sub = s
		return goja.Undefined()
	})
	_ = self.Set("disconnect", func(goja.FunctionCall) goja.Value {
		sub.Disconnect()
		return goja.Undefined()
	})
	_ = self.Set("takeRecords", func(goja.FunctionCall) goja.Value {
		return b.vm.NewArray()
	})
	return nil
}
