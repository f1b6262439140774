package dom

import "fmt"

// Event is a named notification dispatched on a Window
type Event struct {
	Type string
}

// ListenerOptions mirror the addEventListener options bag
type ListenerOptions struct {
	Once    bool
	Passive bool
}

// Listener is the handle of a registered event listener
type Listener struct {
	Type    string
	Options ListenerOptions

	window  *Window
	fn      func(Event)
	removed bool
}

// Remove deregisters the listener. Removing twice is a no-op.
func (l *Listener) Remove() {
	if l == nil || l.removed {
		return
	}
	l.removed = true
	list := l.window.listeners[l.Type]
	kept := list[:0]
	for _, other := range list {
		if other != l {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(l.window.listeners, l.Type)
	} else {
		l.window.listeners[l.Type] = kept
	}
}

// Active reports whether the listener is still registered
func (l *Listener) Active() bool {
	return l != nil && !l.removed
}

// Window is the global scope of a document: event target plus named globals
type Window struct {
	listeners  map[string][]*Listener
	globals    map[string]any
	dispatched []string

	// OnListenerPanic receives panics raised by listeners. Dispatch continues
	// with the remaining listeners either way.
	OnListenerPanic func(eventType string, err error)
}

// NewWindow creates an empty global scope
func NewWindow() *Window {
	return &Window{
		listeners: make(map[string][]*Listener),
		globals:   make(map[string]any),
	}
}

// AddEventListener registers fn for events of the given type
func (w *Window) AddEventListener(typ string, fn func(Event), opts ListenerOptions) *Listener {
	l := &Listener{Type: typ, Options: opts, window: w, fn: fn}
	w.listeners[typ] = append(w.listeners[typ], l)
	return l
}

// DispatchEvent invokes the listeners registered for ev.Type in registration
// order and returns how many ran. Once listeners are removed before they run.
func (w *Window) DispatchEvent(ev Event) int {
	w.dispatched = append(w.dispatched, ev.Type)

	ran := 0
	for _, l := range append([]*Listener(nil), w.listeners[ev.Type]...) {
		if l.removed {
			continue
		}
		if l.Options.Once {
			l.Remove()
		}
		w.invoke(l, ev)
		ran++
	}
	return ran
}

func (w *Window) invoke(l *Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil && w.OnListenerPanic != nil {
			w.OnListenerPanic(ev.Type, fmt.Errorf("listener panic: %v", r))
		}
	}()
	l.fn(ev)
}

// ListenerCount returns the number of listeners registered for typ
func (w *Window) ListenerCount(typ string) int {
	return len(w.listeners[typ])
}

// Dispatched returns the types of every event dispatched so far, in order
func (w *Window) Dispatched() []string {
	return append([]string(nil), w.dispatched...)
}

// DispatchCount returns how many times events of typ were dispatched
func (w *Window) DispatchCount(typ string) int {
	n := 0
	for _, t := range w.dispatched {
		if t == typ {
			n++
		}
	}
	return n
}

// SetGlobal defines a named global
func (w *Window) SetGlobal(name string, v any) {
	w.globals[name] = v
}

// Global looks up a named global
func (w *Window) Global(name string) (any, bool) {
	v, ok := w.globals[name]
	return v, ok
}

// DeleteGlobal removes a named global
func (w *Window) DeleteGlobal(name string) {
	delete(w.globals, name)
}
