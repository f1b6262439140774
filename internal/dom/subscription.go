package dom

// Subscription is the handle of a tree-change watcher
type Subscription struct {
	doc    *Document
	filter func(*Element) bool
	fn     func(*Element)
	roots  bool
	active bool
}

// Observe registers fn to be called for every element inserted into the
// document, at any depth, that satisfies filter. A nil filter matches all
// elements. Callbacks run synchronously during insertion, before any inserted
// script is executed.
func (d *Document) Observe(filter func(*Element) bool, fn func(*Element)) (*Subscription, error) {
	if !d.observable {
		return nil, ErrObserverUnsupported
	}
	sub := &Subscription{doc: d, filter: filter, fn: fn, active: true}
	d.subs = append(d.subs, sub)
	return sub, nil
}

// ObserveInsertions registers fn to be called once per insertion with the
// inserted node itself, text nodes included, the way a MutationObserver
// record lists addedNodes. Descendants of the inserted node are not
// reported separately.
func (d *Document) ObserveInsertions(fn func(*Element)) (*Subscription, error) {
	if !d.observable {
		return nil, ErrObserverUnsupported
	}
	sub := &Subscription{doc: d, fn: fn, roots: true, active: true}
	d.subs = append(d.subs, sub)
	return sub, nil
}

// Disconnect stops the watcher. It is safe to call more than once and from
// inside the watcher's own callback.
func (s *Subscription) Disconnect() {
	if s == nil || !s.active {
		return
	}
	s.active = false
	subs := s.doc.subs[:0]
	for _, other := range s.doc.subs {
		if other != s {
			subs = append(subs, other)
		}
	}
	s.doc.subs = subs
}

// Active reports whether the watcher is still connected
func (s *Subscription) Active() bool {
	return s != nil && s.active
}

// Observers returns the number of connected watchers
func (d *Document) Observers() int {
	return len(d.subs)
}
