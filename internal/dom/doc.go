/*
Package dom provides a lightweight document tree for running page logic
without a browser.

# Overview

The tree models the parts of a browser document that script-loading logic
depends on:

  - Elements with ordered attributes, parents and children
  - A tree-change watcher (Document.Observe) that reports inserted elements
  - A script execution step that runs after watchers have seen a node
  - A Window with passive/once event listeners, dispatch and globals

# Ordering

When a subtree is connected to the document, watchers are notified for every
matching element in it before any script inside it is considered for
execution. A watcher that changes a script's type or removes its src in the
callback therefore prevents that script from executing.

# Threading

Document and Window are not safe for concurrent use. Callers run all
mutations from a single goroutine, typically the task runner in package loop.

# Usage Example

	doc, err := dom.Parse(strings.NewReader(page), dom.WithBaseURL("https://example.com/"))
	if err != nil {
		return err
	}

	sub, _ := doc.Observe(dom.IsScript, func(el *dom.Element) {
		el.SetAttribute("type", "javascript/blocked")
	})
	defer sub.Disconnect()
*/
package dom
