/*
Package sandbox runs browser-side scripts in an isolated goja runtime bound
to a dom.Document.

# Overview

Each Runtime owns one goja VM with:

  - Execution timeout and context cancellation (vm.Interrupt)
  - Console capture instead of stdout
  - Virtual timers: setTimeout/clearTimeout are scheduled on a loop.Virtual
    and only fire when RunTimers advances the clock
  - Node globals removed (require, process, module, exports)

# Document binding

Bind exposes a dom.Document to scripts as window and document. Element
objects are stable proxies: the same node always yields the same object, so
identity checks in scripts behave as in a browser. The binding provides the
subset of the DOM the deferred loader relies on: createElement,
querySelectorAll, getElementsByTagName, attribute access, src/type/async properties, node
insertion and replacement, window event listeners, Event/CustomEvent and,
when the document supports observation, MutationObserver. Observer
callbacks are delivered synchronously during insertion, one record per
inserted node; descendants of that node are not listed separately.

# Usage

	rt, err := sandbox.New(sandbox.DefaultConfig())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Bind(doc); err != nil {
		return err
	}
	if _, err := rt.Execute(ctx, loaderJS); err != nil {
		return err
	}
	rt.Dispatch(ctx, "click")
	rt.RunTimers(ctx, 5*time.Second)

A Pool keeps pre-built runtimes for request handlers.
*/
package sandbox
