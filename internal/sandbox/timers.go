package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// setTimeout schedules a callback on the virtual clock. String callbacks are
// not evaluated.
func (r *Runtime) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.nextTimer++
	id := r.nextTimer
	r.timers[id] = r.clock.AfterFunc(delay, func() {
		delete(r.timers, id)
		if _, err := fn(goja.Undefined(), args...); err != nil {
			r.report("setTimeout", err)
		}
	})
	return r.vm.ToValue(id)
}

func (r *Runtime) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	return goja.Undefined()
}
