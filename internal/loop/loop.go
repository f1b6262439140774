// Package loop runs page logic as cooperative tasks on a single thread.
//
// Every task and timer callback runs to completion before the next one
// starts, so state touched only from tasks needs no locking. Virtual is a
// deterministic implementation driven by the caller; Real runs tasks on a
// dedicated goroutine against the wall clock.
package loop

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Timer is the handle of a scheduled callback
type Timer interface {
	// Stop prevents the callback from running and reports whether it was
	// still pending.
	Stop() bool
}

// Loop schedules tasks on a single logical thread
type Loop interface {
	// Post queues task to run after the current task completes.
	Post(task func())
	// AfterFunc queues task to run once d has elapsed.
	AfterFunc(d time.Duration, task func()) Timer
	// Now returns the loop's clock.
	Now() time.Time
}

// runTask executes a task, converting a panic into a logged error so one
// failing callback does not stop the loop.
func runTask(logger *zap.Logger, task func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			logger.Error("Loop task panicked", zap.Error(err))
		}
	}()
	task()
	return nil
}
