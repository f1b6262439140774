package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Run after Close
var ErrClosed = errors.New("loop closed")

// Real runs tasks on the goroutine that calls Run. Its queue is unbounded,
// so Post never blocks, including when a task posts more work.
type Real struct {
	mu        sync.Mutex
	queue     []func()
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

type realTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

// NewReal creates a wall-clock loop. queueSize is the initial capacity of
// the task queue.
func NewReal(queueSize int, logger *zap.Logger) *Real {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Real{
		queue:  make([]func(), 0, queueSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Now returns the wall clock
func (r *Real) Now() time.Time {
	return time.Now()
}

// Post queues a task. Tasks posted after Close are dropped.
func (r *Real) Post(task func()) {
	select {
	case <-r.done:
		return
	default:
	}

	r.mu.Lock()
	r.queue = append(r.queue, task)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued task
func (r *Real) next() func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return nil
	}
	task := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return task
}

// AfterFunc posts task to the loop once d has elapsed
func (r *Real) AfterFunc(d time.Duration, task func()) Timer {
	t := &realTimer{}
	t.timer = time.AfterFunc(d, func() {
		r.Post(func() {
			if !t.stopped.Load() {
				task()
			}
		})
	})
	return t
}

// Stop cancels the timer. A callback already queued on the loop is skipped.
func (t *realTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	return t.timer.Stop()
}

// Run executes tasks until ctx is done or Close is called
func (r *Real) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrClosed
		case <-r.wake:
		}

		for task := r.next(); task != nil; task = r.next() {
			runTask(r.logger, task)
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case <-r.done:
				return ErrClosed
			default:
			}
		}
	}
}

// Close stops Run and drops queued tasks
func (r *Real) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
