package loop

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Virtual is a manually driven loop with a virtual clock. Tasks run only
// inside RunPending and Advance, on the caller's goroutine.
type Virtual struct {
	now    time.Time
	seq    uint64
	tasks  []func()
	timers []*virtualTimer
	logger *zap.Logger
}

type virtualTimer struct {
	loop     *Virtual
	deadline time.Time
	seq      uint64
	task     func()
	stopped  bool
	fired    bool
}

// NewVirtual creates a virtual loop whose clock starts at start
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, logger: zap.NewNop()}
}

// WithLogger sets the logger used for task panics
func (v *Virtual) WithLogger(logger *zap.Logger) *Virtual {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Now returns the virtual clock
func (v *Virtual) Now() time.Time {
	return v.now
}

// Post queues a task
func (v *Virtual) Post(task func()) {
	v.tasks = append(v.tasks, task)
}

// AfterFunc schedules task at now+d
func (v *Virtual) AfterFunc(d time.Duration, task func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{loop: v, deadline: v.now.Add(d), seq: v.seq, task: task}
	v.timers = append(v.timers, t)
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].deadline.Equal(v.timers[j].deadline) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].deadline.Before(v.timers[j].deadline)
	})
	return t
}

// Stop cancels a pending timer
func (t *virtualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.loop.remove(t)
	return true
}

func (v *Virtual) remove(t *virtualTimer) {
	kept := v.timers[:0]
	for _, other := range v.timers {
		if other != t {
			kept = append(kept, other)
		}
	}
	v.timers = kept
}

// RunPending runs queued tasks, including tasks they queue, and returns how
// many ran
func (v *Virtual) RunPending() int {
	n := 0
	for len(v.tasks) > 0 {
		task := v.tasks[0]
		v.tasks = v.tasks[1:]
		runTask(v.logger, task)
		n++
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and draining queued tasks after each. It returns the number of timers fired.
func (v *Virtual) Advance(d time.Duration) int {
	v.RunPending()
	target := v.now.Add(d)
	fired := 0
	for len(v.timers) > 0 && !v.timers[0].deadline.After(target) {
		t := v.timers[0]
		v.timers = v.timers[1:]
		if t.deadline.After(v.now) {
			v.now = t.deadline
		}
		t.fired = true
		runTask(v.logger, t.task)
		fired++
		v.RunPending()
	}
	v.now = target
	return fired
}

// PendingTimers returns the number of scheduled timers
func (v *Virtual) PendingTimers() int {
	return len(v.timers)
}
