package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtualTimersFireInDeadlineOrder(t *testing.T) {
	v := NewVirtual(epoch)
	var order []string

	v.AfterFunc(5*time.Second, func() { order = append(order, "timeout") })
	v.AfterFunc(10*time.Millisecond, func() { order = append(order, "scroll") })
	v.AfterFunc(10*time.Millisecond, func() { order = append(order, "mousemove") })
	v.Post(func() { order = append(order, "task") })

	assert.Equal(t, 2, v.Advance(time.Second))
	assert.Equal(t, []string{"task", "scroll", "mousemove"}, order)
	assert.Equal(t, epoch.Add(time.Second), v.Now())

	assert.Equal(t, 1, v.Advance(4*time.Second))
	assert.Equal(t, "timeout", order[len(order)-1])
	assert.Equal(t, 0, v.PendingTimers())
}

func TestVirtualStop(t *testing.T) {
	v := NewVirtual(epoch)
	fired := false
	timer := v.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	v.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestVirtualTasksQueuedByTimersRun(t *testing.T) {
	v := NewVirtual(epoch)
	var order []string
	v.AfterFunc(time.Second, func() {
		order = append(order, "timer")
		v.Post(func() { order = append(order, "follow-up") })
		v.AfterFunc(0, func() { order = append(order, "nested timer") })
	})

	v.Advance(time.Second)
	assert.Equal(t, []string{"timer", "follow-up", "nested timer"}, order)
}

func TestVirtualPanicDoesNotStopLoop(t *testing.T) {
	v := NewVirtual(epoch)
	ran := false
	v.Post(func() { panic("boom") })
	v.Post(func() { ran = true })

	assert.NotPanics(t, func() { v.RunPending() })
	assert.True(t, ran)
}

func TestRealRunsTasksAndTimers(t *testing.T) {
	r := NewReal(8, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var count atomic.Int32
	done := make(chan struct{})
	r.Post(func() { count.Add(1) })
	r.AfterFunc(20*time.Millisecond, func() {
		count.Add(1)
		close(done)
	})
	stopped := r.AfterFunc(10*time.Millisecond, func() { count.Add(100) })
	stopped.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timer did not fire")
	}
	r.Close()

	require.ErrorIs(t, <-errCh, ErrClosed)
	assert.Equal(t, int32(2), count.Load())
}

func TestRealPostFromTaskDoesNotBlock(t *testing.T) {
	r := NewReal(2, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var order []int
	done := make(chan struct{})
	r.Post(func() {
		for i := 0; i < 10; i++ {
			i := i
			r.Post(func() { order = append(order, i) })
		}
		r.Post(func() { close(done) })
	})

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("queued tasks did not run")
	}
	r.Close()

	require.ErrorIs(t, <-errCh, ErrClosed)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}
