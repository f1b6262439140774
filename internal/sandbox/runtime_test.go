package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestRuntimeExecution(t *testing.T) {
	rt := newRuntime(t)

	tests := []struct {
		name   string
		script string
		want   interface{}
	}{
		{"simple return", "42", int64(42)},
		{"math operations", "Math.sqrt(16)", int64(4)},
		{"string operations", "'hello'.toUpperCase()", "HELLO"},
		{"undefined", "void 0", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := rt.Execute(context.Background(), tt.script)
			require.NoError(t, err)
			assert.EqualValues(t, tt.want, result.Value)
		})
	}
}

func TestRuntimeConsoleCapture(t *testing.T) {
	rt := newRuntime(t)

	result, err := rt.Execute(context.Background(), "console.log('hello', 1); console.warn('careful')")
	require.NoError(t, err)
	require.Len(t, result.Console, 2)
	assert.Equal(t, "log", result.Console[0].Level)
	assert.Equal(t, "hello 1", result.Console[0].Message)
	assert.Equal(t, "warn", result.Console[1].Level)

	result, err = rt.Execute(context.Background(), "console.info('again')")
	require.NoError(t, err)
	assert.Len(t, result.Console, 1)
	assert.Len(t, rt.Console(), 3)
}

func TestRuntimeSecurity(t *testing.T) {
	rt := newRuntime(t)

	for _, script := range []string{"require('fs')", "process.exit(1)", "module.exports = {}"} {
		t.Run(script, func(t *testing.T) {
			_, err := rt.Execute(context.Background(), script)
			assert.Error(t, err)
		})
	}
}

func TestRuntimeTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	rt, err := New(cfg)
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Execute(context.Background(), "while (true) {}")
	require.ErrorIs(t, err, ErrInterrupted)

	result, err := rt.Execute(context.Background(), "1 + 1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Value)
}

func TestRuntimeContextCancel(t *testing.T) {
	rt := newRuntime(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rt.Execute(ctx, "while (true) {}")
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestVirtualTimers(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Execute(ctx, `
		var fired = [];
		setTimeout(function () { fired.push('late'); }, 5000);
		setTimeout(function (tag) { fired.push(tag); }, 100, 'early');
		var cancelled = setTimeout(function () { fired.push('cancelled'); }, 200);
		clearTimeout(cancelled);
	`)
	require.NoError(t, err)
	assert.Equal(t, 2, rt.PendingTimers())

	n, err := rt.RunTimers(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	result, err := rt.Execute(ctx, "fired.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "early", result.Value)

	_, err = rt.RunTimers(ctx, 4*time.Second)
	require.NoError(t, err)
	result, err = rt.Execute(ctx, "fired.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "early,late", result.Value)
	assert.True(t, rt.Now().Equal(time.Unix(5, 0)))
}

func TestTimerErrorsAreReported(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Execute(ctx, "setTimeout(function () { throw new Error('boom'); }, 10)")
	require.NoError(t, err)
	_, err = rt.RunTimers(ctx, time.Second)
	require.NoError(t, err)

	console := rt.Console()
	require.Len(t, console, 1)
	assert.Equal(t, "error", console[0].Level)
	assert.Contains(t, console[0].Message, "boom")
}

func TestReset(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Execute(ctx, "var leaked = 1; setTimeout(function () {}, 10)")
	require.NoError(t, err)
	require.NoError(t, rt.Reset())

	result, err := rt.Execute(ctx, "typeof leaked")
	require.NoError(t, err)
	assert.Equal(t, "undefined", result.Value)
	assert.Zero(t, rt.PendingTimers())

	_, err = rt.Dispatch(ctx, "click")
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestExpose(t *testing.T) {
	rt := newRuntime(t)
	var got []string
	require.NoError(t, rt.Expose("record", func(s string) { got = append(got, s) }))

	_, err := rt.Execute(context.Background(), "record('a'); setTimeout(function () { record('b'); }, 5)")
	require.NoError(t, err)
	_, err = rt.RunTimers(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestClosedRuntime(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	_, err = rt.Execute(context.Background(), "1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, rt.Reset(), ErrClosed)
}

func TestCompile(t *testing.T) {
	assert.NoError(t, Compile("ok.js", "(function () { return 1; })();"))
	assert.Error(t, Compile("bad.js", "function ("))
}

func TestPool(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 2)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	err = pool.With(ctx, func(rt *Runtime) error {
		_, err := rt.Execute(ctx, "var state = 'dirty'")
		return err
	})
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, 2, stats["available"])

	for i := 0; i < 2; i++ {
		err = pool.With(ctx, func(rt *Runtime) error {
			result, err := rt.Execute(ctx, "typeof state")
			if err != nil {
				return err
			}
			assert.Equal(t, "undefined", result.Value)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, pool.Close())
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 1)
	require.NoError(t, err)
	defer pool.Close()

	rt, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(rt)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
