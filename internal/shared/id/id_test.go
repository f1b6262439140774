package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator(t *testing.T) {
	gen := NewGenerator()

	assert.NotEqual(t, gen.Next(), gen.Next())
	assert.Len(t, gen.String(), 26)

	for _, prefix := range []string{PagePrefix, TracePrefix, RunPrefix} {
		t.Run(prefix, func(t *testing.T) {
			id := gen.Prefixed(prefix)
			require.True(t, strings.HasPrefix(id, prefix+"_"), id)
			_, err := Parse(id)
			assert.NoError(t, err)
		})
	}
}

func TestTypedIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewPageID().String(), "page_"))
	assert.True(t, strings.HasPrefix(NewTraceID().String(), "trace_"))
	assert.True(t, strings.HasPrefix(NewRunID().String(), "run_"))
}

func TestSortable(t *testing.T) {
	gen := NewGenerator()

	prev := gen.String()
	for i := 0; i < 100; i++ {
		next := gen.String()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestTimestamp(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator()
	gen.now = func() time.Time { return fixed }

	ts, err := Timestamp(gen.Prefixed(RunPrefix))
	require.NoError(t, err)
	assert.True(t, fixed.Equal(ts))

	_, err = Timestamp("page_not-a-ulid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := NewPageID().String()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 800)
}
