// Package id generates prefixed, sortable identifiers.
//
// Identifiers are ULIDs, so they sort by creation time and the prefix tells
// what they name when grepping logs:
//   - page_*  one page load driven by a deferred loader engine
//   - trace_* one traced operation
//   - run_*   one batch rewrite or simulation run
//
// HTTP request ids are UUIDs and live in the middleware package.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	PagePrefix  = "page"
	TracePrefix = "trace"
	RunPrefix   = "run"
)

type (
	// PageID identifies one page load
	PageID string
	// TraceID identifies a traced operation
	TraceID string
	// RunID identifies a batch rewrite or a simulation run
	RunID string
)

func (id PageID) String() string  { return string(id) }
func (id TraceID) String() string { return string(id) }
func (id RunID) String() string   { return string(id) }

// Generator hands out monotonic ULIDs. It is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0), now: time.Now}
}

var shared = sync.OnceValue(NewGenerator)

// Default returns the process-wide generator
func Default() *Generator {
	return shared()
}

// Next returns a new ULID
func (g *Generator) Next() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// String returns a new bare ULID string
func (g *Generator) String() string {
	return g.Next().String()
}

// Prefixed returns a new ULID string of the form prefix_ULID
func (g *Generator) Prefixed(prefix string) string {
	return prefix + "_" + g.String()
}

// NewPageID generates a new page load ID
func NewPageID() PageID { return PageID(Default().Prefixed(PagePrefix)) }

// NewTraceID generates a new trace ID
func NewTraceID() TraceID { return TraceID(Default().Prefixed(TracePrefix)) }

// NewRunID generates a new run ID
func NewRunID() RunID { return RunID(Default().Prefixed(RunPrefix)) }

// Parse parses an ID, with or without its prefix
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp returns the time an ID was created
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
