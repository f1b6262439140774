package sandbox

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInterrupted is returned when execution was stopped by the timeout or
	// the context
	ErrInterrupted = errors.New("sandbox execution interrupted")

	// ErrClosed is returned by a closed runtime
	ErrClosed = errors.New("sandbox runtime is closed")

	// ErrNotBound is returned when an operation needs a bound document
	ErrNotBound = errors.New("sandbox has no bound document")
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Execution timeout per call
	MaxCallStackSize int           // Maximum JS call depth
	EnableConsole    bool          // Capture console.log/warn/error/info
	Start            time.Time     // Initial virtual clock
	Logger           *zap.Logger
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Return value
	Console  []LogEntry    // Console output
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Virtual timestamp
}

// DefaultConfig returns the production configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}
