// Package engine wraps the external media-processing engine (ffmpeg).
// It exposes two capabilities: a filter catalog probe and a synchronous
// invocation with a caller-built argument vector.
package engine

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Filter names the handlers depend on.
const (
	FilterDelogo   = "delogo"
	FilterDrawText = "drawtext"
	FilterOverlay  = "overlay"
)

// ErrTimeout is returned when an invocation exceeds the configured timeout.
var ErrTimeout = errors.New("engine: invocation timed out")

// Prober reports whether the installed engine build supports a filter.
type Prober interface {
	// SupportsFilter returns false on any probe failure; it never errors.
	SupportsFilter(ctx context.Context, name string) bool
}

// Runner executes the engine with an argument vector.
type Runner interface {
	// Run blocks until the process exits. A non-zero exit returns *Error.
	Run(ctx context.Context, args []string) error
}

// Engine combines capability probing and invocation.
type Engine interface {
	Prober
	Runner
}

// Error represents a failed engine invocation.
type Error struct {
	// Args is the argument vector the engine was started with.
	Args []string
	// ExitCode is the process exit status, or -1 if it never started.
	ExitCode int
	// Stderr holds the diagnostic output, truncated to the configured limit.
	Stderr string
	// Err is the underlying exec error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
