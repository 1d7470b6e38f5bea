package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// Attribute keys injected by the *Ctx logging functions.
const (
	KeyCommand    = "command"
	KeyRequestID  = "request_id"
	KeyRepository = "repository"
)

// LogContext holds invocation-scoped logging context
type LogContext struct {
	Command    string    // CLI command being executed (rotate, thaw, ...)
	RequestID  string    // Thaw request id, when one is in play
	Repository string    // Repository currently being worked on
	StartTime  time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for the given command
func NewLogContext(command string) *LogContext {
	return &LogContext{
		Command:   command,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		Command:    lc.Command,
		RequestID:  lc.RequestID,
		Repository: lc.Repository,
		StartTime:  lc.StartTime,
	}
}

// WithRequestID returns a copy with the thaw request id set
func (lc *LogContext) WithRequestID(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RequestID = id
	}
	return clone
}

// WithRepository returns a copy with the repository set
func (lc *LogContext) WithRepository(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Repository = name
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
