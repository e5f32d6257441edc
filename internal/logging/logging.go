// Package logging includes utilities used to trace the lowering. This is in
// an independent package to avoid dependency cycles.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type LogScopes uint64

const (
	LogScopeNone            = LogScopes(0)
	LogScopeFrame LogScopes = 1 << iota
	LogScopeSandbox
	LogScopeCall
	LogScopeBundle
	LogScopeEncode
	LogScopeAll = LogScopes(0xffffffffffffffff)
)

func scopeName(s LogScopes) string {
	switch s {
	case LogScopeFrame:
		return "frame"
	case LogScopeSandbox:
		return "sandbox"
	case LogScopeCall:
		return "call"
	case LogScopeBundle:
		return "bundle"
	case LogScopeEncode:
		return "encode"
	default:
		return fmt.Sprintf("<unknown=%d>", s)
	}
}

// IsEnabled returns true if the scope (or group of scopes) is enabled.
func (f LogScopes) IsEnabled(scope LogScopes) bool {
	return f&scope != 0
}

// String implements fmt.Stringer by returning each enabled log scope.
func (f LogScopes) String() string {
	if f == LogScopeAll {
		return "all"
	}
	var builder strings.Builder
	for i := 0; i <= 63; i++ { // cycle through all bits to reduce code and maintenance
		target := LogScopes(1 << i)
		if f.IsEnabled(target) {
			if name := scopeName(target); name != "" {
				if builder.Len() > 0 {
					builder.WriteByte('|')
				}
				builder.WriteString(name)
			}
		}
	}
	return builder.String()
}

// ParseLogScopes parses scope names separated by '|' or ',', as well as
// "all" and the empty string.
func ParseLogScopes(s string) (LogScopes, error) {
	if s == "all" {
		return LogScopeAll, nil
	}
	var ret LogScopes
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		name = strings.TrimSpace(name)
		found := false
		for i := 0; i <= 63; i++ {
			target := LogScopes(1 << i)
			if scopeName(target) == name {
				ret |= target
				found = true
				break
			}
		}
		if !found {
			return LogScopeNone, fmt.Errorf("unknown log scope %q", name)
		}
	}
	return ret, nil
}

// Logger writes one line per traced event of an enabled scope. A nil
// *Logger discards everything.
type Logger struct {
	mux    sync.Mutex
	w      io.Writer
	scopes LogScopes
}

// NewLogger returns a Logger writing the events of scopes to w.
func NewLogger(w io.Writer, scopes LogScopes) *Logger {
	return &Logger{w: w, scopes: scopes}
}

// IsEnabled returns true if events of scope are written.
func (l *Logger) IsEnabled(scope LogScopes) bool {
	return l != nil && l.scopes.IsEnabled(scope)
}

// Logf writes the event prefixed by the name of its scope.
func (l *Logger) Logf(scope LogScopes, format string, args ...interface{}) {
	if !l.IsEnabled(scope) {
		return
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", scopeName(scope), fmt.Sprintf(format, args...)) //nolint
}

type loggerKey struct{}

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the Logger set by WithLogger, or nil.
func LoggerFromContext(ctx context.Context) *Logger {
	l, _ := ctx.Value(loggerKey{}).(*Logger)
	return l
}
