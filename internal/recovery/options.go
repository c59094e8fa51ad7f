// internal/recovery/options.go
package recovery

import (
	"io"
	"log/slog"
	"time"
)

// Option configures a Guard.
type Option func(*Guard)

// WithOutput sets the diagnostic stream. The default is stderr.
func WithOutput(w io.Writer) Option {
	return func(g *Guard) {
		if w != nil {
			g.out = w
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithPresenter sets the step that runs after the exception is reported
// and before the process exits.
func WithPresenter(p Presenter) Option {
	return func(g *Guard) {
		g.presenter = p
	}
}

// WithExitCode sets the status the process exits with.
func WithExitCode(code int) Option {
	return func(g *Guard) {
		g.exitCode = code
	}
}

// WithExit replaces os.Exit. Used by tests.
func WithExit(exit func(int)) Option {
	return func(g *Guard) {
		if exit != nil {
			g.exit = exit
		}
	}
}

// WithTraceback sets the runtime traceback level applied on Install
// (see runtime/debug.SetTraceback).
func WithTraceback(level string) Option {
	return func(g *Guard) {
		g.traceback = level
	}
}

// WithCrashOutput makes the runtime also append fatal errors, including
// panics in unguarded goroutines, to the file at path. The file is opened
// by Install, and only if g becomes the active guard.
func WithCrashOutput(path string) Option {
	return func(g *Guard) {
		g.crashPath = path
	}
}

// WithHandlingWait bounds how long a panic arriving during handling waits
// for the presentation of the first one before exiting.
func WithHandlingWait(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.handleWait = d
		}
	}
}
