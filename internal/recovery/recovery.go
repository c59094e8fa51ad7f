// internal/recovery/recovery.go
package recovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a Guard.
type State int32

const (
	Uninstalled State = iota
	Installed
	Handling
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	case Handling:
		return "handling"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DefaultExitCode is used when no exit code option is given.
const DefaultExitCode = 1

// DefaultHandlingWait bounds how long a second panic waits for the first
// one to finish being presented.
const DefaultHandlingWait = 30 * time.Second

// Presenter shows a captured exception to the user and returns once the
// user (or a timeout) lets termination proceed.
type Presenter interface {
	Present(CapturedException) error
}

// PresenterFunc adapts a plain function to a Presenter.
type PresenterFunc func(CapturedException) error

// Present calls f(exc).
func (f PresenterFunc) Present(exc CapturedException) error {
	return f(exc)
}

// Guard is the last-resort handler for panics that reach the top of a
// goroutine. It reports the panic and then terminates the process.
type Guard struct {
	out        io.Writer
	logger     *slog.Logger
	presenter  Presenter
	exitCode   int
	exit       func(int)
	traceback  string
	crashPath  string
	handleWait time.Duration

	state    atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

// active is the process-wide registration.
var active atomic.Pointer[Guard]

// New returns an uninstalled Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		out:      os.Stderr,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		exitCode: DefaultExitCode,
		exit:     os.Exit,

		handleWait: DefaultHandlingWait,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State reports where g is in its lifecycle.
func (g *Guard) State() State {
	return State(g.state.Load())
}

// Install registers g as the process-wide handler. Only the first call in
// a process has any effect.
func (g *Guard) Install() {
	if !active.CompareAndSwap(nil, g) {
		g.logger.Debug("crash guard already installed")
		return
	}
	g.state.CompareAndSwap(int32(Uninstalled), int32(Installed))

	if g.traceback != "" {
		debug.SetTraceback(g.traceback)
	}
	if g.crashPath != "" {
		g.setCrashOutput()
	}
	g.logger.Debug("crash guard installed", "exit_code", g.exitCode, "traceback", g.traceback)
}

// setCrashOutput opens the crash file only once g is the active guard.
func (g *Guard) setCrashOutput() {
	f, err := os.OpenFile(g.crashPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		g.logger.Warn("crash output not set", "file", g.crashPath, "error", err)
		return
	}
	// The runtime keeps its own descriptor, so ours can be closed.
	defer f.Close()
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		g.logger.Warn("crash output not set", "file", g.crashPath, "error", err)
	}
}

// Active returns the installed guard, or nil if none is installed.
func Active() *Guard {
	return active.Load()
}

// Handle reports v as an uncaught exception and terminates the process.
// It does not panic whatever v is.
func (g *Guard) Handle(v any) {
	g.handle(v, nil)
}

func (g *Guard) handle(v any, cleanup func()) {
	if !g.begin() {
		// A second fault while reporting the first: let the first finish
		// presenting, then exit without presenting again.
		_, _ = fmt.Fprintf(g.out, "FATAL (while handling): %s\n", reasonOf(v))
		select {
		case <-g.done:
		case <-time.After(g.handleWait):
		}
		g.exit(g.exitCode)
		return
	}

	exc := Capture(v)
	_, _ = fmt.Fprintf(g.out, "FATAL: %s\n\nStack trace:\n%s\n", exc.Reason, exc.Stack())
	g.logger.Error("uncaught exception",
		"reason", exc.Reason,
		"type", fmt.Sprintf("%T", v),
		"frames", len(exc.Backtrace))

	if cleanup != nil {
		if err := safely(cleanup); err != nil {
			g.logger.Error("cleanup failed", "error", err)
		}
	}
	if g.presenter != nil {
		if err := g.present(exc); err != nil {
			g.logger.Error("presenting exception failed", "error", err)
		}
	}

	g.terminate()
}

func (g *Guard) present(exc CapturedException) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("presenter panicked: %s", reasonOf(r))
		}
	}()
	return g.presenter.Present(exc)
}

// begin moves g to Handling and reports whether this call owns the handling.
func (g *Guard) begin() bool {
	for {
		cur := State(g.state.Load())
		if cur == Handling || cur == Terminated {
			return false
		}
		if g.state.CompareAndSwap(int32(cur), int32(Handling)) {
			return true
		}
	}
}

func (g *Guard) terminate() {
	g.state.Store(int32(Terminated))
	g.doneOnce.Do(func() { close(g.done) })
	g.exit(g.exitCode)
}

var errCleanupPanic = errors.New("cleanup panicked")

func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s", errCleanupPanic, reasonOf(r))
		}
	}()
	fn()
	return nil
}

// Recover should be deferred at the top of main() or goroutines.
func (g *Guard) Recover() {
	if r := recover(); r != nil {
		g.handle(r, nil)
	}
}

// RecoverFunc is like Recover but calls cleanup after the panic is
// reported and before it is presented.
func (g *Guard) RecoverFunc(cleanup func()) {
	if r := recover(); r != nil {
		g.handle(r, cleanup)
	}
}

// Go runs fn in a new goroutine guarded by g.
func (g *Guard) Go(fn func()) {
	go func() {
		defer g.Recover()
		fn()
	}()
}

func current() *Guard {
	if g := active.Load(); g != nil {
		return g
	}
	return New()
}

// Recover hands a panic to the installed guard, or to a default guard
// writing to stderr when none is installed.
func Recover() {
	if r := recover(); r != nil {
		current().handle(r, nil)
	}
}

// RecoverFunc is the package-level form of Guard.RecoverFunc.
func RecoverFunc(cleanup func()) {
	if r := recover(); r != nil {
		current().handle(r, cleanup)
	}
}

// Go runs fn in a new goroutine guarded by the installed guard.
//
//	recovery.Go(func() {
//		d.processLoop(ctx)
//	})
func Go(fn func()) {
	go func() {
		defer Recover()
		fn()
	}()
}
