// internal/recovery/exception.go
package recovery

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Frame is a single entry of a captured backtrace.
type Frame struct {
	Function string
	File     string
	Line     int
}

// CapturedException is the state of one uncaught panic on its way to
// process termination. It is passed by value and never stored globally.
type CapturedException struct {
	Reason    string
	Value     any
	Backtrace []Frame
	Time      time.Time
}

// UncaughtException is the error form of a CapturedException.
type UncaughtException struct {
	Reason string
	Cause  error
}

func (e *UncaughtException) Error() string {
	return "uncaught exception: " + e.Reason
}

// Unwrap returns the panic value when it was itself an error.
func (e *UncaughtException) Unwrap() error {
	return e.Cause
}

// Err returns the exception as an *UncaughtException.
func (c CapturedException) Err() error {
	cause, _ := c.Value.(error)
	return &UncaughtException{Reason: c.Reason, Cause: cause}
}

// Stack renders the backtrace the way the Go runtime prints goroutine traces.
func (c CapturedException) Stack() string {
	var sb strings.Builder
	for _, f := range c.Backtrace {
		if f.Function == truncatedFrame && f.File == "" {
			sb.WriteString(truncatedFrame + "\n")
			continue
		}
		fmt.Fprintf(&sb, "%s()\n\t%s:%d\n", f.Function, f.File, f.Line)
	}
	return sb.String()
}

// Capture builds a CapturedException for the recovered value v, recording
// the stack of the calling goroutine without the guard's own frames.
func Capture(v any) CapturedException {
	return CapturedException{
		Reason:    reasonOf(v),
		Value:     v,
		Backtrace: callers(),
		Time:      time.Now(),
	}
}

// reasonOf never panics, even when v's Error or String method does.
func reasonOf(v any) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			reason = fmt.Sprintf("%T (reason unavailable: %v)", v, r)
		}
	}()

	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// guardFrames are dropped from the head of a captured backtrace.
var guardFrames = []string{
	"recovery.Capture",
	"recovery.callers",
	"recovery.(*Guard).Handle",
	"recovery.(*Guard).handle",
	"recovery.(*Guard).Recover",
	"recovery.(*Guard).RecoverFunc",
	"recovery.Recover",
	"recovery.RecoverFunc",
}

func isGuardFrame(fn string) bool {
	for _, g := range guardFrames {
		if strings.HasSuffix(fn, g) {
			return true
		}
	}
	return false
}

// maxFrames caps a backtrace; deeper stacks end with a truncation frame.
const maxFrames = 1 << 14

// truncatedFrame marks a backtrace cut at maxFrames.
const truncatedFrame = "...additional frames elided..."

func callers() []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)
	for n == len(pcs) && len(pcs) < maxFrames {
		pcs = make([]uintptr, 2*len(pcs))
		n = runtime.Callers(1, pcs)
	}
	truncated := n == maxFrames
	frames := runtime.CallersFrames(pcs[:n])

	var out []Frame
	leading := true
	for {
		f, more := frames.Next()
		if leading && (f.Function == "runtime.Callers" || isGuardFrame(f.Function)) {
			if !more {
				break
			}
			continue
		}
		leading = false
		out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	if truncated {
		out = append(out, Frame{Function: truncatedFrame})
	}
	return out
}
