package present

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ColonelBlimp/crashguard/internal/recovery"
)

// Console prints a framed notice and, when Wait is set, blocks until a
// line is read from In.
type Console struct {
	Out  io.Writer
	In   io.Reader
	Wait bool
}

// NewConsole writes the notice to out and waits only when in is a terminal.
func NewConsole(out io.Writer, in io.Reader) *Console {
	return &Console{
		Out:  out,
		In:   in,
		Wait: isTerminal(in),
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && f != nil && term.IsTerminal(int(f.Fd()))
}

// Present shows the exception. EOF on In counts as dismissal.
func (c *Console) Present(exc recovery.CapturedException) error {
	out := c.Out
	if out == nil {
		out = os.Stderr
	}

	reason := exc.Reason
	if reason == "" {
		reason = "(no reason given)"
	}

	lines := []string{"The program hit an unrecoverable error and will exit.", ""}
	lines = append(lines, strings.Split(reason, "\n")...)
	if c.Wait {
		lines = append(lines, "", "Press Enter to exit.")
	}
	if _, err := io.WriteString(out, frame(lines)); err != nil {
		return fmt.Errorf("write notice: %w", err)
	}

	if !c.Wait || c.In == nil {
		return nil
	}
	if _, err := bufio.NewReader(c.In).ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("wait for dismissal: %w", err)
	}
	return nil
}

func frame(lines []string) string {
	width := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > width {
			width = n
		}
	}

	var sb strings.Builder
	border := "+" + strings.Repeat("-", width+2) + "+\n"
	sb.WriteString(border)
	for _, l := range lines {
		pad := width - len([]rune(l))
		sb.WriteString("| " + l + strings.Repeat(" ", pad) + " |\n")
	}
	sb.WriteString(border)
	return sb.String()
}

// Chain runs presenters in order and joins their errors.
func Chain(ps ...recovery.Presenter) recovery.Presenter {
	return recovery.PresenterFunc(func(exc recovery.CapturedException) error {
		var errs []error
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Present(exc); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
