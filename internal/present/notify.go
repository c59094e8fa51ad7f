// Package present holds the steps that show an uncaught exception to a
// person before the process exits.
package present

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/ColonelBlimp/crashguard/internal/recovery"
)

// DefaultNotifyTimeout bounds how long shutdown waits on a notification.
const DefaultNotifyTimeout = 5 * time.Second

// maxNotifyFrames is how many backtrace frames go into a notification.
const maxNotifyFrames = 5

// ErrNotifyTimeout is returned when the notification service did not answer in time.
var ErrNotifyTimeout = errors.New("notification timed out")

// Notify sends the exception through a Shoutrrr URL.
type Notify struct {
	url     string
	title   string
	timeout time.Duration
	send    func(url, message string) error
}

// NewNotify returns a Notify for a Shoutrrr URL such as slack://token@channel.
func NewNotify(url, title string, timeout time.Duration) (*Notify, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("notify presenter needs a shoutrrr url in format 'service://credentials' (e.g., slack://token@channel, discord://token@webhookid)")
	}
	if !strings.Contains(url, "://") {
		return nil, fmt.Errorf("invalid shoutrrr url %q: missing scheme", url)
	}
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	if title == "" {
		title = defaultTitle()
	}
	return &Notify{
		url:     url,
		title:   title,
		timeout: timeout,
		send:    shoutrrr.Send,
	}, nil
}

func defaultTitle() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "Uncaught exception"
	}
	return "Uncaught exception on " + host
}

// Present sends the notification and waits for it, up to the timeout.
func (n *Notify) Present(exc recovery.CapturedException) error {
	msg := n.message(exc)

	done := make(chan error, 1)
	go func() {
		done <- n.send(n.url, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notification failed to send via %s: %w", n.service(), err)
		}
		return nil
	case <-time.After(n.timeout):
		return fmt.Errorf("%w after %s via %s", ErrNotifyTimeout, n.timeout, n.service())
	}
}

func (n *Notify) message(exc recovery.CapturedException) string {
	var sb strings.Builder
	sb.WriteString(n.title)
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Time: %s\n", exc.Time.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Reason: %s\n", exc.Reason))

	frames := exc.Backtrace
	if len(frames) > maxNotifyFrames {
		frames = frames[:maxNotifyFrames]
	}
	if len(frames) > 0 {
		sb.WriteString("\n")
		for _, f := range frames {
			sb.WriteString(fmt.Sprintf("%s (%s:%d)\n", f.Function, f.File, f.Line))
		}
	}
	return sb.String()
}

// service extracts the scheme, e.g. "slack://..." -> "slack".
func (n *Notify) service() string {
	if idx := strings.Index(n.url, "://"); idx > 0 {
		return n.url[:idx]
	}
	return "unknown"
}
