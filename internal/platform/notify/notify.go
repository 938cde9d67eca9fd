// Package notify carries user-facing alerts from the form workflow to
// whatever surface the host uses to show them.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Notifier presents a message to the user. It decides presentation only;
// message content belongs to the caller.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc is a function adapter for Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) {
	f(message)
}

// WriterNotifier prints each message to an io.Writer.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, message)
}

// LogNotifier records every alert in the log before passing it on.
type LogNotifier struct {
	next   Notifier
	logger zerolog.Logger
}

// NewLogNotifier wraps next. A nil next only logs.
func NewLogNotifier(next Notifier, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{next: next, logger: logger}
}

func (n *LogNotifier) Notify(message string) {
	n.logger.Info().Str("alert", message).Msg("user notified")
	if n.next != nil {
		n.next.Notify(message)
	}
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of the recorded messages in order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns the most recent message, or "" if none.
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}
