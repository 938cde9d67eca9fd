// Package session hosts one open form: its document, the editing and
// navigation controllers, and the submission workflow. Every operation runs
// under one lock, so picks arriving from the task pane and commands typed
// by the user never touch the document at the same time.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/formentry/internal/form/document"
	"github.com/ehr/formentry/internal/form/navigation"
	"github.com/ehr/formentry/internal/form/roweditor"
	"github.com/ehr/formentry/internal/form/submission"
	"github.com/ehr/formentry/internal/form/validation"
	"github.com/ehr/formentry/internal/platform/notify"
	"github.com/ehr/formentry/internal/platform/taskpane"
)

// ErrUnknownCommand is returned for input lines no command matches.
var ErrUnknownCommand = errors.New("unknown command")

// Options wires a session to its collaborators.
type Options struct {
	TaskpaneURL string
	SubmitURL   string
	Panel       navigation.Panel
	Validator   validation.Validator
	Dialer      submission.Dialer
	Notifier    notify.Notifier
	Logger      zerolog.Logger
	// Out receives command output such as the serialized document.
	Out io.Writer
}

// Session is one open form.
type Session struct {
	mu        sync.Mutex
	doc       *document.Document
	editor    *roweditor.Editor
	nav       *navigation.Controller
	submitter *submission.Controller
	submitURL string
	notifier  notify.Notifier
	logger    zerolog.Logger
	out       io.Writer
}

func New(doc *document.Document, opts Options) *Session {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Session{
		doc:       doc,
		editor:    roweditor.New(doc, opts.Logger),
		nav:       navigation.NewController(opts.TaskpaneURL, doc, opts.Panel, opts.Notifier, opts.Logger),
		submitter: submission.NewController(opts.Validator, opts.Dialer, opts.Notifier, opts.Logger),
		submitURL: opts.SubmitURL,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		out:       out,
	}
}

// Apply writes a task pane pick into the document. It satisfies
// taskpane.PickFunc.
func (s *Session) Apply(_ context.Context, pick taskpane.Pick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pick.Section != "" {
		return s.addToSection(pick.Section, pick.Value)
	}
	if err := s.editor.ApplyPick(pick.NodePath, pick.Value); err != nil {
		return err
	}
	s.logger.Info().Str("node", pick.NodePath).Msg("pick applied")
	return nil
}

func (s *Session) addToSection(section, value string) error {
	switch section {
	case roweditor.ProblemAdded, roweditor.ProblemResolved:
	default:
		return fmt.Errorf("unsupported section %q", section)
	}
	first, err := s.doc.SelectSingleNode(nil, "//"+section)
	if err != nil {
		return err
	}
	if first == nil || s.doc.Parent(first) == nil {
		return fmt.Errorf("section %s: %w", section, document.ErrNotFound)
	}
	entry, err := s.editor.AddListEntry(s.doc.Parent(first).GetPath(), section, value)
	if err != nil {
		return err
	}
	s.logger.Info().Str("section", section).Str("entry", entry.GetPath()).Msg("pick added to section")
	return nil
}

// Submit runs the submission workflow against the configured submit URL.
func (s *Session) Submit(ctx context.Context) submission.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitter.Submit(ctx, s.doc, s.submitURL)
}

// MayClose reports whether the last submission allows closing the form.
func (s *Session) MayClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitter.MayClose()
}

// Exec runs one command line. done is true when the session should end,
// either on quit or after a submission that allows closing.
func (s *Session) Exec(ctx context.Context, line string) (done bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	if cmd == "submit" {
		out := s.Submit(ctx)
		fmt.Fprintln(s.out, out.String())
		return s.MayClose(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "diagnosis":
		mode := navigation.ModeAdd
		if len(args) > 0 {
			mode = args[0]
		}
		return false, shown(s.nav.OpenDiagnosisPicker(ctx, mode))
	case "provider":
		return false, shown(s.nav.OpenProviderPicker(ctx))
	case "tribe":
		return false, shown(s.nav.OpenTribePicker(ctx))
	case "location":
		return false, shown(s.nav.OpenLocationPicker(ctx, strings.Join(args, " ")))
	case "answer":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: answer NODE_PATH")
		}
		return false, shown(s.nav.OpenAnswerPicker(ctx, args[0]))
	case "relationship":
		return false, shown(s.nav.OpenRelationshipPicker(ctx))
	case "delete":
		return false, s.deleteEntry(args)
	case "show":
		text, err := s.doc.XML()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, text)
		return false, nil
	}
	return false, fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
}

// deleteEntry handles "delete added|resolved N" with a 1-based index.
func (s *Session) deleteEntry(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete added|resolved N")
	}
	var tag string
	switch args[0] {
	case "added":
		tag = roweditor.ProblemAdded
	case "resolved":
		tag = roweditor.ProblemResolved
	default:
		return fmt.Errorf("usage: delete added|resolved N")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("entry index must be a positive number, got %q", args[1])
	}

	entries, err := s.doc.SelectNodes(nil, "//"+tag)
	if err != nil {
		return err
	}
	if n > len(entries) {
		return fmt.Errorf("%s has %d entries: %w", tag, len(entries), document.ErrNotFound)
	}
	return s.editor.DeleteListEntry(entries[n-1], tag)
}

// Run reads commands from r until quit, a closable submission, or EOF.
// Command errors are reported to the user and do not end the session.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := s.Exec(ctx, scanner.Text())
		if err != nil {
			s.logger.Warn().Err(err).Str("command", scanner.Text()).Msg("command failed")
			var se shownError
			if !errors.As(err, &se) {
				s.notifier.Notify(err.Error())
			}
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

// shownError marks an error the user has already been notified of.
type shownError struct{ error }

func (e shownError) Unwrap() error { return e.error }

func shown(err error) error {
	if err == nil {
		return nil
	}
	return shownError{err}
}
