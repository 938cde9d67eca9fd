// Package submission validates a completed form and posts it to the server,
// reporting a typed outcome and whether the host may close the form.
package submission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/formentry/internal/form/document"
	"github.com/ehr/formentry/internal/form/validation"
	"github.com/ehr/formentry/internal/platform/notify"
)

// State is a step of the submission workflow.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSerializing
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSerializing:
		return "serializing"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Kind tags an Outcome.
type Kind int

const (
	Success Kind = iota
	ValidationFailed
	TransportSetupFailed
	TransportFailed
	ServerRejected
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case ValidationFailed:
		return "validation failed"
	case TransportSetupFailed:
		return "transport setup failed"
	case TransportFailed:
		return "transport failed"
	case ServerRejected:
		return "server rejected"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the terminal result of one Submit call. Detail holds the
// validation detail or the transport failure reason; StatusCode and Body are
// set for ServerRejected.
type Outcome struct {
	Kind       Kind
	Detail     string
	StatusCode int
	Body       string
}

func (o Outcome) Succeeded() bool {
	return o.Kind == Success
}

func (o Outcome) String() string {
	switch o.Kind {
	case Success:
		return o.Kind.String()
	case ServerRejected:
		return fmt.Sprintf("%s (%d): %s", o.Kind, o.StatusCode, o.Body)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Detail)
}

// Messages shown to the user.
const (
	validationPreamble = "This form has errors. You cannot submit the form until you correct the errors.\n" +
		"Please check the form for errors and try again.\n\nERROR DETAILS:\n"
	successMessage = "Form submitted successfully."
)

// Controller runs the validate, serialize, submit workflow for one form.
// Calls block until the outcome is known; it is not safe for concurrent use.
type Controller struct {
	validator validation.Validator
	dialer    Dialer
	notifier  notify.Notifier
	logger    zerolog.Logger

	state    State
	outcome  Outcome
	mayClose bool
}

func NewController(validator validation.Validator, dialer Dialer, notifier notify.Notifier, logger zerolog.Logger) *Controller {
	return &Controller{
		validator: validator,
		dialer:    dialer,
		notifier:  notifier,
		logger:    logger,
	}
}

func (c *Controller) State() State {
	return c.state
}

// Outcome returns the outcome of the last Submit.
func (c *Controller) Outcome() Outcome {
	return c.outcome
}

// MayClose reports whether the last Submit allows the host to close the form.
func (c *Controller) MayClose() bool {
	return c.mayClose
}

func (c *Controller) transition(s State) {
	c.logger.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("submission state")
	c.state = s
}

func (c *Controller) fail(o Outcome, message string) Outcome {
	c.transition(StateFailed)
	c.outcome = o
	c.mayClose = false
	c.logger.Warn().Str("outcome", o.Kind.String()).Str("detail", o.Detail).Int("status", o.StatusCode).Msg("form submission failed")
	c.notifier.Notify(message)
	return o
}

// Submit validates doc and posts it to submitURL. Only a passing validation
// followed by a 200 response sets MayClose.
func (c *Controller) Submit(ctx context.Context, doc *document.Document, submitURL string) Outcome {
	c.state = StateIdle
	c.mayClose = false
	c.outcome = Outcome{}

	c.transition(StateValidating)
	res := c.validator.Validate(doc)
	if !res.OK {
		return c.fail(Outcome{Kind: ValidationFailed, Detail: res.Detail}, validationPreamble+res.Detail)
	}

	c.transition(StateSerializing)
	body, err := doc.Bytes()
	if err != nil {
		reason := err.Error()
		return c.fail(Outcome{Kind: TransportSetupFailed, Detail: reason}, reason)
	}

	c.transition(StateSubmitting)
	client, err := c.dialer.Open(submitURL)
	if err != nil {
		reason := err.Error()
		return c.fail(Outcome{Kind: TransportSetupFailed, Detail: reason}, reason)
	}
	defer client.Close()

	start := time.Now()
	resp, err := client.Post(ctx, body, "text/xml; charset="+doc.Encoding())
	if err != nil {
		reason := err.Error()
		return c.fail(Outcome{Kind: TransportFailed, Detail: reason},
			fmt.Sprintf("Could not post document to %s\n%s", submitURL, reason))
	}

	c.logger.Info().
		Str("url", submitURL).
		Str("request_id", resp.RequestID).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("latency", time.Since(start)).
		Msg("form posted")

	if resp.StatusCode != http.StatusOK {
		return c.fail(Outcome{Kind: ServerRejected, StatusCode: resp.StatusCode, Body: resp.Body}, resp.Body)
	}

	c.transition(StateSucceeded)
	c.outcome = Outcome{Kind: Success}
	c.mayClose = true
	c.notifier.Notify(successMessage)
	return c.outcome
}
