// Package navigation builds picker URLs for the task pane and asks the pane
// surface to show them.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/formentry/internal/form/document"
	"github.com/ehr/formentry/internal/platform/notify"
)

var (
	// ErrMissingConcept is returned when a question node carries no coded concept.
	ErrMissingConcept = errors.New("question has no coded concept")
	// ErrSchemaMismatch is returned when the form schema lacks a required section.
	ErrSchemaMismatch = errors.New("schema does not include patient relationships")
	// ErrInvalidMode is returned for diagnosis picker modes other than add and remove.
	ErrInvalidMode = errors.New("invalid diagnosis picker mode")
)

// Diagnosis picker modes.
const (
	ModeAdd    = "add"
	ModeRemove = "remove"
)

const (
	conceptAttribute    = "openmrs_concept"
	conceptSeparator    = "^"
	relationshipPath    = "//patient/patient_relationship"
	patientIDPath       = "//patient/patient.patient_id"
	relationshipMissing = "Your schema does not include the PATIENT_RELATIONSHIPS element."
)

// Panel is the task pane surface. The controller only opens it and points
// it at a URL.
type Panel interface {
	SetVisible(ctx context.Context, visible bool) error
	Navigate(ctx context.Context, url string) error
}

// Param is one query argument. Order is kept as given.
type Param struct {
	Key   string
	Value string
}

// Request is a picker navigation relative to the task pane base URL.
type Request struct {
	BaseURL      string
	RelativePath string
	Query        []Param
}

// URL joins base, path and the percent-encoded query.
func (r Request) URL() string {
	var b strings.Builder
	b.WriteString(r.BaseURL)
	b.WriteString(r.RelativePath)
	for i, p := range r.Query {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Controller opens pickers for one form document.
type Controller struct {
	baseURL  string
	doc      *document.Document
	panel    Panel
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewController creates a controller resolving pickers against taskpaneURL.
func NewController(taskpaneURL string, doc *document.Document, panel Panel, notifier notify.Notifier, logger zerolog.Logger) *Controller {
	return &Controller{
		baseURL:  strings.TrimRight(taskpaneURL, "/"),
		doc:      doc,
		panel:    panel,
		notifier: notifier,
		logger:   logger,
	}
}

// NavigateRelative shows the task pane and points it at baseURL+relativePath.
func (c *Controller) NavigateRelative(ctx context.Context, relativePath string) error {
	return c.navigate(ctx, Request{BaseURL: c.baseURL, RelativePath: relativePath})
}

func (c *Controller) navigate(ctx context.Context, req Request) error {
	target := req.URL()
	if err := c.panel.SetVisible(ctx, true); err != nil {
		return c.fail(fmt.Errorf("show task pane: %w", err))
	}
	if err := c.panel.Navigate(ctx, target); err != nil {
		return c.fail(fmt.Errorf("navigate task pane to %s: %w", target, err))
	}
	c.logger.Debug().Str("url", target).Msg("task pane navigated")
	return nil
}

// fail reports err to the user and returns it.
func (c *Controller) fail(err error) error {
	c.logger.Warn().Err(err).Msg("navigation failed")
	c.notifier.Notify(err.Error())
	return err
}

// OpenDiagnosisPicker opens the diagnosis picker in add or remove mode.
func (c *Controller) OpenDiagnosisPicker(ctx context.Context, mode string) error {
	if mode != ModeAdd && mode != ModeRemove {
		return c.fail(fmt.Errorf("%w %q", ErrInvalidMode, mode))
	}
	return c.navigate(ctx, Request{
		BaseURL:      c.baseURL,
		RelativePath: "/diagnosis.htm",
		Query:        []Param{{"mode", mode}},
	})
}

func (c *Controller) OpenProviderPicker(ctx context.Context) error {
	return c.NavigateRelative(ctx, "/provider.htm")
}

func (c *Controller) OpenTribePicker(ctx context.Context) error {
	return c.NavigateRelative(ctx, "/tribe.htm")
}

// OpenLocationPicker opens the location picker. An empty nodePath omits the
// query entirely.
func (c *Controller) OpenLocationPicker(ctx context.Context, nodePath string) error {
	req := Request{BaseURL: c.baseURL, RelativePath: "/location.htm"}
	if nodePath != "" {
		req.Query = []Param{{"nodePath", nodePath}}
	}
	return c.navigate(ctx, req)
}

// OpenAnswerPicker opens the coded answer picker for the question at nodePath.
func (c *Controller) OpenAnswerPicker(ctx context.Context, nodePath string) error {
	question, err := c.doc.SelectSingleNode(nil, nodePath)
	if err != nil {
		return c.fail(err)
	}
	if question == nil {
		return c.fail(fmt.Errorf("%w: no question at %s", ErrMissingConcept, nodePath))
	}
	concept, ok := c.doc.Attribute(question, conceptAttribute)
	if !ok {
		return c.fail(fmt.Errorf("%w: %s has no %s attribute", ErrMissingConcept, nodePath, conceptAttribute))
	}
	conceptID, _, _ := strings.Cut(concept, conceptSeparator)

	return c.navigate(ctx, Request{
		BaseURL:      c.baseURL,
		RelativePath: "/conceptAnswer.htm",
		Query:        []Param{{"conceptId", conceptID}, {"nodePath", nodePath}},
	})
}

// OpenRelationshipPicker opens the offline relationship picker for the
// form's patient.
func (c *Controller) OpenRelationshipPicker(ctx context.Context) error {
	rel, err := c.doc.SelectSingleNode(nil, relationshipPath)
	if err != nil {
		return c.fail(err)
	}
	if rel == nil {
		c.logger.Warn().Str("path", relationshipPath).Msg("relationship section missing")
		c.notifier.Notify(relationshipMissing)
		return ErrSchemaMismatch
	}

	var patientID string
	idNode, err := c.doc.SelectSingleNode(nil, patientIDPath)
	if err != nil {
		return c.fail(err)
	}
	if idNode != nil {
		patientID = c.doc.Text(idNode)
	}

	return c.navigate(ctx, Request{
		BaseURL:      c.baseURL,
		RelativePath: "/relationshipOffline.htm",
		Query:        []Param{{"patientId", patientID}},
	})
}
