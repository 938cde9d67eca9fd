// Package roweditor implements the delete and add policies for repeating
// sections of a form, such as the problem list.
package roweditor

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/ehr/formentry/internal/form/document"
)

// Repeating section tags of the problem list.
const (
	ProblemAdded    = "problem_added"
	ProblemResolved = "problem_resolved"
)

// valueTag is the child holding an entry's coded value.
const valueTag = "value"

// ErrDetached is returned when the source node has no parent.
var ErrDetached = errors.New("node is detached from the document")

// Editor applies row edits to one document.
type Editor struct {
	doc    *document.Document
	logger zerolog.Logger
}

func New(doc *document.Document, logger zerolog.Logger) *Editor {
	return &Editor{doc: doc, logger: logger}
}

// DeleteRow removes source from its parent unconditionally.
func (e *Editor) DeleteRow(source *etree.Element) error {
	parent := e.doc.Parent(source)
	if parent == nil {
		return fmt.Errorf("delete <%s>: %w", source.Tag, ErrDetached)
	}
	if err := e.doc.RemoveChild(parent, source); err != nil {
		return err
	}
	e.logger.Debug().Str("tag", source.Tag).Str("parent", parent.Tag).Msg("row deleted")
	return nil
}

// DeleteListEntry removes source when other siblingTag entries remain under
// the same parent. The last entry is kept and its value is cleared instead,
// so the section never becomes empty.
func (e *Editor) DeleteListEntry(source *etree.Element, siblingTag string) error {
	parent := e.doc.Parent(source)
	if parent == nil {
		return fmt.Errorf("delete <%s>: %w", source.Tag, ErrDetached)
	}

	siblings, err := e.doc.SelectNodes(parent, siblingTag)
	if err != nil {
		return err
	}
	if len(siblings) > 1 {
		return e.DeleteRow(source)
	}

	value, err := e.doc.SelectSingleNode(source, valueTag)
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("clear <%s>: <%s> %w", source.Tag, valueTag, document.ErrNotFound)
	}
	e.doc.SetText(value, "")
	e.logger.Debug().Str("tag", source.Tag).Msg("last entry cleared")
	return nil
}

// DeleteNewProblem deletes an entry of the problems-added list.
func (e *Editor) DeleteNewProblem(source *etree.Element) error {
	return e.DeleteListEntry(source, ProblemAdded)
}

// DeleteResolvedProblem deletes an entry of the problems-resolved list.
func (e *Editor) DeleteResolvedProblem(source *etree.Element) error {
	return e.DeleteListEntry(source, ProblemResolved)
}

// AddListEntry records value in the siblingTag section found at sectionPath.
// An empty last entry is filled in place; otherwise the last entry is copied,
// inserted after it and filled. The copy starts with every leaf emptied so
// sibling fields of the previous entry do not carry over. The filled entry is
// returned.
func (e *Editor) AddListEntry(sectionPath, siblingTag, value string) (*etree.Element, error) {
	section, err := e.doc.SelectSingleNode(nil, sectionPath)
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, fmt.Errorf("section %s: %w", sectionPath, document.ErrNotFound)
	}

	entries, err := e.doc.SelectNodes(section, siblingTag)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("section %s has no <%s> entry: %w", sectionPath, siblingTag, document.ErrNotFound)
	}

	last := entries[len(entries)-1]
	lastValue, err := e.doc.SelectSingleNode(last, valueTag)
	if err != nil {
		return nil, err
	}
	if lastValue == nil {
		return nil, fmt.Errorf("entry <%s>: <%s> %w", siblingTag, valueTag, document.ErrNotFound)
	}

	if e.doc.Text(lastValue) == "" {
		e.doc.SetText(lastValue, value)
		return last, nil
	}

	entry := last.Copy()
	clearLeaves(entry)
	section.InsertChildAt(last.Index()+1, entry)
	v, _ := e.doc.SelectSingleNode(entry, valueTag)
	e.doc.SetText(v, value)
	e.logger.Debug().Str("tag", siblingTag).Int("count", len(entries)+1).Msg("entry added")
	return entry, nil
}

// clearLeaves empties the text of every element under el that has no child
// elements.
func clearLeaves(el *etree.Element) {
	for _, child := range el.ChildElements() {
		if len(child.ChildElements()) == 0 {
			child.SetText("")
			continue
		}
		clearLeaves(child)
	}
}

// ApplyPick writes a picker result into the node at nodePath.
func (e *Editor) ApplyPick(nodePath, value string) error {
	node, err := e.doc.SelectSingleNode(nil, nodePath)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("pick target %s: %w", nodePath, document.ErrNotFound)
	}
	e.doc.SetText(node, value)
	return nil
}
