// Package document adapts an etree XML document to the path-addressable
// tree the form entry workflow edits and submits.
package document

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

var (
	// ErrNotFound is returned when a node expected by an operation is absent.
	ErrNotFound = errors.New("node not found")
	// ErrInvalidPath is returned for path expressions that cannot be compiled.
	ErrInvalidPath = errors.New("invalid path expression")
	// ErrNoRoot is returned when parsed XML has no root element.
	ErrNoRoot = errors.New("document has no root element")
)

const defaultEncoding = "UTF-8"

var encodingPattern = regexp.MustCompile(`encoding\s*=\s*["']([^"']+)["']`)

// Document is one form instance. It is not safe for concurrent use.
type Document struct {
	doc *etree.Document
}

// New wraps an already built etree document.
func New(doc *etree.Document) (*Document, error) {
	if doc == nil || doc.Root() == nil {
		return nil, ErrNoRoot
	}
	return &Document{doc: doc}, nil
}

// Parse reads a form document from r. Input in a declared non-UTF-8
// encoding is decoded; the declaration is kept so Bytes can encode back.
func Parse(r io.Reader) (*Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("parse form document: %w", err)
	}
	return New(doc)
}

// ParseString reads a form document from s.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFile reads a form document from the file at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open form document: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Root returns the document element.
func (d *Document) Root() *etree.Element {
	return d.doc.Root()
}

func (d *Document) context(ctx *etree.Element) *etree.Element {
	if ctx == nil {
		return &d.doc.Element
	}
	return ctx
}

func compile(path string) (etree.Path, error) {
	p, err := etree.CompilePath(path)
	if err != nil {
		return etree.Path{}, fmt.Errorf("%w %q: %v", ErrInvalidPath, path, err)
	}
	return p, nil
}

// SelectSingleNode returns the first node matching path in document order,
// or nil when nothing matches. A nil ctx evaluates path against the document.
func (d *Document) SelectSingleNode(ctx *etree.Element, path string) (*etree.Element, error) {
	p, err := compile(path)
	if err != nil {
		return nil, err
	}
	return d.context(ctx).FindElementPath(p), nil
}

// SelectNodes returns every node matching path in document order.
func (d *Document) SelectNodes(ctx *etree.Element, path string) ([]*etree.Element, error) {
	p, err := compile(path)
	if err != nil {
		return nil, err
	}
	nodes := d.context(ctx).FindElementsPath(p)
	if nodes == nil {
		nodes = []*etree.Element{}
	}
	return nodes, nil
}

// Text returns the character data directly inside node.
func (d *Document) Text(node *etree.Element) string {
	return node.Text()
}

// SetText replaces the character data directly inside node.
func (d *Document) SetText(node *etree.Element, value string) {
	node.SetText(value)
}

// Attribute returns the value of the named attribute and whether it is set.
func (d *Document) Attribute(node *etree.Element, name string) (string, bool) {
	attr := node.SelectAttr(name)
	if attr == nil {
		return "", false
	}
	return attr.Value, true
}

// Parent returns the parent of node, or nil when node is detached.
func (d *Document) Parent(node *etree.Element) *etree.Element {
	return node.Parent()
}

// RemoveChild detaches child and its subtree from parent.
func (d *Document) RemoveChild(parent, child *etree.Element) error {
	if parent == nil || child == nil || child.Parent() != parent {
		return fmt.Errorf("remove child: %w", ErrNotFound)
	}
	if parent.RemoveChild(child) == nil {
		return fmt.Errorf("remove child <%s>: %w", child.Tag, ErrNotFound)
	}
	return nil
}

// XML serializes the whole document as a Go string. The declaration still
// names the original encoding; use Bytes for the wire form.
func (d *Document) XML() (string, error) {
	s, err := d.doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize form document: %w", err)
	}
	return s, nil
}

// Encoding returns the encoding named by the XML declaration, UTF-8 if none.
func (d *Document) Encoding() string {
	for _, tok := range d.doc.Child {
		pi, ok := tok.(*etree.ProcInst)
		if !ok || pi.Target != "xml" {
			continue
		}
		if m := encodingPattern.FindStringSubmatch(pi.Inst); m != nil {
			return m[1]
		}
	}
	return defaultEncoding
}

// Bytes serializes the document in its declared encoding. Characters the
// encoding cannot represent are written as numeric character references.
func (d *Document) Bytes() ([]byte, error) {
	text, err := d.XML()
	if err != nil {
		return nil, err
	}
	name := d.Encoding()
	enc, canonical := charset.Lookup(name)
	if enc == nil {
		return nil, fmt.Errorf("serialize form document: unsupported encoding %q", name)
	}
	if canonical == "utf-8" {
		return []byte(text), nil
	}
	out, err := encoding.HTMLEscapeUnsupported(enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("serialize form document as %s: %w", name, err)
	}
	return out, nil
}
