// Package validation checks a form document against its structural and
// business rules before it is submitted.
package validation

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"

	"github.com/ehr/formentry/internal/form/document"
)

// Result codes. CodeOK is the only passing code.
const (
	CodeOK        = 0
	CodeStructure = 1
	CodeRequired  = 2
	CodeEmpty     = 3
	CodeConcept   = 4
	CodePattern   = 5
)

// Issue is a single rule violation.
type Issue struct {
	Code    int
	Path    string
	Message string
}

// Result is the outcome of validating one document. OK is true exactly when
// Code is CodeOK.
type Result struct {
	OK     bool
	Code   int
	Detail string
	Issues []Issue
}

// NewResult builds a Result from the collected issues.
func NewResult(issues []Issue) Result {
	if len(issues) == 0 {
		return Result{OK: true, Code: CodeOK}
	}
	lines := make([]string, 0, len(issues))
	for _, is := range issues {
		if is.Path != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", is.Path, is.Message))
		} else {
			lines = append(lines, is.Message)
		}
	}
	return Result{
		OK:     false,
		Code:   issues[0].Code,
		Detail: strings.Join(lines, "\n"),
		Issues: issues,
	}
}

// Validator runs validation over a form document.
type Validator interface {
	Validate(doc *document.Document) Result
}

// Func adapts a plain function to Validator.
type Func func(doc *document.Document) Result

func (f Func) Validate(doc *document.Document) Result {
	return f(doc)
}

// RequiredRule names a node that must be present.
type RequiredRule struct {
	Path     string `yaml:"path"`
	NonEmpty bool   `yaml:"nonEmpty"`
}

// PatternRule constrains the text of every node matching Path.
type PatternRule struct {
	Path    string `yaml:"path"`
	Regex   string `yaml:"regex"`
	Message string `yaml:"message"`

	re *regexp.Regexp
}

// Schema holds the rules for one form.
type Schema struct {
	Root             string         `yaml:"root"`
	ConceptAttribute string         `yaml:"conceptAttribute"`
	Required         []RequiredRule `yaml:"required"`
	Patterns         []PatternRule  `yaml:"patterns"`
}

// conceptPattern matches "<conceptId>^<name>..." with a numeric concept id.
var conceptPattern = regexp.MustCompile(`^\d+\^`)

// DefaultSchema is used when no schema file is configured.
func DefaultSchema() *Schema {
	return &Schema{
		Root:             "form",
		ConceptAttribute: "openmrs_concept",
	}
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes a YAML schema and compiles its patterns.
func ParseSchema(data []byte) (*Schema, error) {
	s := &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) compile() error {
	for i := range s.Patterns {
		p := &s.Patterns[i]
		if p.Path == "" {
			return fmt.Errorf("pattern %d: path is required", i)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return fmt.Errorf("pattern %s: %w", p.Path, err)
		}
		p.re = re
	}
	for i, r := range s.Required {
		if r.Path == "" {
			return fmt.Errorf("required rule %d: path is required", i)
		}
	}
	return nil
}

// Validate implements Validator.
func (s *Schema) Validate(doc *document.Document) Result {
	var issues []Issue

	root := doc.Root()
	if s.Root != "" && root.Tag != s.Root {
		issues = append(issues, Issue{
			Code:    CodeStructure,
			Message: fmt.Sprintf("root element must be <%s>, found <%s>", s.Root, root.Tag),
		})
	}

	for _, r := range s.Required {
		node, err := doc.SelectSingleNode(nil, r.Path)
		if err != nil {
			issues = append(issues, Issue{Code: CodeStructure, Path: r.Path, Message: err.Error()})
			continue
		}
		if node == nil {
			issues = append(issues, Issue{Code: CodeRequired, Path: r.Path, Message: "required element is missing"})
			continue
		}
		if r.NonEmpty && strings.TrimSpace(doc.Text(node)) == "" {
			issues = append(issues, Issue{Code: CodeEmpty, Path: r.Path, Message: "a value is required"})
		}
	}

	if s.ConceptAttribute != "" {
		issues = append(issues, s.checkConcepts(doc, root)...)
	}

	for _, p := range s.Patterns {
		issues = append(issues, s.checkPattern(doc, p)...)
	}

	return NewResult(issues)
}

func (s *Schema) checkConcepts(doc *document.Document, root *etree.Element) []Issue {
	var issues []Issue
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if v, ok := doc.Attribute(e, s.ConceptAttribute); ok && !conceptPattern.MatchString(v) {
			issues = append(issues, Issue{
				Code:    CodeConcept,
				Path:    e.GetPath(),
				Message: fmt.Sprintf("%s %q is not a coded concept", s.ConceptAttribute, v),
			})
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	walk(root)
	return issues
}

func (s *Schema) checkPattern(doc *document.Document, p PatternRule) []Issue {
	re := p.re
	if re == nil {
		// Schemas built in code skip compile().
		var err error
		if re, err = regexp.Compile(p.Regex); err != nil {
			return []Issue{{Code: CodeStructure, Path: p.Path, Message: err.Error()}}
		}
	}
	nodes, err := doc.SelectNodes(nil, p.Path)
	if err != nil {
		return []Issue{{Code: CodeStructure, Path: p.Path, Message: err.Error()}}
	}

	var issues []Issue
	for _, n := range nodes {
		text := strings.TrimSpace(doc.Text(n))
		if text == "" || re.MatchString(text) {
			continue
		}
		msg := p.Message
		if msg == "" {
			msg = fmt.Sprintf("value %q does not match %s", text, p.Regex)
		}
		issues = append(issues, Issue{Code: CodePattern, Path: n.GetPath(), Message: msg})
	}
	return issues
}
