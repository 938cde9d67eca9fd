package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ehr/formentry/internal/form/document"
)

const validForm = `<form>
  <patient>
    <patient.patient_id>4471</patient.patient_id>
  </patient>
  <encounter>
    <encounter.encounter_datetime>2026-03-02</encounter.encounter_datetime>
  </encounter>
  <obs>
    <cough openmrs_concept="1234^COUGH^99DCT"><value/></cough>
  </obs>
</form>`

func parse(t *testing.T, s string) *document.Document {
	t.Helper()
	doc, err := document.ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

const schemaYAML = `
root: form
conceptAttribute: openmrs_concept
required:
  - path: //patient/patient.patient_id
    nonEmpty: true
  - path: //encounter/encounter.encounter_datetime
patterns:
  - path: //encounter/encounter.encounter_datetime
    regex: '^\d{4}-\d{2}-\d{2}'
    message: encounter date must be YYYY-MM-DD
`

func mustSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := ParseSchema([]byte(schemaYAML))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return s
}

func TestNewResult_OKMatchesCode(t *testing.T) {
	ok := NewResult(nil)
	if !ok.OK || ok.Code != CodeOK || ok.Detail != "" {
		t.Errorf("expected passing result, got %+v", ok)
	}

	failed := NewResult([]Issue{{Code: CodeRequired, Path: "//a", Message: "missing"}})
	if failed.OK {
		t.Error("nonzero code must map to OK=false")
	}
	if failed.Code != CodeRequired {
		t.Errorf("expected code %d, got %d", CodeRequired, failed.Code)
	}
	if failed.Detail == "" {
		t.Error("expected non-empty detail for a failing result")
	}
}

func TestSchema_Valid(t *testing.T) {
	res := mustSchema(t).Validate(parse(t, validForm))
	if !res.OK {
		t.Fatalf("expected valid form, got code %d: %s", res.Code, res.Detail)
	}
}

func TestSchema_Failures(t *testing.T) {
	tests := []struct {
		name     string
		xml      string
		wantCode int
		wantText string
	}{
		{
			name:     "wrong root",
			xml:      strings.Replace(strings.Replace(validForm, "<form>", "<visit>", 1), "</form>", "</visit>", 1),
			wantCode: CodeStructure,
			wantText: "root element must be <form>",
		},
		{
			name:     "missing patient id",
			xml:      strings.Replace(validForm, "<patient.patient_id>4471</patient.patient_id>", "", 1),
			wantCode: CodeRequired,
			wantText: "required element is missing",
		},
		{
			name:     "empty patient id",
			xml:      strings.Replace(validForm, "4471", "  ", 1),
			wantCode: CodeEmpty,
			wantText: "a value is required",
		},
		{
			name:     "bad concept",
			xml:      strings.Replace(validForm, "1234^COUGH^99DCT", "COUGH", 1),
			wantCode: CodeConcept,
			wantText: "is not a coded concept",
		},
		{
			name:     "bad date",
			xml:      strings.Replace(validForm, "2026-03-02", "March 2", 1),
			wantCode: CodePattern,
			wantText: "encounter date must be YYYY-MM-DD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustSchema(t).Validate(parse(t, tt.xml))
			if res.OK {
				t.Fatal("expected validation failure")
			}
			if res.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d (%s)", tt.wantCode, res.Code, res.Detail)
			}
			if !strings.Contains(res.Detail, tt.wantText) {
				t.Errorf("expected detail to contain %q, got %q", tt.wantText, res.Detail)
			}
		})
	}
}

func TestSchema_CollectsAllIssues(t *testing.T) {
	xml := strings.Replace(validForm, "4471", "", 1)
	xml = strings.Replace(xml, "1234^COUGH^99DCT", "COUGH", 1)

	res := mustSchema(t).Validate(parse(t, xml))

	got := make([]int, 0, len(res.Issues))
	for _, is := range res.Issues {
		got = append(got, is.Code)
	}
	if diff := cmp.Diff([]int{CodeEmpty, CodeConcept}, got); diff != "" {
		t.Errorf("issue codes mismatch (-want +got):\n%s", diff)
	}
	if res.Code != CodeEmpty {
		t.Errorf("expected first issue code to lead, got %d", res.Code)
	}
}

func TestDefaultSchema(t *testing.T) {
	res := DefaultSchema().Validate(parse(t, `<form><obs><x openmrs_concept="12^X"/></obs></form>`))
	if !res.OK {
		t.Errorf("expected default schema to accept form, got %s", res.Detail)
	}
}

func TestParseSchema_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "required: [path"},
		{"bad regex", "patterns:\n  - path: //a\n    regex: '('\n"},
		{"pattern without path", "patterns:\n  - regex: 'a'\n"},
		{"required without path", "required:\n  - nonEmpty: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSchema([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(schemaYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSchema(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []RequiredRule{
		{Path: "//patient/patient.patient_id", NonEmpty: true},
		{Path: "//encounter/encounter.encounter_datetime"},
	}
	if diff := cmp.Diff(want, s.Required); diff != "" {
		t.Errorf("required rules mismatch (-want +got):\n%s", diff)
	}
	if got := s.Patterns[0].Message; got != "encounter date must be YYYY-MM-DD" {
		t.Errorf("unexpected pattern message %q", got)
	}
}

func TestFunc(t *testing.T) {
	var v Validator = Func(func(*document.Document) Result {
		return NewResult([]Issue{{Code: 42, Message: "custom"}})
	})
	res := v.Validate(parse(t, validForm))
	if res.OK || res.Code != 42 || res.Detail != "custom" {
		t.Errorf("unexpected result %+v", res)
	}
}
