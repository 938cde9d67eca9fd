package roweditor

import (
	"errors"
	"testing"

	"github.com/beevik/etree"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/formentry/internal/form/document"
)

const problemForm = `<form>
  <problem_list>
    <problem_added><value>1234^COUGH^99DCT</value></problem_added>
    <problem_added><value>5678^FEVER^99DCT</value></problem_added>
    <problem_added><value>910^RASH^99DCT</value></problem_added>
    <problem_resolved><value>42^MALARIA^99DCT</value></problem_resolved>
  </problem_list>
  <orders>
    <order_row><drug>ASPIRIN</drug></order_row>
  </orders>
</form>`

func setup(t *testing.T) (*document.Document, *Editor) {
	t.Helper()
	doc, err := document.ParseString(problemForm)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc, New(doc, zerolog.Nop())
}

func values(t *testing.T, doc *document.Document, path string) []string {
	t.Helper()
	nodes, err := doc.SelectNodes(nil, path)
	if err != nil {
		t.Fatalf("select %s: %v", path, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, doc.Text(n))
	}
	return out
}

func node(t *testing.T, doc *document.Document, path string) *etree.Element {
	t.Helper()
	n, err := doc.SelectSingleNode(nil, path)
	if err != nil || n == nil {
		t.Fatalf("select %s: node=%v err=%v", path, n, err)
	}
	return n
}

func TestDeleteRow(t *testing.T) {
	doc, ed := setup(t)
	row := node(t, doc, "//orders/order_row")

	if err := ed.DeleteRow(row); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := doc.SelectSingleNode(nil, "//orders/order_row"); n != nil {
		t.Error("expected row to be removed")
	}
}

func TestDeleteRow_Detached(t *testing.T) {
	_, ed := setup(t)
	err := ed.DeleteRow(etree.NewElement("order_row"))
	if !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached, got %v", err)
	}
}

func TestDeleteNewProblem_RemovesTargetedEntry(t *testing.T) {
	doc, ed := setup(t)
	entries, _ := doc.SelectNodes(nil, "//problem_list/problem_added")
	target := entries[1]

	if err := ed.DeleteNewProblem(target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining, _ := doc.SelectNodes(nil, "//problem_list/problem_added")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(remaining))
	}
	for _, r := range remaining {
		if r == target {
			t.Error("targeted entry is still attached")
		}
	}
	if remaining[0] != entries[0] || remaining[1] != entries[2] {
		t.Error("expected the untouched entries to keep their identity")
	}
	if doc.Parent(target) != nil {
		t.Error("expected removed entry to be detached")
	}
}

func TestDeleteResolvedProblem_LastEntryCleared(t *testing.T) {
	doc, ed := setup(t)
	last := node(t, doc, "//problem_list/problem_resolved")

	if err := ed.DeleteResolvedProblem(last); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, _ := doc.SelectNodes(nil, "//problem_list/problem_resolved")
	if len(entries) != 1 || entries[0] != last {
		t.Fatalf("expected the last entry to remain, got %d entries", len(entries))
	}
	if diff := cmp.Diff([]string{""}, values(t, doc, "//problem_resolved/value")); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteListEntry_DownToOne(t *testing.T) {
	doc, ed := setup(t)

	for i := 0; i < 3; i++ {
		first := node(t, doc, "//problem_list/problem_added")
		if err := ed.DeleteNewProblem(first); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}

	if diff := cmp.Diff([]string{""}, values(t, doc, "//problem_added/value")); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteListEntry_Detached(t *testing.T) {
	_, ed := setup(t)
	err := ed.DeleteNewProblem(etree.NewElement(ProblemAdded))
	if !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached, got %v", err)
	}
}

func TestDeleteListEntry_LastWithoutValue(t *testing.T) {
	doc, ed := setup(t)
	row := node(t, doc, "//orders/order_row")

	err := ed.DeleteListEntry(row, "order_row")
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddListEntry_AppendsCopy(t *testing.T) {
	doc, ed := setup(t)

	entry, err := ed.AddListEntry("//problem_list", ProblemAdded, "77^HEADACHE^99DCT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Tag != ProblemAdded {
		t.Errorf("expected <%s>, got <%s>", ProblemAdded, entry.Tag)
	}

	want := []string{"1234^COUGH^99DCT", "5678^FEVER^99DCT", "910^RASH^99DCT", "77^HEADACHE^99DCT"}
	if diff := cmp.Diff(want, values(t, doc, "//problem_added/value")); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestAddListEntry_FillsClearedEntry(t *testing.T) {
	doc, ed := setup(t)
	if err := ed.DeleteResolvedProblem(node(t, doc, "//problem_resolved")); err != nil {
		t.Fatal(err)
	}

	if _, err := ed.AddListEntry("//problem_list", ProblemResolved, "8^TB^99DCT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"8^TB^99DCT"}, values(t, doc, "//problem_resolved/value")); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestAddListEntry_CopyStartsEmpty(t *testing.T) {
	doc, err := document.ParseString(`<form><problem_list>
  <problem_added><value>1234^COUGH^99DCT</value><onset><date>2020</date></onset></problem_added>
</problem_list></form>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ed := New(doc, zerolog.Nop())

	entry, err := ed.AddListEntry("//problem_list", ProblemAdded, "77^HEADACHE^99DCT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"2020", ""}, values(t, doc, "//problem_added/onset/date")); diff != "" {
		t.Errorf("date mismatch (-want +got):\n%s", diff)
	}
	if v := entry.FindElement("value"); v == nil || v.Text() != "77^HEADACHE^99DCT" {
		t.Errorf("expected new entry to carry the picked value, got %v", v)
	}
}

func TestAddListEntry_MissingSection(t *testing.T) {
	_, ed := setup(t)
	_, err := ed.AddListEntry("//allergies", "allergy", "1^X")
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyPick(t *testing.T) {
	doc, ed := setup(t)

	if err := ed.ApplyPick("//orders/order_row/drug", "IBUPROFEN"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Text(node(t, doc, "//orders/order_row/drug")); got != "IBUPROFEN" {
		t.Errorf("expected IBUPROFEN, got %q", got)
	}

	if err := ed.ApplyPick("//encounter/location", "7"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
