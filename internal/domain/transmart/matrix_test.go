package transmart

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ehr/warehouse/internal/platform/failure"
)

func decodePage(t *testing.T, page string) []Record {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(page))
	dec.UseNumber()
	var out []Record
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return out
}

const samplePage = `[
	{"PATIENT_NUM": 1, "CONCEPT_PATH": "\\A\\B\\", "VALUE": "x", "sex_cd": "F"},
	{"PATIENT_NUM": "2", "CONCEPT_PATH": "\\A\\B\\", "VALUE": "y"},
	{"PATIENT_NUM": 1, "CONCEPT_PATH": "\\C\\D\\", "VALUE": 7.5}
]`

func TestFactMatrix_Fold(t *testing.T) {
	m := NewFactMatrix(FieldPatientNum, []string{"sex_cd"})
	if err := m.Fold(decodePage(t, samplePage)); err != nil {
		t.Fatalf("fold: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 pivot keys, got %d", m.Len())
	}
	if keys := m.Keys(); keys[0] != "1" || keys[1] != "2" {
		t.Errorf("expected first-seen order, got %v", keys)
	}
	row, _ := m.Row("1")
	if row[`\A\B\`] != "x" || row[`\C\D\`] != "7.5" || row["sex_cd"] != "F" {
		t.Errorf("unexpected row %v", row)
	}
	row, _ = m.Row("2")
	if _, ok := row["sex_cd"]; ok {
		t.Error("absent additional field must not be set")
	}
}

// Folding the same page twice overwrites values instead of adding rows.
// Duplicate facts for one field keep only the last value seen.
func TestFactMatrix_FoldTwiceLastWriteWins(t *testing.T) {
	m := NewFactMatrix(FieldPatientNum, nil)
	page := decodePage(t, samplePage)
	if err := m.Fold(page); err != nil {
		t.Fatalf("fold: %v", err)
	}
	if err := m.Fold(page); err != nil {
		t.Fatalf("second fold: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("row count changed after re-fold: %d", m.Len())
	}

	if err := m.Fold(decodePage(t, `[{"PATIENT_NUM": 1, "CONCEPT_PATH": "\\A\\B\\", "VALUE": "z"}]`)); err != nil {
		t.Fatalf("fold: %v", err)
	}
	row, _ := m.Row("1")
	if row[`\A\B\`] != "z" {
		t.Errorf("expected last write to win, got %q", row[`\A\B\`])
	}
}

func TestFactMatrix_EncounterPivot(t *testing.T) {
	m := NewFactMatrix(FieldEncounterNum, []string{FieldPatientNum})
	page := decodePage(t, `[
		{"PATIENT_NUM": 1, "ENCOUNTER_NUM": 10, "CONCEPT_PATH": "\\A\\", "VALUE": "a"},
		{"PATIENT_NUM": 1, "ENCOUNTER_NUM": 11, "CONCEPT_PATH": "\\A\\", "VALUE": "b"}
	]`)
	if err := m.Fold(page); err != nil {
		t.Fatalf("fold: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected one row per encounter, got %d", m.Len())
	}
	row, _ := m.Row("11")
	if row[FieldPatientNum] != "1" || row[`\A\`] != "b" {
		t.Errorf("unexpected encounter row %v", row)
	}
}

func TestFactMatrix_MissingPivot(t *testing.T) {
	m := NewFactMatrix(FieldPatientNum, nil)
	err := m.Fold(decodePage(t, `[{"PATIENT_NUM": 1, "CONCEPT_PATH": "\\A\\", "VALUE": "a"}, {"CONCEPT_PATH": "\\A\\", "VALUE": "b"}]`))
	if !failure.Is(err, failure.Protocol) {
		t.Fatalf("expected protocol failure, got %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("records before the bad one should stay folded, got %d", m.Len())
	}
}

func TestFactMatrix_NullAndMissingValues(t *testing.T) {
	m := NewFactMatrix(FieldPatientNum, []string{"age"})
	err := m.Fold(decodePage(t, `[{"PATIENT_NUM": 1, "VALUE": "orphan", "age": null}, {"PATIENT_NUM": 1, "CONCEPT_PATH": "\\A\\", "VALUE": null}]`))
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	row, ok := m.Row("1")
	if !ok {
		t.Fatal("expected row for pivot 1")
	}
	if len(row) != 0 {
		t.Errorf("expected no fields, got %v", row)
	}
}
