package transmart

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ehr/warehouse/internal/platform/failure"
)

// Fact record fields returned by the extraction endpoint.
const (
	FieldPatientNum   = "PATIENT_NUM"
	FieldEncounterNum = "ENCOUNTER_NUM"
	FieldConceptPath  = "CONCEPT_PATH"
	FieldValue        = "VALUE"
)

// Record is one decoded fact record. Numbers are json.Number.
type Record map[string]interface{}

// FactMatrix accumulates fact records into rows keyed by a pivot value
// (patient or encounter). Rows and the fields inside them keep first-seen
// order; a later value for the same field replaces the earlier one.
//
// Taken keys stay in order as tombstones; a row is live while rows still
// maps its key to the row whose seq is that position.
type FactMatrix struct {
	pivot      string
	additional []string
	order      []string
	rows       map[string]*factRow
}

type factRow struct {
	seq    int
	fields []string
	values map[string]string
}

func (r *factRow) set(field, value string) {
	if _, ok := r.values[field]; !ok {
		r.fields = append(r.fields, field)
	}
	r.values[field] = value
}

// NewFactMatrix returns an empty matrix pivoting on pivot. additional lists
// the flat fields copied from a record into its row when present.
func NewFactMatrix(pivot string, additional []string) *FactMatrix {
	return &FactMatrix{
		pivot:      pivot,
		additional: additional,
		rows:       make(map[string]*factRow),
	}
}

// Pivot is the field rows are keyed by.
func (m *FactMatrix) Pivot() string { return m.pivot }

// Len is the number of pivot keys held.
func (m *FactMatrix) Len() int { return len(m.rows) }

// Keys returns the pivot keys in first-seen order.
func (m *FactMatrix) Keys() []string {
	keys := make([]string, 0, len(m.rows))
	for i, k := range m.order {
		if r, ok := m.rows[k]; ok && r.seq == i {
			keys = append(keys, k)
		}
	}
	return keys
}

// Row returns a copy of the fields held for key.
func (m *FactMatrix) Row(key string) (map[string]string, bool) {
	r, ok := m.rows[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, true
}

// Fold adds a page of records. Each record sets row[CONCEPT_PATH] = VALUE
// under its pivot key plus every additional field it carries. A record
// without the pivot field is a protocol failure; records before it stay
// folded.
func (m *FactMatrix) Fold(records []Record) error {
	for i, rec := range records {
		key, ok := stringValue(rec[m.pivot])
		if !ok || key == "" {
			return failure.Protocolf(nil, "fact record %d has no %s", i, m.pivot)
		}
		row, ok := m.rows[key]
		if !ok {
			row = &factRow{seq: len(m.order), values: make(map[string]string)}
			m.rows[key] = row
			m.order = append(m.order, key)
		}

		if path, ok := stringValue(rec[FieldConceptPath]); ok && path != "" {
			if value, ok := stringValue(rec[FieldValue]); ok {
				row.set(path, value)
			}
		}
		for _, field := range m.additional {
			if value, ok := stringValue(rec[field]); ok {
				row.set(field, value)
			}
		}
	}
	return nil
}

// take removes key and returns its row. Once the last key is taken the
// order is reset so a drained matrix holds no tombstones.
func (m *FactMatrix) take(key string) (*factRow, bool) {
	r, ok := m.rows[key]
	if !ok {
		return nil, false
	}
	delete(m.rows, key)
	if len(m.rows) == 0 {
		m.order = m.order[:0]
	}
	return r, true
}

// stringValue renders a JSON scalar as text. Missing and null values report
// false.
func stringValue(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return fmt.Sprint(x), true
	}
}
