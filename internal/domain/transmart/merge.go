package transmart

import (
	"fmt"

	"github.com/ehr/warehouse/pkg/tabular"
)

// MergeStats counts the rows touched by one commit.
type MergeStats struct {
	Updated  int
	Appended int
}

// Commit applies m to rs. Rows whose pivot column matches a matrix key are
// updated first, then the keys left over are appended as new rows in the
// order they were first seen. Every applied key is consumed, so m is empty
// afterwards and committing it again changes nothing.
//
// A field is written to the column named by aliases[field], or to the column
// named field when there is no alias. Columns that do not exist yet are
// appended as STRING.
func Commit(rs *tabular.ResultSet, m *FactMatrix, aliases map[string]string) (MergeStats, error) {
	var stats MergeStats
	pivot := m.Pivot()
	if !rs.HasColumn(pivot) {
		if err := rs.AppendColumn(tabular.Column{Name: pivot, DataType: tabular.String}); err != nil {
			return stats, err
		}
	}

	rs.BeforeFirst()
	for rs.Next() {
		if m.Len() == 0 {
			break
		}
		key, err := rs.GetString(pivot)
		if err != nil {
			return stats, err
		}
		row, ok := m.take(key)
		if !ok {
			continue
		}
		if err := apply(rs, row, aliases); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	for _, key := range m.Keys() {
		row, _ := m.take(key)
		rs.AppendRow()
		if err := rs.UpdateString(pivot, key); err != nil {
			return stats, err
		}
		if err := apply(rs, row, aliases); err != nil {
			return stats, err
		}
		stats.Appended++
	}
	return stats, nil
}

func apply(rs *tabular.ResultSet, row *factRow, aliases map[string]string) error {
	for _, field := range row.fields {
		column := field
		if alias, ok := aliases[field]; ok && alias != "" {
			column = alias
		}
		if !rs.HasColumn(column) {
			if err := rs.AppendColumn(tabular.Column{Name: column, DataType: tabular.String}); err != nil {
				return err
			}
		}
		if err := rs.UpdateString(column, row.values[field]); err != nil {
			return fmt.Errorf("set %s: %w", column, err)
		}
	}
	return nil
}
