package result

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/tabular"
)

// Export formats for result data.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const sheetName = "results"

func header(rs *tabular.ResultSet) []string {
	cols := rs.Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// WriteCSV writes rs as CSV with a header row.
func WriteCSV(w io.Writer, rs *tabular.ResultSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(rs)); err != nil {
		return err
	}
	if err := cw.WriteAll(rs.Values()); err != nil {
		return failure.Wrapf(err, "write csv rows")
	}
	return nil
}

// WriteXLSX writes rs as a single-sheet workbook. INTEGER and FLOAT cells
// that parse as numbers are stored as numbers.
func WriteXLSX(w io.Writer, rs *tabular.ResultSet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return failure.Wrapf(err, "name sheet")
	}
	cols := rs.Columns()
	head := header(rs)
	if err := f.SetSheetRow(sheetName, "A1", &head); err != nil {
		return failure.Wrapf(err, "write header")
	}
	for i, values := range rs.Values() {
		row := make([]interface{}, len(values))
		for j, v := range values {
			row[j] = cellValue(cols[j].DataType, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return failure.Wrapf(err, "write row %d", i+1)
		}
	}
	return f.Write(w)
}

func cellValue(dt tabular.DataType, v string) interface{} {
	switch dt {
	case tabular.Integer:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case tabular.Float:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return v
}
