package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"docetl/types"
)

// RawTable is the configuration resource as read from disk: a header row and
// string cells. An empty cell is a missing value.
type RawTable struct {
	Header []string
	Rows   [][]string

	sheet string // worksheet name for XLSX resources
}

// Col returns the index of the header matching name case-insensitively, or -1.
func (t *RawTable) Col(name string) int {
	name = types.NormalizeColumnName(name)
	for i, h := range t.Header {
		if types.NormalizeColumnName(h) == name {
			return i
		}
	}
	return -1
}

// Cell returns row[col] or "" when the row is short.
func (t *RawTable) Cell(row, col int) string {
	if col < 0 || row >= len(t.Rows) || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

func (t *RawTable) set(row, col int, v string) {
	for len(t.Rows[row]) <= col {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][col] = v
}

func isExcel(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ReadTableFile reads a CSV or XLSX configuration resource.
func ReadTableFile(path string) (*RawTable, error) {
	if isExcel(path) {
		return readExcel(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "open mapping file", err)
	}
	defer f.Close()
	return ReadTable(f)
}

// ReadTable parses CSV content. Ragged rows are accepted.
func ReadTable(r io.Reader) (*RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "parse mapping csv", err)
	}
	if len(records) == 0 {
		return nil, types.ConfigErrorf("parse mapping csv", "empty file")
	}
	return &RawTable{Header: records[0], Rows: records[1:]}, nil
}

func readExcel(path string) (*RawTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "open mapping workbook", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "read mapping sheet", err)
	}
	if len(rows) == 0 {
		return nil, types.ConfigErrorf("read mapping sheet", "sheet %q is empty", sheet)
	}
	return &RawTable{Header: rows[0], Rows: rows[1:], sheet: sheet}, nil
}

// WriteTableFile writes t back in the format implied by the path extension.
func WriteTableFile(path string, t *RawTable) error {
	if isExcel(path) {
		return writeExcel(path, t)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteTable(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func WriteTable(w io.Writer, t *RawTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeExcel(path string, t *RawTable) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	if sheet != f.GetSheetName(0) {
		if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
			return err
		}
	}

	write := func(r int, cells []string) error {
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		vals := make([]any, len(cells))
		for i, c := range cells {
			vals[i] = c
		}
		return f.SetSheetRow(sheet, cell, &vals)
	}
	if err := write(1, t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := write(i+2, row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
