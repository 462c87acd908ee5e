package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"docetl/transform"
	"docetl/types"
)

type readOptions struct {
	verbatim bool
}

type ReadOption func(*readOptions)

// VerbatimHeader keeps header names exactly as written. Transformed files
// carry target column names whose case must survive the round trip.
func VerbatimHeader() ReadOption {
	return func(o *readOptions) { o.verbatim = true }
}

// ReadCSVFile reads a dataset written by WriteCSV.
func ReadCSVFile(path string, opts ...ReadOption) (*types.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, opts...)
}

// ReadCSV reads a header row plus records. Header names are normalized unless
// VerbatimHeader is given; empty cells are read as null.
func ReadCSV(r io.Reader, opts ...ReadOption) (*types.Dataset, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read dataset: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}

	d := &types.Dataset{Columns: make([]string, len(header))}
	for i, h := range header {
		if o.verbatim {
			d.Columns[i] = strings.TrimSpace(h)
		} else {
			d.Columns[i] = types.NormalizeColumnName(h)
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		row := make([]any, len(header))
		for i := range row {
			if i < len(rec) && rec[i] != "" {
				row[i] = rec[i]
			}
		}
		d.Rows = append(d.Rows, row)
	}
	return d, nil
}

// WriteCSV writes d with its header. Dates use transform.DateLayout and nulls
// are written as empty cells.
func WriteCSV(w io.Writer, d *types.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(d.Columns); err != nil {
		return err
	}
	rec := make([]string, len(d.Columns))
	for _, row := range d.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = transform.FormatValue(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
