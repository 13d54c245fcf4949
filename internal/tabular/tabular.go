// Package tabular reads spreadsheet-like uploads into header-keyed rows and
// writes CSV artifacts.
package tabular

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file extensions other than
	// .csv, .xlsx and .xls.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrMissingHeader is returned when the input has no header row.
	ErrMissingHeader = errors.New("missing header row")
)

// Table is a parsed input file. Rows keep file order; a cell that is empty
// in the source is nil.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row is one data row. Index is its 0-based position below the header in
// the source, so rows with every cell empty still hold their place.
type Row struct {
	Index  int
	Values map[string]any
}

// Format identifies a supported input format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
}

// Read parses r according to the extension of filename.
func Read(filename string, r io.Reader) (t *Table, err error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	// Spreadsheet decoders may panic on malformed input.
	defer func() {
		if p := recover(); p != nil {
			t, err = nil, fmt.Errorf("malformed %s file: %v", format, p)
		}
	}()

	switch format {
	case FormatCSV:
		return readCSV(r)
	case FormatXLSX:
		return readXLSX(r)
	default:
		return readXLS(r)
	}
}

// build turns a header and raw records into a Table. Header cells are
// trimmed; blank and duplicate names are made unique. Blank records are kept
// except at the end of the input.
func build(header []string, records [][]any) (*Table, error) {
	if len(header) == 0 || allBlank(header) {
		return nil, ErrMissingHeader
	}
	for len(records) > 0 && blankRecord(records[len(records)-1]) {
		records = records[:len(records)-1]
	}

	columns := uniqueColumns(header)
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if len(rec) > len(columns) {
			for _, extra := range rec[len(columns):] {
				if extra != nil {
					return nil, fmt.Errorf("row %d has %d fields, header has %d", i+1, len(rec), len(columns))
				}
			}
		}
		row := make(map[string]any, len(columns))
		for c, name := range columns {
			if c < len(rec) {
				row[name] = rec[c]
			} else {
				row[name] = nil
			}
		}
		rows = append(rows, Row{Index: i, Values: row})
	}
	return &Table{Columns: columns, Rows: rows}, nil
}

func uniqueColumns(header []string) []string {
	columns := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		candidate := name
		for n := 1; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s.%d", name, n)
		}
		used[candidate] = true
		columns[i] = candidate
	}
	return columns
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func blankRecord(rec []any) bool {
	for _, v := range rec {
		if v != nil {
			return false
		}
	}
	return true
}
