package tabular

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

func readXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrMissingHeader
	}
	sheet := sheets[0]

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx sheet %q: %w", sheet, err)
	}
	if len(raw) == 0 {
		return nil, ErrMissingHeader
	}

	conv := &xlsxConverter{f: f, sheet: sheet, dateStyles: make(map[int]bool)}

	var records [][]any
	for r := 1; r < len(raw); r++ {
		values := make([]any, len(raw[r]))
		for c, cell := range raw[r] {
			v, err := conv.value(c+1, r+1, cell)
			if err != nil {
				return nil, err
			}
			values[c] = v
		}
		records = append(records, values)
	}

	return build(raw[0], records)
}

type xlsxConverter struct {
	f          *excelize.File
	sheet      string
	dateStyles map[int]bool
}

// value converts a raw cell to a Go value using the cell type and, for
// numbers, the number format: date-formatted serials become time.Time.
func (x *xlsxConverter) value(col, row int, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}

	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}
	typ, err := x.f.GetCellType(x.sheet, cell)
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", cell, err)
	}

	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula, excelize.CellTypeError:
		return raw, nil
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t, nil
		}
		return raw, nil
	}

	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}

	isDate, err := x.isDateStyle(cell)
	if err != nil {
		return nil, err
	}
	if isDate {
		t, err := excelize.ExcelDateToTime(num, false)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", cell, err)
		}
		return t, nil
	}

	if !strings.ContainsAny(raw, ".eE") {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
	}
	return num, nil
}

func (x *xlsxConverter) isDateStyle(cell string) (bool, error) {
	styleID, err := x.f.GetCellStyle(x.sheet, cell)
	if err != nil {
		return false, fmt.Errorf("cell %s: %w", cell, err)
	}
	if isDate, ok := x.dateStyles[styleID]; ok {
		return isDate, nil
	}

	style, err := x.f.GetStyle(styleID)
	if err != nil {
		return false, fmt.Errorf("cell %s: %w", cell, err)
	}
	isDate := builtinDateFormat(style.NumFmt)
	if style.CustomNumFmt != nil {
		isDate = customDateFormat(*style.CustomNumFmt)
	}
	x.dateStyles[styleID] = isDate
	return isDate, nil
}

// builtinDateFormat reports whether a built-in number format id renders dates.
func builtinDateFormat(id int) bool {
	return (id >= 14 && id <= 22) || (id >= 45 && id <= 47) || (id >= 27 && id <= 36) || (id >= 50 && id <= 58)
}

// customDateFormat reports whether a custom format code renders a date.
// Quoted literals and bracketed sections are ignored; an "m" alone is
// ambiguous with minutes, so a year or day token is required.
func customDateFormat(code string) bool {
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	return strings.ContainsAny(cleaned, "yd")
}
