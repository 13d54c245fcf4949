package tabular

import (
	"bytes"
	"fmt"
	"io"

	"github.com/extrame/xls"
)

func readXLS(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read xls: %w", err)
	}

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("invalid xls: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, ErrMissingHeader
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrMissingHeader
	}

	headerRow := sheet.Row(0)
	if headerRow == nil {
		return nil, ErrMissingHeader
	}
	header := make([]string, headerRow.LastCol())
	for c := range header {
		header[c] = headerRow.Col(c)
	}

	var records [][]any
	for i := 1; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			records = append(records, nil)
			continue
		}
		values := make([]any, row.LastCol())
		for c := range values {
			if cell := row.Col(c); cell != "" {
				values[c] = cell
			}
		}
		records = append(records, values)
	}

	return build(header, records)
}
