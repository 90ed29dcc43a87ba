package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xls"} }

func (p *XLSXParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := 0

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		b.WriteString("## ")
		b.WriteString(sheet)
		b.WriteString("\n\n")
		for i, row := range rows {
			b.WriteString("| ")
			b.WriteString(strings.Join(row, " | "))
			b.WriteString(" |\n")
			if i == 0 {
				// Header separator so the sheet reads as a markdown table.
				b.WriteString("|")
				b.WriteString(strings.Repeat(" --- |", len(row)))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		sheets++
	}

	if sheets == 0 {
		return nil, fmt.Errorf("no data found in workbook")
	}

	return &Result{
		Markdown: strings.TrimSpace(b.String()),
		Format:   "xlsx",
		Metadata: map[string]string{"sheets": fmt.Sprintf("%d", sheets)},
	}, nil
}
