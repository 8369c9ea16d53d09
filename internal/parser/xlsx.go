package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// XLSXParser extracts spreadsheets as one table block per sheet. Equipment
// lists and cable journals come in as workbooks with a header row followed
// by item rows; empty trailing rows and columns are dropped.
type XLSXParser struct{}

func NewXLSXParser() *XLSXParser { return &XLSXParser{} }

func (p *XLSXParser) Extensions() []string { return []string{".xlsx", ".xlsm", ".xls"} }

// oleMagic is the compound-file signature of the legacy binary .xls format.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func (p *XLSXParser) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return nil, errors.InvalidInput(
			fmt.Sprintf("%s is a legacy binary .xls workbook; save it as .xlsx and re-ingest", name), nil)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("%s is not a valid workbook", name), err)
	}
	defer func() { _ = f.Close() }()

	res := &Result{Method: domain.MethodNative}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("unreadable sheet %q in %s", sheet, name), err)
		}
		cells := trimTable(rows)
		if len(cells) == 0 {
			continue
		}
		res.Blocks = append(res.Blocks, Block{Kind: BlockTable, Cells: cells, Sheet: sheet})
	}
	return res, nil
}

// trimTable drops empty rows and pads rows to a uniform width so downstream
// row hashing sees a rectangular table.
func trimTable(rows [][]string) [][]string {
	width := 0
	var out [][]string
	for _, row := range rows {
		empty := true
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		if len(row) > width {
			width = len(row)
		}
		out = append(out, row)
	}
	for i, row := range out {
		for len(row) < width {
			row = append(row, "")
		}
		out[i] = row
	}
	return out
}
