// Package report renders the most shared URLs as a terminal table or an
// Excel workbook.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/loopy/internal/timeline"
)

const (
	// MaxURLWidth bounds the URL column of the terminal table, in display cells.
	MaxURLWidth = 96
	sheetName   = "Top URLs"
)

var headers = []string{"Rank", "Count", "URL"}

// WriteTable writes counts as an aligned, pipe-delimited table. Widths are
// measured in display cells so wide runes line up.
func WriteTable(w io.Writer, counts []timeline.URLCount) error {
	rows := make([][]string, 0, len(counts)+1)
	rows = append(rows, headers)
	for i, c := range counts {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(c.Count, 10),
			runewidth.Truncate(c.Key, MaxURLWidth, "..."),
		})
	}

	widths := make([]int, len(headers))
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	var sb strings.Builder
	for r, row := range rows {
		sb.WriteString("|")
		for i, cell := range row {
			sb.WriteString(" ")
			// Numeric columns are right aligned.
			if i < 2 && r > 0 {
				sb.WriteString(runewidth.FillLeft(cell, widths[i]))
			} else {
				sb.WriteString(runewidth.FillRight(cell, widths[i]))
			}
			sb.WriteString(" |")
		}
		sb.WriteString("\n")
		if r == 0 {
			sb.WriteString("|")
			for _, width := range widths {
				sb.WriteString(strings.Repeat("-", width+2))
				sb.WriteString("|")
			}
			sb.WriteString("\n")
		}
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

// WriteXLSX saves counts to an Excel workbook at path with a header row, a
// frozen pane, and the generation time in a metadata sheet.
func WriteXLSX(path string, counts []timeline.URLCount, generated time.Time) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
	}

	for i, c := range counts {
		row := i + 2
		values := []any{i + 1, c.Count, c.Key}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("row cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	if err := f.SetColWidth(sheetName, "A", "B", 10); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "C", "C", 80); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet("Metadata"); err != nil {
		return fmt.Errorf("create metadata sheet: %w", err)
	}
	meta := [][2]any{
		{"Generated", generated.UTC().Format(time.RFC3339)},
		{"Rows", len(counts)},
	}
	for i, kv := range meta {
		if err := f.SetCellValue("Metadata", fmt.Sprintf("A%d", i+1), kv[0]); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		if err := f.SetCellValue("Metadata", fmt.Sprintf("B%d", i+1), kv[1]); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
