package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each sheet as tab-separated rows, dropping blank rows and
// trailing empty cells. Workbooks with more than one sheet get a "# name" line before
// each non-empty sheet.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var buf strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		wroteHeader := false
		for _, row := range rows {
			row = trimRow(row)
			if len(row) == 0 {
				continue
			}
			if len(sheets) > 1 && !wroteHeader {
				fmt.Fprintf(&buf, "# %s\n", sheet)
				wroteHeader = true
			}
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
