package output

import (
	"fmt"
	"io"
	"strings"
)

// PrintTSV writes data as tab-separated values to the writer.
// The header row is emitted first, lowercased, followed by one line per row.
// Cells pass through sanitizeCell, so embedded tabs and newlines cannot
// split a record and empty cells keep their column visible.
func PrintTSV(w io.Writer, data TableRenderer) error {
	headers := make([]string, len(data.Headers()))
	for i, h := range data.Headers() {
		headers[i] = strings.ToLower(strings.ReplaceAll(h, " ", "_"))
	}
	if _, err := fmt.Fprintln(w, strings.Join(headers, "\t")); err != nil {
		return err
	}

	for _, row := range data.Rows() {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = sanitizeCell(c)
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}
