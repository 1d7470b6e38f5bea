package output

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by result types that can render themselves
// as rows under fixed column headers.
type TableRenderer interface {
	// Headers returns the column headers for the table.
	Headers() []string
	// Rows returns the data rows for the table.
	Rows() [][]string
}

// borderless returns a table writer configured for plain aligned columns,
// no borders or row separators.
func borderless(w io.Writer, colSep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(colSep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// sanitizeCell flattens embedded tabs and newlines so a cell cannot break
// row alignment, and renders empty cells as a placeholder.
func sanitizeCell(c string) string {
	c = strings.ReplaceAll(c, "\t", " ")
	c = strings.ReplaceAll(c, "\n", " ")
	if c == "" {
		return "-"
	}
	return c
}

// PrintTable writes data as aligned columns to the writer.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := borderless(w, "")
	table.SetHeader(data.Headers())

	for _, row := range data.Rows() {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = sanitizeCell(c)
		}
		table.Append(cells)
	}

	table.Render()
	return nil
}

// TableData is a simple implementation of TableRenderer for ad-hoc tables.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a new TableData with the given headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{
		headers: headers,
		rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Headers implements TableRenderer.
func (t *TableData) Headers() []string {
	return t.headers
}

// Rows implements TableRenderer.
func (t *TableData) Rows() [][]string {
	return t.rows
}

// SimpleTable prints key-value pairs as two aligned columns.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	table := borderless(w, ":")
	for _, pair := range pairs {
		table.Append([]string{pair[0], sanitizeCell(pair[1])})
	}
	table.Render()
	return nil
}
