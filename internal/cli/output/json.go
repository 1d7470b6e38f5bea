package output

import (
	"encoding/json"
	"io"
)

// newEncoder returns an encoder without HTML escaping; output goes to a
// terminal or a pipe, not a browser.
func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// PrintJSON writes data as indented JSON to the writer.
func PrintJSON(w io.Writer, data any) error {
	enc := newEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintJSONCompact writes data as single-line JSON to the writer.
func PrintJSONCompact(w io.Writer, data any) error {
	return newEncoder(w).Encode(data)
}
