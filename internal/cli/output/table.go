package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter formats output as human-readable text.
type TableFormatter struct {
	NoColor   bool // Disable ANSI colors
	Unicode   bool // Use Unicode box-drawing characters
	Condensed bool // Simplified output for non-TTY
}

// Format renders a Texter with its own text, a string slice one item per
// line and anything else with %v.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	switch v := data.(type) {
	case nil:
		return "", nil
	case Texter:
		return v.Text(), nil
	case []string:
		return strings.Join(v, "\n"), nil
	default:
		return fmt.Sprintf("%v", data), nil
	}
}

// FormatError renders an error in human-readable format.
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer

	if f.Condensed || !f.isTTY() {
		buf.WriteString(fmt.Sprintf("Error: %s\n", err.Message))
		if err.Guidance != "" {
			buf.WriteString(fmt.Sprintf("  Guidance: %s\n", err.Guidance))
		}
		if err.RecoveryCommand != "" {
			buf.WriteString(fmt.Sprintf("  Try: %s\n", err.RecoveryCommand))
		}
		return buf.String(), nil
	}

	rule := strings.Repeat("━", 60) + "\n"
	buf.WriteString(rule)
	buf.WriteString(fmt.Sprintf("Error [%s]\n", err.Code))
	buf.WriteString(rule)
	buf.WriteString(fmt.Sprintf("\n%s\n", err.Message))
	if err.Guidance != "" {
		buf.WriteString(fmt.Sprintf("\n%s\n", err.Guidance))
	}
	if err.RecoveryCommand != "" {
		buf.WriteString(fmt.Sprintf("\nTry: %s\n", err.RecoveryCommand))
	}
	buf.WriteString("\n" + rule)

	return buf.String(), nil
}

// FormatTable renders tabular data with headers and alignment.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fancy := f.Unicode && !f.Condensed && f.isTTY()
	if fancy {
		fmt.Fprintln(w, strings.Repeat("━", 80))
	}

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	if fancy {
		separators := make([]string, len(headers))
		for i := range separators {
			separators[i] = strings.Repeat("─", len(headers[i])+2)
		}
		fmt.Fprintln(w, strings.Join(separators, "\t"))
	}

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// isTTY checks if stdout is a terminal.
func (f *TableFormatter) isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
