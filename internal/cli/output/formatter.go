// Package output renders command results as text, JSON or YAML, and errors
// in a machine-readable shape.
package output

import (
	"fmt"
	"os"
	"strings"
)

// Supported formats. "text" is accepted as an alias of table.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// OutputFormatter formats structured data for CLI output.
// Implementations are stateless and thread-safe.
type OutputFormatter interface {
	// Format converts data to formatted string output.
	Format(data interface{}) (string, error)

	// FormatError converts a structured error to formatted output.
	FormatError(err StructuredError) (string, error)

	// FormatTable formats tabular data with headers.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// Texter is implemented by values with their own plain-text rendering, which
// the table formatter prints as is.
type Texter interface {
	Text() string
}

// NewFormatter creates a formatter for the specified format (case-insensitive).
func NewFormatter(format string) (OutputFormatter, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return NewJSONFormatter(true), nil
	case FormatYAML:
		return NewYAMLFormatter(), nil
	case FormatTable, "text", "":
		return &TableFormatter{
			NoColor: os.Getenv("NO_COLOR") == "1",
			Unicode: true,
		}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: text, json, yaml)", format)
	}
}

// ResolveFormat determines the output format from flags and environment.
// Priority: explicit flag > --json alias > LABBOT_OUTPUT env var > default (table)
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return FormatJSON
	}
	if outputFlag != "" {
		return outputFlag
	}
	if envFormat := os.Getenv("LABBOT_OUTPUT"); envFormat != "" {
		return envFormat
	}
	return FormatTable
}
