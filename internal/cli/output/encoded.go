package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// EncodedFormatter renders everything, tables and errors included, through
// one data encoding. Tables become a list of header -> cell objects.
type EncodedFormatter struct {
	Name    string
	marshal func(v interface{}) ([]byte, error)
}

// NewJSONFormatter encodes as JSON, indented with two spaces when indent is set.
func NewJSONFormatter(indent bool) *EncodedFormatter {
	marshal := json.Marshal
	if indent {
		marshal = func(v interface{}) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	return &EncodedFormatter{Name: FormatJSON, marshal: marshal}
}

// NewYAMLFormatter encodes as YAML.
func NewYAMLFormatter() *EncodedFormatter {
	return &EncodedFormatter{Name: FormatYAML, marshal: yaml.Marshal}
}

func (f *EncodedFormatter) Format(data interface{}) (string, error) {
	out, err := f.marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *EncodedFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

// FormatTable pads short rows with empty cells.
func (f *EncodedFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	objects := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		objects = append(objects, obj)
	}
	return f.Format(objects)
}
