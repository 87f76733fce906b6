// Package jsonutil prints structs as colored "Name: value" lines for the command line.
package jsonutil

import (
	"bytes"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

func newFormatter(color bool) *prettyjson.Formatter {
	f := prettyjson.NewFormatter()
	f.Indent = 0
	f.Newline = ""
	f.DisabledColor = !color
	return f
}

// MarshalFields formats each exported field of struct v as a line of its name and its compact JSON value.
// Lines are in field declaration order. Fields tagged with `structs:"-"` are skipped.
func MarshalFields(v interface{}, color bool) ([]byte, error) {
	f := newFormatter(color)
	var buf bytes.Buffer
	for _, field := range structs.Fields(v) {
		if !field.IsExported() || field.Tag("structs") == "-" {
			continue
		}
		b, err := f.Marshal(field.Value())
		if err != nil {
			return nil, err
		}
		name := field.Tag("structs")
		if name == "" {
			name = field.Name()
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
