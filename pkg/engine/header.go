// pkg/engine/header.go
package engine

import (
	"strings"

	"tabgate/pkg/apperr"
)

// Column is one parsed header cell. Modifiers appear in square brackets,
// colon-separated, e.g. "id[unique=true]" or "notes[skip=true]".
type Column struct {
	Name   string
	Unique bool
	Skip   bool
}

// ParseHeader parses a comma-separated header with optional modifiers.
func ParseHeader(text string) ([]Column, error) {
	var cols []Column
	for _, cell := range strings.Split(text, ",") {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		col := Column{Name: cell}
		if i := strings.IndexByte(cell, '['); i >= 0 {
			if !strings.HasSuffix(cell, "]") {
				return nil, apperr.New(apperr.ValidationError, "malformed header cell %q", cell)
			}
			col.Name = strings.TrimSpace(cell[:i])
			for _, mod := range strings.Split(cell[i+1:len(cell)-1], ":") {
				k, v, ok := strings.Cut(mod, "=")
				if !ok {
					return nil, apperr.New(apperr.ValidationError, "malformed modifier %q in header cell %q", mod, cell)
				}
				switch strings.TrimSpace(k) {
				case "unique":
					col.Unique = strings.EqualFold(strings.TrimSpace(v), "true")
				case "skip":
					col.Skip = strings.EqualFold(strings.TrimSpace(v), "true")
				}
				// Unknown modifiers pass through untouched; they belong to
				// richer dialects of the header language.
			}
		}
		if col.Name == "" {
			return nil, apperr.New(apperr.ValidationError, "empty column name in header cell %q", cell)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, apperr.New(apperr.ValidationError, "empty header")
	}
	return cols, nil
}

// FormatHeader renders columns back to header text.
func FormatHeader(cols []Column) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		var mods []string
		if c.Unique {
			mods = append(mods, "unique=true")
		}
		if c.Skip {
			mods = append(mods, "skip=true")
		}
		if len(mods) > 0 {
			parts = append(parts, c.Name+"["+strings.Join(mods, ":")+"]")
		} else {
			parts = append(parts, c.Name)
		}
	}
	return strings.Join(parts, ",")
}

func columnNames(cols []Column) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if !c.Skip {
			names = append(names, c.Name)
		}
	}
	return names
}

func keyIndexes(cols []Column) []int {
	var keys []int
	idx := 0
	for _, c := range cols {
		if c.Skip {
			continue
		}
		if c.Unique {
			keys = append(keys, idx)
		}
		idx++
	}
	return keys
}
