package table

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/l7mp/deltatable/pkg/scalar"
)

// AppendJSONRows decodes a JSON array of row objects and appends the rows.
// Missing cells append invalid; keys not present in the table are ignored.
// Numeric JSON values are coerced to the column dtype.
func (t *Table) AppendJSONRows(data []byte) error {
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to decode row fragments: %w", err)
	}
	base := t.nrows
	t.SetNumRows(base + len(rows))
	for r, row := range rows {
		for _, name := range t.names {
			c := t.cols[name]
			v, ok := row[name]
			if !ok || v == nil {
				c.SetValid(base+r, false)
				continue
			}
			s, err := coerce(c.DType(), v)
			if err != nil {
				return fmt.Errorf("row %d, column %q: %w", r, name, err)
			}
			c.SetScalar(base+r, s)
		}
	}
	return nil
}

// MarshalJSON renders the table as a JSON array of row objects, with null
// for invalid cells.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := make([]map[string]any, t.nrows)
	for i := 0; i < t.nrows; i++ {
		row := make(map[string]any, len(t.names))
		for _, name := range t.names {
			c := t.cols[name]
			if !c.IsValid(i) {
				row[name] = nil
				continue
			}
			switch c.DType().Classify() {
			case scalar.ClassInt:
				row[name] = c.Int(i)
			case scalar.ClassUint:
				if c.DType() == scalar.DTypeStr {
					row[name] = c.Str(i)
				} else {
					row[name] = c.Uint(i)
				}
			case scalar.ClassFloat:
				row[name] = c.Float(i)
			default:
				row[name] = c.Bool(i)
			}
		}
		rows[i] = row
	}
	return json.Marshal(rows)
}

func coerce(d scalar.DType, v any) (scalar.Scalar, error) {
	switch d.Classify() {
	case scalar.ClassInt:
		f, ok := v.(float64)
		if !ok {
			return scalar.Scalar{}, fmt.Errorf("expected number for %s, got %T", d, v)
		}
		return scalar.NewInt(d, int64(f)), nil
	case scalar.ClassUint:
		if d == scalar.DTypeStr {
			s, ok := v.(string)
			if !ok {
				return scalar.Scalar{}, fmt.Errorf("expected string, got %T", v)
			}
			return scalar.NewStr(s), nil
		}
		f, ok := v.(float64)
		if !ok {
			return scalar.Scalar{}, fmt.Errorf("expected number for %s, got %T", d, v)
		}
		return scalar.NewUint(d, uint64(f)), nil
	case scalar.ClassFloat:
		f, ok := v.(float64)
		if !ok {
			return scalar.Scalar{}, fmt.Errorf("expected number for %s, got %T", d, v)
		}
		return scalar.NewFloat(d, f), nil
	default:
		b, ok := v.(bool)
		if !ok {
			return scalar.Scalar{}, fmt.Errorf("expected bool, got %T", v)
		}
		return scalar.NewBool(b), nil
	}
}
