package table

import (
	"fmt"

	"github.com/l7mp/deltatable/pkg/scalar"
)

// Reserved column names present on every input and master table.
const (
	PKeyColumn = "psp_pkey"
	OpColumn   = "psp_op"
)

// Operation codes carried in the psp_op column.
const (
	OpInsert uint8 = 0
	OpDelete uint8 = 1
)

// Schema is an ordered sequence of (name, dtype) pairs with unique names.
type Schema struct {
	names  []string
	dtypes map[string]scalar.DType
}

func NewSchema() *Schema {
	return &Schema{dtypes: make(map[string]scalar.DType)}
}

// Add appends a column to the schema. Duplicate names are a programmer
// error. Add returns the schema for chaining.
func (s *Schema) Add(name string, d scalar.DType) *Schema {
	if _, ok := s.dtypes[name]; ok {
		panic(fmt.Sprintf("schema: duplicate column %q", name))
	}
	s.names = append(s.names, name)
	s.dtypes[name] = d
	return s
}

// Columns returns the column names in declaration order.
func (s *Schema) Columns() []string { return s.names }

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.names) }

// Has reports whether the schema contains name.
func (s *Schema) Has(name string) bool {
	_, ok := s.dtypes[name]
	return ok
}

// DType returns the dtype of name. Unknown names are a programmer error.
func (s *Schema) DType(name string) scalar.DType {
	d, ok := s.dtypes[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown column %q", name))
	}
	return d
}

// Retype replaces the dtype of an existing column, used by column promotion.
func (s *Schema) Retype(name string, d scalar.DType) {
	if _, ok := s.dtypes[name]; !ok {
		panic(fmt.Sprintf("schema: unknown column %q", name))
	}
	s.dtypes[name] = d
}

// Clone returns an independent copy of the schema.
func (s *Schema) Clone() *Schema {
	out := NewSchema()
	for _, n := range s.names {
		out.Add(n, s.dtypes[n])
	}
	return out
}

func (s *Schema) String() string {
	str := "schema{"
	for i, n := range s.names {
		if i > 0 {
			str += ", "
		}
		str += fmt.Sprintf("%s: %s", n, s.dtypes[n])
	}
	return str + "}"
}
