// Package table implements the data table: a named, ordered set of columns
// sharing a row count, together with the flatten and masked-clone operations
// the update engine is built on.
package table

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/l7mp/deltatable/internal/bitvec"
	"github.com/l7mp/deltatable/pkg/column"
	"github.com/l7mp/deltatable/pkg/scalar"
)

// Table maps column names to typed columns. All columns share the row count.
type Table struct {
	names []string
	cols  map[string]*column.Column
	nrows int

	// Rows that flatten collapsed from a delete-then-insert run on the same
	// primary key. Scratch metadata: not part of the table's data, dropped
	// by Clear and carried through Clone.
	reinserted *bitvec.Vector
}

// New creates an empty table with one column per schema entry, each tracking
// validity, sized for capacity rows.
func New(s *Schema, capacity int) *Table {
	t := &Table{cols: make(map[string]*column.Column), reinserted: bitvec.New(0)}
	for _, name := range s.Columns() {
		t.AddColumn(name, s.DType(name), true)
		t.cols[name].Reserve(capacity)
	}
	return t
}

// AddColumn appends a column. Adding an existing name returns the existing
// column when the dtype agrees and is a programmer error otherwise.
func (t *Table) AddColumn(name string, d scalar.DType, withValidity bool) *column.Column {
	if c, ok := t.cols[name]; ok {
		if c.DType() != d {
			panic(fmt.Sprintf("table: column %q exists with dtype %s, requested %s", name, c.DType(), d))
		}
		return c
	}
	c := column.New(d, t.nrows, withValidity)
	c.SetSize(t.nrows)
	if withValidity {
		for i := 0; i < t.nrows; i++ {
			c.SetValid(i, false)
		}
	}
	t.names = append(t.names, name)
	t.cols[name] = c
	return c
}

// Column returns the named column. Unknown names are a programmer error.
func (t *Table) Column(name string) *column.Column {
	c, ok := t.cols[name]
	if !ok {
		panic(fmt.Sprintf("table: unknown column %q", name))
	}
	return c
}

// HasColumn reports whether the table contains name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// ColumnNames returns the column names in insertion order.
func (t *Table) ColumnNames() []string { return t.names }

func (t *Table) NumRows() int { return t.nrows }
func (t *Table) NumCols() int { return len(t.names) }

// Schema reconstructs the table's schema in column order.
func (t *Table) Schema() *Schema {
	s := NewSchema()
	for _, n := range t.names {
		s.Add(n, t.cols[n].DType())
	}
	return s
}

// SetNumRows resizes every column to n rows, zero-extending.
func (t *Table) SetNumRows(n int) {
	for _, name := range t.names {
		t.cols[name].SetSize(n)
	}
	t.reinserted.Resize(n)
	t.nrows = n
}

// Reserve grows every column's capacity without changing the row count.
func (t *Table) Reserve(n int) {
	for _, name := range t.names {
		t.cols[name].Reserve(n)
	}
	t.reinserted.Reserve(n)
}

// Clear zeroes the row count, keeping columns and capacity.
func (t *Table) Clear() {
	for _, name := range t.names {
		t.cols[name].Clear()
	}
	t.reinserted.Clear()
	t.nrows = 0
}

// AppendRows appends every row of src. Columns missing from src are appended
// invalid; columns of src not present in t are ignored. The reserved columns
// must be present in src when present in t.
func (t *Table) AppendRows(src *Table) {
	base := t.nrows
	n := src.NumRows()
	t.SetNumRows(base + n)
	for _, name := range t.names {
		dst := t.cols[name]
		if !src.HasColumn(name) {
			if name == PKeyColumn || name == OpColumn {
				panic(fmt.Sprintf("table: fragment is missing reserved column %q", name))
			}
			for i := 0; i < n; i++ {
				dst.SetValid(base+i, false)
			}
			continue
		}
		sc := src.Column(name)
		for i := 0; i < n; i++ {
			dst.CopyCell(base+i, sc, i)
		}
	}
}

// Clone returns a new table holding only the rows whose index is set in
// mask. Row order is preserved; string columns share vocabularies with the
// source. Reinsert markers carry over for the kept rows.
func (t *Table) Clone(mask *roaring.Bitmap) *Table {
	out := &Table{cols: make(map[string]*column.Column), reinserted: bitvec.New(0)}
	keep := func(i int) bool { return mask.ContainsInt(i) }
	for _, name := range t.names {
		out.names = append(out.names, name)
		out.cols[name] = t.cols[name].Clone(keep)
	}
	out.nrows = int(mask.GetCardinality())
	out.reinserted.Resize(out.nrows)
	j := 0
	for i := 0; i < t.nrows; i++ {
		if !keep(i) {
			continue
		}
		if t.Reinserted(i) {
			out.reinserted.Set(j, true)
		}
		j++
	}
	return out
}

// PromoteColumn widens the named column in place. Narrowing is a programmer
// error.
func (t *Table) PromoteColumn(name string, to scalar.DType) {
	t.Column(name).Promote(to)
}

// MarkReinserted flags row i as collapsed from a delete-then-insert run.
func (t *Table) MarkReinserted(i int) {
	t.reinserted.Set(i, true)
}

// Reinserted reports whether row i was collapsed from a delete-then-insert
// run within its source batch.
func (t *Table) Reinserted(i int) bool {
	if i >= t.reinserted.Len() {
		return false
	}
	return t.reinserted.Get(i)
}

// Op returns the operation code of row i, read from the psp_op column.
// Values other than OpInsert and OpDelete are reported as-is; callers treat
// them as fatal.
func (t *Table) Op(i int) uint8 {
	return uint8(t.Column(OpColumn).Uint(i))
}

// PKey returns the primary key of row i as a scalar.
func (t *Table) PKey(i int) scalar.Scalar {
	return t.Column(PKeyColumn).Scalar(i)
}
