// Package column implements the typed columnar buffer underlying every data
// table: a dense slice of fixed-width slots plus a parallel validity bitmap.
// String columns do not store bytes; they hold indices into an append-only
// vocabulary (see package vocab) that can be shared across columns by
// reference, so equal indices denote equal strings with no copying.
package column

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/l7mp/deltatable/internal/bitvec"
	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/vocab"
)

// Column is a growable typed buffer. Cells are addressed by dense row index;
// out-of-range access and buffer-class mismatches are programmer errors and
// panic. Buffers grow in geometric steps so the per-batch hot path never
// reallocates.
type Column struct {
	dtype  scalar.DType
	length int
	valid  *bitvec.Vector // nil when the column tracks no validity

	ints   []int64
	uints  []uint64
	floats []float64
	bools  []bool

	vocab *vocab.Vocabulary // STR columns only
}

// New creates a column of the given dtype with room for capacity rows.
func New(dtype scalar.DType, capacity int, withValidity bool) *Column {
	c := &Column{dtype: dtype}
	if withValidity {
		c.valid = bitvec.New(0)
	}
	if dtype == scalar.DTypeStr {
		c.vocab = vocab.New()
	}
	c.Reserve(capacity)
	return c
}

func (c *Column) DType() scalar.DType { return c.dtype }

// Size returns the row count.
func (c *Column) Size() int { return c.length }

// SetSize grows or shrinks the column to n rows, zero-extending values and
// validity.
func (c *Column) SetSize(n int) {
	switch c.dtype.Classify() {
	case scalar.ClassInt:
		c.ints = extend(c.ints, n)
	case scalar.ClassUint:
		c.uints = extend(c.uints, n)
	case scalar.ClassFloat:
		c.floats = extend(c.floats, n)
	case scalar.ClassBool:
		c.bools = extend(c.bools, n)
	}
	if c.valid != nil {
		c.valid.Resize(n)
	}
	c.length = n
}

// Reserve grows capacity to hold at least n rows without changing size.
func (c *Column) Reserve(n int) {
	switch c.dtype.Classify() {
	case scalar.ClassInt:
		c.ints = reserve(c.ints, n)
	case scalar.ClassUint:
		c.uints = reserve(c.uints, n)
	case scalar.ClassFloat:
		c.floats = reserve(c.floats, n)
	case scalar.ClassBool:
		c.bools = reserve(c.bools, n)
	}
	if c.valid != nil {
		c.valid.Reserve(n)
	}
}

// Clear drops all rows, keeping capacity.
func (c *Column) Clear() {
	c.SetSize(0)
}

// IsValid returns the validity bit for row i. Columns without a validity
// bitmap report every row valid.
func (c *Column) IsValid(i int) bool {
	c.check(i)
	if c.valid == nil {
		return true
	}
	return c.valid.Get(i)
}

// SetValid assigns the validity bit for row i.
func (c *Column) SetValid(i int, b bool) {
	c.check(i)
	if c.valid == nil {
		if !b {
			panic(fmt.Sprintf("column: cannot invalidate row %d on a column without validity", i))
		}
		return
	}
	c.valid.Set(i, b)
}

// HasValidity reports whether the column tracks per-row validity.
func (c *Column) HasValidity() bool { return c.valid != nil }

// Int returns the integer payload at row i. The value write/read pairs below
// are the typed fast paths: they bypass Scalar construction entirely.
func (c *Column) Int(i int) int64 {
	c.check(i)
	c.checkClass(scalar.ClassInt)
	return c.ints[i]
}

func (c *Column) SetInt(i int, v int64) {
	c.check(i)
	c.checkClass(scalar.ClassInt)
	c.ints[i] = v
	c.markValid(i)
}

func (c *Column) Uint(i int) uint64 {
	c.check(i)
	c.checkClass(scalar.ClassUint)
	return c.uints[i]
}

func (c *Column) SetUint(i int, v uint64) {
	c.check(i)
	c.checkClass(scalar.ClassUint)
	c.uints[i] = v
	c.markValid(i)
}

func (c *Column) Float(i int) float64 {
	c.check(i)
	c.checkClass(scalar.ClassFloat)
	return c.floats[i]
}

func (c *Column) SetFloat(i int, v float64) {
	c.check(i)
	c.checkClass(scalar.ClassFloat)
	c.floats[i] = v
	c.markValid(i)
}

func (c *Column) Bool(i int) bool {
	c.check(i)
	c.checkClass(scalar.ClassBool)
	return c.bools[i]
}

func (c *Column) SetBool(i int, v bool) {
	c.check(i)
	c.checkClass(scalar.ClassBool)
	c.bools[i] = v
	c.markValid(i)
}

// StrIndex returns the vocabulary index stored at row i of a string column.
func (c *Column) StrIndex(i int) uint64 {
	c.checkStr()
	return c.Uint(i)
}

// SetStrIndex stores a vocabulary index directly, without re-interning. The
// index must be valid in the column's (possibly borrowed) vocabulary.
func (c *Column) SetStrIndex(i int, idx uint64) {
	c.checkStr()
	c.SetUint(i, idx)
}

// Str resolves the string value at row i through the vocabulary.
func (c *Column) Str(i int) string {
	c.checkStr()
	return c.vocab.Lookup(c.Uint(i))
}

// SetStr interns s into the vocabulary and stores its index at row i.
func (c *Column) SetStr(i int, s string) {
	c.checkStr()
	c.SetUint(i, c.vocab.Intern(s))
}

// Vocabulary returns the intern table of a string column.
func (c *Column) Vocabulary() *vocab.Vocabulary {
	c.checkStr()
	return c.vocab
}

// AdoptVocabulary replaces the intern table of a string column with v.
// Existing indices must already be valid in v.
func (c *Column) AdoptVocabulary(v *vocab.Vocabulary) {
	c.checkStr()
	c.vocab = v
}

// BorrowVocabulary shares other's intern table by reference. Indices already
// stored in c become meaningless and must be rewritten by the caller; the
// processor borrows before writing, never after.
func (c *Column) BorrowVocabulary(other *Column) {
	c.checkStr()
	other.checkStr()
	c.vocab = other.vocab
}

// Scalar materializes the cell at row i as a tagged scalar.
func (c *Column) Scalar(i int) scalar.Scalar {
	c.check(i)
	if !c.IsValid(i) {
		return scalar.Invalid(c.dtype)
	}
	switch c.dtype.Classify() {
	case scalar.ClassInt:
		return scalar.NewInt(c.dtype, c.ints[i])
	case scalar.ClassUint:
		if c.dtype == scalar.DTypeStr {
			return scalar.NewStr(c.vocab.Lookup(c.uints[i]))
		}
		return scalar.NewUint(c.dtype, c.uints[i])
	case scalar.ClassFloat:
		return scalar.NewFloat(c.dtype, c.floats[i])
	default:
		return scalar.NewBool(c.bools[i])
	}
}

// SetScalar stores v at row i. An invalid v clears the cell's validity bit;
// a dtype-class mismatch is a programmer error.
func (c *Column) SetScalar(i int, v scalar.Scalar) {
	c.check(i)
	if !v.IsValid() {
		c.SetValid(i, false)
		return
	}
	switch c.dtype.Classify() {
	case scalar.ClassInt:
		c.SetInt(i, v.Int())
	case scalar.ClassUint:
		if c.dtype == scalar.DTypeStr {
			c.SetStr(i, v.Str())
		} else {
			c.SetUint(i, v.Uint())
		}
	case scalar.ClassFloat:
		c.SetFloat(i, v.Float())
	default:
		c.SetBool(i, v.Bool())
	}
}

// CellEq reports payload equality between row i of c and row j of other,
// requiring both cells valid. String cells compare by content so columns
// with different vocabularies compare correctly.
func (c *Column) CellEq(i int, other *Column, j int) bool {
	if !c.IsValid(i) || !other.IsValid(j) {
		return false
	}
	if c.dtype == scalar.DTypeStr {
		return c.Str(i) == other.Str(j)
	}
	switch c.dtype.Classify() {
	case scalar.ClassInt:
		return c.ints[i] == other.ints[j]
	case scalar.ClassUint:
		return c.uints[i] == other.uints[j]
	case scalar.ClassFloat:
		return c.floats[i] == other.floats[j]
	default:
		return c.bools[i] == other.bools[j]
	}
}

// CopyCell copies the cell at row j of src (value and validity) into row i.
// String cells are copied by content unless the vocabularies are shared, in
// which case the index transfers directly.
func (c *Column) CopyCell(i int, src *Column, j int) {
	if !src.IsValid(j) {
		c.SetValid(i, false)
		return
	}
	if c.dtype == scalar.DTypeStr {
		if c.vocab == src.vocab {
			c.SetStrIndex(i, src.StrIndex(j))
		} else {
			c.SetStr(i, src.Str(j))
		}
		return
	}
	switch c.dtype.Classify() {
	case scalar.ClassInt:
		c.SetInt(i, src.ints[j])
	case scalar.ClassUint:
		c.SetUint(i, src.uints[j])
	case scalar.ClassFloat:
		c.SetFloat(i, src.floats[j])
	default:
		c.SetBool(i, src.bools[j])
	}
}

// Promote widens the column in place to dtype to. Same-class widening only
// retags; integer-to-float converts the buffer. Narrowing or cross-class
// promotion is a programmer error.
func (c *Column) Promote(to scalar.DType) {
	if !c.dtype.PromotesTo(to) {
		panic(fmt.Sprintf("column: cannot promote %s to %s", c.dtype, to))
	}
	if c.dtype == to {
		return
	}
	if to.Classify() == scalar.ClassFloat && c.dtype.Classify() != scalar.ClassFloat {
		floats := make([]float64, c.length)
		if c.dtype.Classify() == scalar.ClassInt {
			for i, v := range c.ints {
				floats[i] = float64(v)
			}
			c.ints = nil
		} else {
			for i, v := range c.uints {
				floats[i] = float64(v)
			}
			c.uints = nil
		}
		c.floats = floats
	}
	c.dtype = to
}

// Clone returns a copy of the column containing only the rows where keep is
// set. A nil keep copies every row. String clones share the vocabulary.
func (c *Column) Clone(keep func(i int) bool) *Column {
	out := &Column{dtype: c.dtype, vocab: c.vocab}
	if c.valid != nil {
		out.valid = bitvec.New(0)
	}
	n := 0
	for i := 0; i < c.length; i++ {
		if keep == nil || keep(i) {
			n++
		}
	}
	out.SetSize(n)
	j := 0
	for i := 0; i < c.length; i++ {
		if keep != nil && !keep(i) {
			continue
		}
		if c.IsValid(i) {
			switch c.dtype.Classify() {
			case scalar.ClassInt:
				out.SetInt(j, c.ints[i])
			case scalar.ClassUint:
				out.SetUint(j, c.uints[i])
			case scalar.ClassFloat:
				out.SetFloat(j, c.floats[i])
			default:
				out.SetBool(j, c.bools[i])
			}
		} else {
			out.SetValid(j, false)
		}
		j++
	}
	return out
}

func (c *Column) markValid(i int) {
	if c.valid != nil {
		c.valid.Set(i, true)
	}
}

func (c *Column) check(i int) {
	if i < 0 || i >= c.length {
		panic(fmt.Sprintf("column: row %d out of range (size %d, dtype %s)", i, c.length, c.dtype))
	}
}

func (c *Column) checkClass(want scalar.Class) {
	if c.dtype.Classify() != want {
		panic(fmt.Sprintf("column: class mismatch on %s column", c.dtype))
	}
}

func (c *Column) checkStr() {
	if c.dtype != scalar.DTypeStr {
		panic(fmt.Sprintf("column: string access on %s column", c.dtype))
	}
}

type slot interface {
	constraints.Integer | constraints.Float | ~bool
}

func extend[T slot](buf []T, n int) []T {
	if n <= len(buf) {
		for i := n; i < len(buf); i++ {
			var zero T
			buf[i] = zero
		}
		return buf[:n]
	}
	buf = reserve(buf, n)
	for len(buf) < n {
		var zero T
		buf = append(buf, zero)
	}
	return buf
}

func reserve[T slot](buf []T, n int) []T {
	if n <= cap(buf) {
		return buf
	}
	capacity := cap(buf)
	if capacity == 0 {
		capacity = 8
	}
	for capacity < n {
		capacity *= 2
	}
	grown := make([]T, len(buf), capacity)
	copy(grown, buf)
	return grown
}
