// Package scalar defines the tagged scalar value and the dtype enumeration
// shared by every column-level component of the kernel. A Scalar is a small
// comparable struct: it can be used directly as a map key, which is how the
// master state indexes rows by primary key.
package scalar

import (
	"fmt"
	"math"
)

// Scalar is a tagged value over the primitive dtypes, carrying a validity
// bit. The zero Scalar is an invalid NONE value.
type Scalar struct {
	dtype DType
	valid bool
	i     int64
	f     float64
	b     bool
	s     string
}

// Invalid returns an invalid scalar of the given dtype.
func Invalid(d DType) Scalar {
	return Scalar{dtype: d}
}

// NewInt returns a valid integer-class scalar. The dtype must be one of the
// signed integer widths or TIME.
func NewInt(d DType, v int64) Scalar {
	if d.Classify() != ClassInt {
		panic(fmt.Sprintf("scalar: %s is not an integer dtype", d))
	}
	return Scalar{dtype: d, valid: true, i: v}
}

// NewUint returns a valid unsigned-class scalar (unsigned widths, DATE,
// OBJECT). STR scalars are built with NewStr.
func NewUint(d DType, v uint64) Scalar {
	if d.Classify() != ClassUint || d == DTypeStr {
		panic(fmt.Sprintf("scalar: %s is not an unsigned dtype", d))
	}
	return Scalar{dtype: d, valid: true, i: int64(v)}
}

// NewFloat returns a valid float-class scalar.
func NewFloat(d DType, v float64) Scalar {
	if d.Classify() != ClassFloat {
		panic(fmt.Sprintf("scalar: %s is not a float dtype", d))
	}
	return Scalar{dtype: d, valid: true, f: v}
}

// NewBool returns a valid boolean scalar.
func NewBool(v bool) Scalar {
	return Scalar{dtype: DTypeBool, valid: true, b: v}
}

// NewStr returns a valid string scalar. The value is carried by string
// content; columns intern it into their vocabulary on write.
func NewStr(s string) Scalar {
	return Scalar{dtype: DTypeStr, valid: true, s: s}
}

// Convenience constructors for the common cases.
func NewInt64(v int64) Scalar     { return NewInt(DTypeInt64, v) }
func NewFloat64(v float64) Scalar { return NewFloat(DTypeFloat64, v) }

func (s Scalar) DType() DType  { return s.dtype }
func (s Scalar) IsValid() bool { return s.valid }

// Int returns the integer payload. Programmer error on class mismatch.
func (s Scalar) Int() int64 {
	if s.dtype.Classify() != ClassInt {
		panic(fmt.Sprintf("scalar: Int() on %s", s.dtype))
	}
	return s.i
}

// Uint returns the unsigned payload.
func (s Scalar) Uint() uint64 {
	if s.dtype.Classify() != ClassUint || s.dtype == DTypeStr {
		panic(fmt.Sprintf("scalar: Uint() on %s", s.dtype))
	}
	return uint64(s.i)
}

// Float returns the float payload.
func (s Scalar) Float() float64 {
	if s.dtype.Classify() != ClassFloat {
		panic(fmt.Sprintf("scalar: Float() on %s", s.dtype))
	}
	return s.f
}

// Bool returns the boolean payload.
func (s Scalar) Bool() bool {
	if s.dtype != DTypeBool {
		panic(fmt.Sprintf("scalar: Bool() on %s", s.dtype))
	}
	return s.b
}

// Str returns the string payload.
func (s Scalar) Str() string {
	if s.dtype != DTypeStr {
		panic(fmt.Sprintf("scalar: Str() on %s", s.dtype))
	}
	return s.s
}

// Equal reports cell-level equality: both valid and payload-equal. Two
// invalid scalars are not Equal; the transition calculator treats that case
// separately.
func (s Scalar) Equal(o Scalar) bool {
	if !s.valid || !o.valid {
		return false
	}
	if (s.dtype == DTypeStr) != (o.dtype == DTypeStr) {
		return false
	}
	if s.dtype == DTypeStr {
		return s.s == o.s
	}
	if s.dtype.Classify() != o.dtype.Classify() {
		return false
	}
	switch s.dtype.Classify() {
	case ClassInt, ClassUint:
		return s.i == o.i
	case ClassFloat:
		return s.f == o.f
	case ClassBool:
		return s.b == o.b
	default:
		return s.s == o.s
	}
}

// Widen retags the scalar to a wider dtype, converting the payload class if
// the promotion crosses into floats. Programmer error if the promotion is
// not allowed.
func (s Scalar) Widen(to DType) Scalar {
	if !s.dtype.PromotesTo(to) {
		panic(fmt.Sprintf("scalar: cannot promote %s to %s", s.dtype, to))
	}
	out := s
	out.dtype = to
	if to.Classify() == ClassFloat && s.dtype.Classify() != ClassFloat {
		if s.dtype.Classify() == ClassUint {
			out.f = float64(uint64(s.i))
		} else {
			out.f = float64(s.i)
		}
		out.i = 0
	}
	return out
}

func (s Scalar) String() string {
	if !s.valid {
		return fmt.Sprintf("%s<invalid>", s.dtype)
	}
	switch s.dtype.Classify() {
	case ClassInt:
		return fmt.Sprintf("%d", s.i)
	case ClassUint:
		if s.dtype == DTypeStr {
			return s.s
		}
		return fmt.Sprintf("%d", uint64(s.i))
	case ClassFloat:
		if math.IsNaN(s.f) {
			return "NaN"
		}
		return fmt.Sprintf("%g", s.f)
	case ClassBool:
		return fmt.Sprintf("%t", s.b)
	default:
		return s.s
	}
}

// Key normalizes the scalar to the widest dtype of its class, for use as a
// primary-key map key: promotions that only widen a column do not change the
// keys already in a mapping.
func (s Scalar) Key() Scalar {
	out := s
	switch s.dtype.Classify() {
	case ClassInt:
		out.dtype = DTypeInt64
	case ClassUint:
		if s.dtype != DTypeStr {
			out.dtype = DTypeUint64
		}
	case ClassFloat:
		out.dtype = DTypeFloat64
	}
	return out
}

// Less orders scalars of the same class, with invalid sorting first. Used
// for the sorted primary-key view of the master table.
func (s Scalar) Less(o Scalar) bool {
	if !s.valid || !o.valid {
		return !s.valid && o.valid
	}
	if s.dtype == DTypeStr || o.dtype == DTypeStr {
		return s.s < o.s
	}
	switch s.dtype.Classify() {
	case ClassInt:
		return s.i < o.i
	case ClassUint:
		return uint64(s.i) < uint64(o.i)
	case ClassFloat:
		return s.f < o.f
	default:
		return !s.b && o.b
	}
}
