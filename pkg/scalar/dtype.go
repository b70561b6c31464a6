package scalar

import "fmt"

// DType enumerates the primitive column types understood by the kernel.
type DType uint8

const (
	DTypeNone DType = iota
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeFloat32
	DTypeFloat64
	DTypeBool
	DTypeDate
	DTypeTime
	DTypeStr
	DTypeObject
)

// Class partitions dtypes by their backing buffer representation. Every column
// stores its cells in one of these four buffer classes, which is what the
// typed fast paths in the processor dispatch on.
type Class uint8

const (
	ClassNone Class = iota
	ClassInt        // INT8..INT64, TIME (epoch ms)
	ClassUint       // UINT8..UINT64, DATE (days), STR (vocab index), OBJECT (handle)
	ClassFloat      // FLOAT32, FLOAT64
	ClassBool
)

func (d DType) String() string {
	switch d {
	case DTypeNone:
		return "NONE"
	case DTypeInt8:
		return "INT8"
	case DTypeInt16:
		return "INT16"
	case DTypeInt32:
		return "INT32"
	case DTypeInt64:
		return "INT64"
	case DTypeUint8:
		return "UINT8"
	case DTypeUint16:
		return "UINT16"
	case DTypeUint32:
		return "UINT32"
	case DTypeUint64:
		return "UINT64"
	case DTypeFloat32:
		return "FLOAT32"
	case DTypeFloat64:
		return "FLOAT64"
	case DTypeBool:
		return "BOOL"
	case DTypeDate:
		return "DATE"
	case DTypeTime:
		return "TIME"
	case DTypeStr:
		return "STR"
	case DTypeObject:
		return "OBJECT"
	default:
		return fmt.Sprintf("DTYPE(%d)", uint8(d))
	}
}

// Classify returns the buffer class backing the dtype. Unknown dtypes are a
// programmer error.
func (d DType) Classify() Class {
	switch d {
	case DTypeInt8, DTypeInt16, DTypeInt32, DTypeInt64, DTypeTime:
		return ClassInt
	case DTypeUint8, DTypeUint16, DTypeUint32, DTypeUint64, DTypeDate, DTypeStr, DTypeObject:
		return ClassUint
	case DTypeFloat32, DTypeFloat64:
		return ClassFloat
	case DTypeBool:
		return ClassBool
	default:
		panic(fmt.Sprintf("scalar: unsupported dtype %s", d))
	}
}

// Width returns the logical width of the dtype in bytes.
func (d DType) Width() int {
	switch d {
	case DTypeInt8, DTypeUint8, DTypeBool:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeUint32, DTypeFloat32, DTypeDate:
		return 4
	case DTypeInt64, DTypeUint64, DTypeFloat64, DTypeTime, DTypeStr, DTypeObject:
		return 8
	default:
		panic(fmt.Sprintf("scalar: unsupported dtype %s", d))
	}
}

// PromotesTo reports whether a column of dtype d may be widened in place to
// dtype to: widening within the same buffer class, or integer to FLOAT64.
func (d DType) PromotesTo(to DType) bool {
	if d == to {
		return true
	}
	dc, tc := d.Classify(), to.Classify()
	if dc == tc && dc != ClassBool {
		return d.Width() <= to.Width()
	}
	if (dc == ClassInt || dc == ClassUint) && to == DTypeFloat64 {
		return d != DTypeStr && d != DTypeObject
	}
	return false
}
