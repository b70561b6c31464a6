package engine

import "fmt"

// Transition encodes the before/after status of a single cell for one
// primary key in one batch.
type Transition uint8

const (
	// TransEqFF: absent before and after.
	TransEqFF Transition = iota
	// TransEqTT: present and equal.
	TransEqTT
	// TransNeqFT: newly present.
	TransNeqFT
	// TransNeqTF: removed.
	TransNeqTF
	// TransNeqTT: present and changed.
	TransNeqTT
	// TransNveqFT: present, newly valid.
	TransNveqFT
	// TransNeqTDT: present after a delete-then-insert collapsed within the
	// batch.
	TransNeqTDT
	// TransNeqTDF: pure delete of a previously present row.
	TransNeqTDF
)

func (t Transition) String() string {
	switch t {
	case TransEqFF:
		return "EQ_FF"
	case TransEqTT:
		return "EQ_TT"
	case TransNeqFT:
		return "NEQ_FT"
	case TransNeqTF:
		return "NEQ_TF"
	case TransNeqTT:
		return "NEQ_TT"
	case TransNveqFT:
		return "NVEQ_FT"
	case TransNeqTDT:
		return "NEQ_TDT"
	case TransNeqTDF:
		return "NEQ_TDF"
	default:
		return fmt.Sprintf("TRANSITION(%d)", uint8(t))
	}
}

// CalcTransition maps the per-row existence/validity/equality flags to a
// transition code. The rules apply in priority order, first match wins; the
// backout switches suppress individual rules. The function allocates nothing
// and is total over every flag combination except the final fall-through,
// which indicates a corrupted process state.
func (c Config) CalcTransition(prevExisted, rowPreExisted, exists, prevValid, curValid, prevCurEq, prevPkeyEq bool) Transition {
	switch {
	case !rowPreExisted && !curValid && !c.BackoutInvalidNeqFT:
		return TransNeqFT
	case rowPreExisted && !prevValid && !curValid && !c.BackoutEqInvalidInvalid:
		return TransEqTT
	case !prevExisted && !exists:
		return TransEqFF
	case rowPreExisted && exists && !prevValid && curValid && !c.BackoutNveqFT:
		return TransNveqFT
	case prevExisted && exists && prevCurEq:
		return TransEqTT
	case !prevExisted && exists:
		return TransNeqFT
	case prevExisted && !exists:
		return TransNeqTF
	case prevExisted && exists && !prevCurEq:
		return TransNeqTT
	case prevPkeyEq:
		// The previous op for this key must have been a delete.
		return TransNeqTDT
	default:
		panic(fmt.Sprintf(
			"engine: transition fall-through (prevExisted=%t rowPreExisted=%t exists=%t prevValid=%t curValid=%t prevCurEq=%t prevPkeyEq=%t)",
			prevExisted, rowPreExisted, exists, prevValid, curValid, prevCurEq, prevPkeyEq))
	}
}
