package table

import (
	"fmt"

	"github.com/l7mp/deltatable/pkg/scalar"
)

// Flatten collapses a primary-keyed batch to one net row per distinct
// primary key, in order of first appearance:
//
//   - a trailing DELETE wins: the net row is a pure delete;
//   - otherwise the latest insert run wins, with later valid cells
//     overriding earlier ones cell-by-cell;
//   - an intervening delete resets the accumulated cells, and the resulting
//     net insert row is marked reinserted (see Reinserted) so the processor
//     can distinguish delete-then-insert from a plain update.
//
// The output retains psp_pkey and the net psp_op, and shares string
// vocabularies with the input.
func (t *Table) Flatten() *Table {
	out := New(t.Schema(), t.nrows)
	for _, name := range out.names {
		c := out.cols[name]
		if c.DType() == scalar.DTypeStr {
			c.BorrowVocabulary(t.cols[name])
		}
	}

	type keyState struct {
		row      int
		netDel   bool
		hadDel   bool
	}
	states := make(map[scalar.Scalar]*keyState, t.nrows)

	pkeyCol := t.Column(PKeyColumn)
	opCol := t.Column(OpColumn)

	for i := 0; i < t.nrows; i++ {
		pkey := pkeyCol.Scalar(i)
		op := uint8(opCol.Uint(i))
		if op != OpInsert && op != OpDelete {
			panic(fmt.Sprintf("table: unknown op %d at row %d", op, i))
		}

		st, seen := states[pkey]
		if !seen {
			row := out.NumRows()
			out.SetNumRows(row + 1)
			out.Column(PKeyColumn).CopyCell(row, pkeyCol, i)
			st = &keyState{row: row, netDel: op == OpDelete, hadDel: op == OpDelete}
			states[pkey] = st
			if op == OpInsert {
				out.mergeInsert(st.row, t, i)
			} else {
				out.clearCells(st.row)
			}
			out.Column(OpColumn).SetUint(st.row, uint64(op))
			continue
		}

		switch op {
		case OpInsert:
			if st.netDel {
				// The key was net-deleted earlier in the batch: restart the
				// accumulated row from scratch.
				out.clearCells(st.row)
				st.netDel = false
				st.hadDel = true
				out.Column(OpColumn).SetUint(st.row, uint64(OpInsert))
			}
			out.mergeInsert(st.row, t, i)
		case OpDelete:
			out.clearCells(st.row)
			st.netDel = true
			out.Column(OpColumn).SetUint(st.row, uint64(OpDelete))
		}
	}

	for _, st := range states {
		if st.hadDel && !st.netDel {
			out.MarkReinserted(st.row)
		}
	}
	return out
}

// mergeInsert overlays the valid non-reserved cells of src row i onto out
// row row.
func (t *Table) mergeInsert(row int, src *Table, i int) {
	for _, name := range t.names {
		if name == PKeyColumn || name == OpColumn {
			continue
		}
		if !src.HasColumn(name) {
			continue
		}
		sc := src.Column(name)
		if sc.IsValid(i) {
			t.cols[name].CopyCell(row, sc, i)
		}
	}
}

// clearCells invalidates every non-reserved cell of the row.
func (t *Table) clearCells(row int) {
	for _, name := range t.names {
		if name == PKeyColumn || name == OpColumn {
			continue
		}
		t.cols[name].SetValid(row, false)
	}
}
