package engine

import (
	"github.com/l7mp/deltatable/pkg/state"
	"github.com/l7mp/deltatable/pkg/table"
)

// processState gathers the intermediate structures of one incremental batch.
// The row-scoped scratch (lookup, addedOffset, prevPkeyEq) is filled serially
// by the existence-mask pass and read-only afterwards, which is what makes
// the per-column writes safe to run in parallel.
type processState struct {
	master    *table.Table
	flattened *table.Table

	delta       *table.Table
	prev        *table.Table
	current     *table.Table
	transitions *table.Table
	existed     *table.Table

	lookup      []state.RLookup
	addedOffset []int
	prevPkeyEq  []bool
}

func (ps *processState) transitional() []*table.Table {
	return []*table.Table{ps.delta, ps.prev, ps.current, ps.transitions, ps.existed}
}

// clearTransitional truncates the five transitional tables. They are reused
// across batches; each call starts from row count zero.
func (ps *processState) clearTransitional() {
	for _, t := range ps.transitional() {
		t.Clear()
	}
}

// reserveTransitional grows the transitional tables' capacity to n rows so
// the per-column writes never reallocate.
func (ps *processState) reserveTransitional(n int) {
	for _, t := range ps.transitional() {
		t.Reserve(n)
	}
}

// setSizeTransitional sizes the transitional tables to the post-mask row
// count.
func (ps *processState) setSizeTransitional(n int) {
	for _, t := range ps.transitional() {
		t.SetNumRows(n)
	}
}
