package engine

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/deltatable/pkg/column"
	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/state"
	"github.com/l7mp/deltatable/pkg/table"
)

// processResult carries the outcome of one processTable run.
type processResult struct {
	// flattened is the published (post-mask) table, nil when contexts were
	// already updated through the first-batch path or nothing was processed.
	flattened *table.Table
	// shouldNotify reports whether downstream consumers should be told the
	// engine state changed.
	shouldNotify bool
}

// Process runs one update cycle against the batch buffered on the input
// port: flatten, transition computation, transitional-table writes, master
// update and context notification. It returns true iff consumers should be
// notified. Process is not reentrant; concurrent calls on the same engine
// are a programmer error.
func (e *Engine) Process(portID int) bool {
	e.ensureInit("Process")
	if !e.processing.CompareAndSwap(false, true) {
		panic("engine: Process re-entered while a batch is in flight")
	}
	defer e.processing.Store(false)

	result := e.processTable(portID)
	if result.flattened != nil {
		e.notifyContexts(result.flattened)
	}
	return result.shouldNotify
}

func (e *Engine) processTable(portID int) processResult {
	e.wasUpdated = false

	input, ok := e.inputPorts[portID]
	if !ok {
		e.log.Error(nil, "cannot process table on nonexistent port", "port", portID)
		return processResult{}
	}
	if input.Table().NumRows() == 0 {
		return processResult{}
	}

	e.wasUpdated = true
	flattened := input.Flatten()
	n := flattened.NumRows()

	lookup := make([]state.RLookup, n)
	for i := 0; i < n; i++ {
		lookup[i] = e.state.Lookup(flattened.PKey(i))
	}

	// First batch: the master table is empty, so every row is new and the
	// flattened batch can seed the master wholesale.
	if e.state.MappingSize() == 0 {
		// The flattened table carries none of the expression columns
		// accumulated from context registrations; compute them now.
		if e.exprs.Len() > 0 {
			e.exprs.Compute(flattened)
		}
		e.state.UpdateMasterTable(flattened)
		e.oports[PortFlattened].SetTable(flattened)

		// Contexts read master state obliquely, so rebuild them only after
		// the state update landed.
		e.updateContextsFromState(flattened)

		input.Release()
		e.ReleaseOutputs()
		return processResult{shouldNotify: true}
	}

	input.ReleaseOrClear()

	ps := processState{
		master:      e.state.Table(),
		flattened:   flattened,
		delta:       e.oports[PortDelta].Table(),
		prev:        e.oports[PortPrev].Table(),
		current:     e.oports[PortCurrent].Table(),
		transitions: e.oports[PortTransitions].Table(),
		existed:     e.oports[PortExisted].Table(),
		lookup:      lookup,
	}

	// The transitions table carries a UINT8 column per registered
	// expression alias.
	for _, alias := range e.exprs.Aliases() {
		ps.transitions.AddColumn(alias, scalar.DTypeUint8, true)
	}

	// Refresh expression values in both the master and the flattened batch
	// so the per-column pass reads consistent pre/post values.
	if e.exprs.Len() > 0 {
		e.exprs.Recompute(e.state, flattened, lookup)
	}

	ps.clearTransitional()

	// Materialize expression columns on the value-carrying transitional
	// tables while they are still empty.
	if e.exprs.Len() > 0 {
		e.exprs.Compute(ps.delta, ps.prev, ps.current)
	}

	ps.reserveTransitional(n)

	mask := e.maskExistedRows(&ps)
	maskCount := int(mask.GetCardinality())
	ps.setSizeTransitional(maskCount)

	columnNames := append([]string{}, e.outputSchema.Columns()...)
	columnNames = append(columnNames, e.exprs.Aliases()...)

	// Columns declared on the output but absent from the input read as
	// all-invalid; land them on the flattened table before fanning out.
	for _, cname := range columnNames {
		if !flattened.HasColumn(cname) {
			flattened.AddColumn(cname, e.outputSchema.DType(cname), true)
		}
	}

	// Per-column transitional writes. Each task owns disjoint output slots
	// and reads only the serially computed row scratch, so the loop is
	// deterministic regardless of schedule.
	var group errgroup.Group
	for _, cname := range columnNames {
		cname := cname
		group.Go(func() error {
			e.processColumn(cname, &ps)
			return nil
		})
	}
	_ = group.Wait()

	// Expression values on the transitional tables themselves.
	if e.exprs.Len() > 0 {
		e.exprs.Compute(ps.delta, ps.prev, ps.current)
	}

	var published *table.Table
	if maskCount == n {
		published = flattened
	} else {
		published = flattened.Clone(mask)
	}

	e.state.UpdateMasterTable(published)
	e.oports[PortFlattened].SetTable(published)

	return processResult{flattened: published, shouldNotify: true}
}

// maskExistedRows walks the flattened batch in order, producing the
// existence mask, the psp_existed output column and the row-scoped scratch
// (addedOffset, prevPkeyEq) the per-column writes depend on.
func (e *Engine) maskExistedRows(ps *processState) *roaring.Bitmap {
	n := ps.flattened.NumRows()
	ps.existed.SetNumRows(n)

	opCol := ps.flattened.Column(table.OpColumn)
	existedCol := ps.existed.Column(ExistedColumn)

	ps.addedOffset = make([]int, n)
	ps.prevPkeyEq = make([]bool, n)

	mask := roaring.New()
	added := 0
	var prevPkey scalar.Scalar

	for i := 0; i < n; i++ {
		pkey := ps.flattened.PKey(i)
		op := uint8(opCol.Uint(i))
		rowPreExisted := ps.lookup[i].Exists
		ps.prevPkeyEq[i] = pkey.Equal(prevPkey) || ps.flattened.Reinserted(i)
		ps.addedOffset[i] = added

		switch op {
		case table.OpInsert:
			rowPreExisted = rowPreExisted && !ps.prevPkeyEq[i]
			mask.AddInt(i)
			existedCol.SetBool(added, rowPreExisted)
			added++
		case table.OpDelete:
			if rowPreExisted {
				mask.AddInt(i)
				existedCol.SetBool(added, true)
				added++
			}
		default:
			panic(fmt.Sprintf("engine: unknown op %d at row %d", op, i))
		}

		prevPkey = pkey
	}

	if int(mask.GetCardinality()) != added {
		panic(fmt.Sprintf("engine: existence mask cardinality %d does not match added count %d",
			mask.GetCardinality(), added))
	}
	return mask
}

// procCols bundles the six per-column views one transitional write touches.
type procCols struct {
	f *column.Column // flattened (post-batch input)
	s *column.Column // master state (pre-batch)
	d *column.Column // delta: left cleared, filled by aggregating consumers
	p *column.Column // prev
	c *column.Column // current
	t *column.Column // transitions
}

// processColumn dispatches one column to its typed routine.
func (e *Engine) processColumn(cname string, ps *processState) {
	cols := procCols{
		f: ps.flattened.Column(cname),
		s: ps.master.Column(cname),
		d: ps.delta.Column(cname),
		p: ps.prev.Column(cname),
		c: ps.current.Column(cname),
		t: ps.transitions.Column(cname),
	}

	d := cols.f.DType()
	if d == scalar.DTypeStr {
		processColumnStr(ps, e.cfg, cols)
		return
	}
	switch d.Classify() {
	case scalar.ClassInt:
		processColumnFixed(ps, e.cfg, cols, (*column.Column).Int, (*column.Column).SetInt)
	case scalar.ClassUint:
		processColumnFixed(ps, e.cfg, cols, (*column.Column).Uint, (*column.Column).SetUint)
	case scalar.ClassFloat:
		processColumnFixed(ps, e.cfg, cols, (*column.Column).Float, (*column.Column).SetFloat)
	case scalar.ClassBool:
		processColumnFixed(ps, e.cfg, cols, (*column.Column).Bool, (*column.Column).SetBool)
	default:
		panic(fmt.Sprintf("engine: unsupported column dtype %s", d))
	}
}

// processColumnFixed is the width-typed inner routine for every fixed-width
// dtype. It runs once per column, possibly in parallel with its siblings,
// and touches only the slots the column owns.
func processColumnFixed[T comparable](ps *processState, cfg Config, cols procCols,
	get func(*column.Column, int) T, set func(*column.Column, int, T)) {
	opCol := ps.flattened.Column(table.OpColumn)
	n := ps.flattened.NumRows()

	for i := 0; i < n; i++ {
		op := uint8(opCol.Uint(i))
		j := ps.addedOffset[i]
		lk := ps.lookup[i]
		prevPkeyEq := ps.prevPkeyEq[i]

		switch op {
		case table.OpInsert:
			rowPreExisted := lk.Exists && !prevPkeyEq
			reinserted := prevPkeyEq && lk.Exists

			curValid := cols.f.IsValid(i)
			var cur T
			if curValid {
				cur = get(cols.f, i)
			}

			var prev T
			prevValid := false
			if lk.Exists {
				prevValid = cols.s.IsValid(lk.Idx)
				if prevValid {
					prev = get(cols.s, lk.Idx)
				}
			}

			exists := curValid
			prevExisted := rowPreExisted && prevValid
			prevCurEq := prevValid && curValid && prev == cur

			var trans Transition
			if reinserted {
				// Delete-then-insert collapsed within the batch: the cell is
				// present on both sides but did not survive in place.
				trans = TransNeqTDT
			} else {
				trans = cfg.CalcTransition(prevExisted, rowPreExisted, exists,
					prevValid, curValid, prevCurEq, prevPkeyEq)
			}

			if prevValid {
				set(cols.p, j, prev)
			}
			cols.p.SetValid(j, prevValid)

			if curValid {
				set(cols.c, j, cur)
			} else if prevValid {
				set(cols.c, j, prev)
			}
			cols.c.SetValid(j, curValid || prevValid)

			setTransition(cols.t, i, trans)
		case table.OpDelete:
			if lk.Exists {
				prevValid := cols.s.IsValid(lk.Idx)
				if prevValid {
					prev := get(cols.s, lk.Idx)
					set(cols.p, j, prev)
					set(cols.c, j, prev)
				}
				cols.p.SetValid(j, prevValid)
				cols.c.SetValid(j, prevValid)
				setTransition(cols.t, j, TransNeqTDF)
			}
		default:
			panic(fmt.Sprintf("engine: unknown op %d at row %d", op, i))
		}
	}
}

// processColumnStr is the string specialization: prev and current borrow the
// master column's vocabulary and transfer values by intern index, so the hot
// path never copies string bytes already known to the master.
func processColumnStr(ps *processState, cfg Config, cols procCols) {
	cols.p.BorrowVocabulary(cols.s)
	cols.c.BorrowVocabulary(cols.s)

	opCol := ps.flattened.Column(table.OpColumn)
	n := ps.flattened.NumRows()

	for i := 0; i < n; i++ {
		op := uint8(opCol.Uint(i))
		j := ps.addedOffset[i]
		lk := ps.lookup[i]
		prevPkeyEq := ps.prevPkeyEq[i]

		switch op {
		case table.OpInsert:
			rowPreExisted := lk.Exists && !prevPkeyEq
			reinserted := prevPkeyEq && lk.Exists

			curValid := cols.f.IsValid(i)
			var cur string
			if curValid {
				cur = cols.f.Str(i)
			}

			prevValid := false
			var prevIdx uint64
			var prevStr string
			if lk.Exists {
				prevValid = cols.s.IsValid(lk.Idx)
				if prevValid {
					prevIdx = cols.s.StrIndex(lk.Idx)
					prevStr = cols.s.Str(lk.Idx)
				}
			}

			exists := curValid
			prevExisted := rowPreExisted && prevValid
			prevCurEq := prevValid && curValid && prevStr == cur

			var trans Transition
			if reinserted {
				trans = TransNeqTDT
			} else {
				trans = cfg.CalcTransition(prevExisted, rowPreExisted, exists,
					prevValid, curValid, prevCurEq, prevPkeyEq)
			}

			if prevValid {
				cols.p.SetStrIndex(j, prevIdx)
			}
			cols.p.SetValid(j, prevValid)

			if curValid {
				cols.c.SetStr(j, cur)
			} else if prevValid {
				cols.c.SetStrIndex(j, prevIdx)
			}
			cols.c.SetValid(j, curValid || prevValid)

			setTransition(cols.t, i, trans)
		case table.OpDelete:
			if lk.Exists {
				prevValid := cols.s.IsValid(lk.Idx)
				if prevValid {
					prevIdx := cols.s.StrIndex(lk.Idx)
					cols.p.SetStrIndex(j, prevIdx)
					cols.c.SetStrIndex(j, prevIdx)
				}
				cols.p.SetValid(j, prevValid)
				cols.c.SetValid(j, prevValid)
				setTransition(cols.t, j, TransNeqTDF)
			}
		default:
			panic(fmt.Sprintf("engine: unknown op %d at row %d", op, i))
		}
	}
}

// setTransition writes the code at idx. Inserts address the transitions
// table by input index while deletes address it by output offset; an input
// index past the sized row count lands in reserved capacity in the original
// layout and is unobservable, so the write is dropped rather than widened.
func setTransition(tcol *column.Column, idx int, tr Transition) {
	if idx < tcol.Size() {
		tcol.SetUint(idx, uint64(tr))
	}
}
