// Package expression implements derived columns: user-supplied computations
// evaluated row-by-row against a data table and materialized into a column
// carrying the expression's alias. String-valued expressions share one
// engine-wide vocabulary so indices remain comparable across every table the
// expression is computed on.
package expression

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/deltatable/pkg/column"
	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/state"
	"github.com/l7mp/deltatable/pkg/table"
	"github.com/l7mp/deltatable/pkg/vocab"
)

// EvalCtx is handed to the evaluator for each row. The evaluator may read
// any column of Table but must not mutate it.
type EvalCtx struct {
	Table *table.Table
	Row   int
	Vocab *vocab.Vocabulary
	Log   logr.Logger
}

// EvalFunc computes one cell of a derived column. Returning an invalid
// scalar clears the cell; evaluators are total and never panic on row data.
type EvalFunc func(ctx EvalCtx) scalar.Scalar

// Computed is a single derived-column specification. The parser that builds
// evaluators from expression source lives outside the kernel; the engine
// sees only the compiled form.
type Computed struct {
	alias string
	dtype scalar.DType
	eval  EvalFunc
	vocab *vocab.Vocabulary
	log   logr.Logger
}

// NewComputed wraps an evaluator as a registrable expression.
func NewComputed(alias string, dtype scalar.DType, eval EvalFunc) *Computed {
	return &Computed{alias: alias, dtype: dtype, eval: eval, log: logr.Discard()}
}

func (e *Computed) Alias() string       { return e.alias }
func (e *Computed) DType() scalar.DType { return e.dtype }

// bind attaches the registry's shared vocabulary and logger.
func (e *Computed) bind(v *vocab.Vocabulary, log logr.Logger) {
	e.vocab = v
	e.log = log
}

// Compute evaluates the expression for every row of tbl, materializing the
// alias column (adding it when absent).
func (e *Computed) Compute(tbl *table.Table) {
	col := e.MaterializeColumn(tbl)
	for i := 0; i < tbl.NumRows(); i++ {
		e.writeCell(col, i, tbl, i)
	}
}

// Recompute refreshes the alias column for one incremental batch: every
// flattened row gets its post-batch value, and master rows whose keys
// resolved to existing indices get their pre-batch value refreshed. This
// gives the per-column transitional writes consistent pre- and post-batch
// reads, and rows new to the batch carry their value into the master on
// insert.
func (e *Computed) Recompute(master *state.State, flattened *table.Table, lookup []state.RLookup) {
	mtbl := master.Table()
	mcol := e.MaterializeColumn(mtbl)
	fcol := e.MaterializeColumn(flattened)
	for i, lk := range lookup {
		if lk.Exists {
			e.writeCell(mcol, lk.Idx, mtbl, lk.Idx)
		}
		e.writeCell(fcol, i, flattened, i)
	}
}

// MaterializeColumn ensures the alias column exists on tbl, binding
// string-valued expressions to the shared vocabulary, and returns it.
func (e *Computed) MaterializeColumn(tbl *table.Table) *column.Column {
	col := tbl.AddColumn(e.alias, e.dtype, true)
	if e.dtype == scalar.DTypeStr && e.vocab != nil {
		col.AdoptVocabulary(e.vocab)
	}
	return col
}

func (e *Computed) writeCell(col *column.Column, at int, tbl *table.Table, row int) {
	v := e.eval(EvalCtx{Table: tbl, Row: row, Vocab: e.vocab, Log: e.log})
	col.SetScalar(at, v)
}
