// Package port implements the buffered input/output holder wrapping a single
// data table. Input ports accumulate primary-keyed fragments between update
// cycles; output ports hold the transitional snapshots published by the
// processor.
package port

import (
	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/table"
)

// Mode selects the port's semantics.
type Mode uint8

const (
	// ModePKeyed marks an input port: its table carries psp_pkey/psp_op and
	// supports flattening.
	ModePKeyed Mode = iota
	// ModeRaw marks an output port holding a transitional snapshot.
	ModeRaw
)

// Port is a thin ring around one data table with mode-aware release
// semantics.
type Port struct {
	mode   Mode
	schema *table.Schema
	tbl    *table.Table

	// Set when a previously published snapshot may still be referenced by a
	// consumer, in which case ReleaseOrClear reinitializes instead of
	// truncating in place.
	snapshotHeld bool
}

// New creates an initialized port over an empty table of the given schema.
func New(mode Mode, s *table.Schema) *Port {
	return &Port{mode: mode, schema: s.Clone(), tbl: table.New(s, 0)}
}

func (p *Port) Mode() Mode            { return p.mode }
func (p *Port) Schema() *table.Schema { return p.schema }

// Table returns the port's current table.
func (p *Port) Table() *table.Table { return p.tbl }

// SetTable replaces the port's table with a published snapshot. The port
// remembers that the snapshot escaped to consumers.
func (p *Port) SetTable(t *table.Table) {
	p.tbl = t
	p.snapshotHeld = true
}

// Send appends the fragment's rows to the buffered table.
func (p *Port) Send(fragment *table.Table) {
	p.tbl.AppendRows(fragment)
}

// Flatten returns the deduplicated snapshot of the buffered rows.
func (p *Port) Flatten() *table.Table {
	return p.tbl.Flatten()
}

// Release truncates the buffered table in place.
func (p *Port) Release() {
	p.tbl.Clear()
	p.snapshotHeld = false
}

// ReleaseOrClear truncates when no consumer may still hold the previous
// snapshot, and otherwise reinitializes the table so the snapshot survives.
func (p *Port) ReleaseOrClear() {
	if p.snapshotHeld {
		p.tbl = table.New(p.schema, 0)
		p.snapshotHeld = false
		return
	}
	p.tbl.Clear()
}

// Promote widens a column of the buffered table and the port schema.
func (p *Port) Promote(name string, to scalar.DType) {
	p.tbl.PromoteColumn(name, to)
	p.schema.Retype(name, to)
}
